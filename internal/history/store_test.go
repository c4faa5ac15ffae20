package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/backtest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "evolution.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &EvolutionRecord{
		RunID:       "run-1",
		TemplateID:  "sma-cross",
		Symbol:      "BTCUSDT",
		Timeframe:   "5m",
		Seed:        1,
		Generations: 20,
		Accepted:    true,
	}
	result := backtest.Result{ProfitRatio: 0.12, MaxDrawdown: 0.08, WinRate: 0.6, TotalTrades: 15}
	require.NoError(t, s.Record(ctx, rec, map[string]float64{"period": 14}, result))

	got, err := s.ByRunID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.False(t, got.CreatedAt.IsZero())

	var metrics backtest.Result
	require.NoError(t, json.Unmarshal(got.Metrics, &metrics))
	assert.Equal(t, result, metrics)

	var params map[string]float64
	require.NoError(t, json.Unmarshal(got.Params, &params))
	assert.Equal(t, 14.0, params["period"])
}

func TestStore_RecentOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, runID := range []string{"a", "b", "c"} {
		rec := &EvolutionRecord{RunID: runID, Symbol: "ETHUSDT", Seed: int64(i)}
		require.NoError(t, s.Record(ctx, rec, nil, backtest.Result{}))
	}

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].RunID)
	assert.Equal(t, "b", recent[1].RunID)

	bySym, err := s.BySymbol(ctx, "ETHUSDT", 10)
	require.NoError(t, err)
	assert.Len(t, bySym, 3)
}

func TestStore_DuplicateRunIDRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &EvolutionRecord{RunID: "dup"}
	require.NoError(t, s.Record(ctx, rec, nil, backtest.Result{}))
	err := s.Record(ctx, &EvolutionRecord{RunID: "dup"}, nil, backtest.Result{})
	require.Error(t, err)
}
