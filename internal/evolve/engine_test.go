package evolve

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/config"
	"aegis/internal/dataset"
	"aegis/internal/deploy"
	"aegis/internal/history"
	"aegis/internal/market"
	"aegis/internal/report"
	"aegis/internal/template"
)

const fixtureTemplates = `templates:
  sma-cross:
    description: simple sma breakout
    body: |
      indicators:
        base = sma(close, {period})
      entry:
        close > base
      exit:
        close < base
    params:
      period:
        kind: integer
        low: 2
        high: 10
`

// 正弦走势让均线突破策略反复开平仓。
func writeFixtureData(t *testing.T, dir string) {
	t.Helper()
	series := make(market.Series, 300)
	base := int64(1_700_000_000_000)
	for i := range series {
		price := 100 + 10*math.Sin(float64(i)/8)
		series[i] = market.Candle{
			OpenTime:  base + int64(i)*300_000,
			CloseTime: base + int64(i+1)*300_000 - 1,
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    50,
		}
	}
	raw, err := json.Marshal(series)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BTCUSDT-5m.json"), raw, 0o644))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	root := t.TempDir()

	dataDir := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	writeFixtureData(t, dataDir)

	tplPath := filepath.Join(root, "templates.yaml")
	require.NoError(t, os.WriteFile(tplPath, []byte(fixtureTemplates), 0o644))

	loader, err := dataset.NewLoader(dataDir, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = loader.Close() })

	registry, err := template.NewRegistry(tplPath)
	require.NoError(t, err)

	hist, err := history.NewStore(filepath.Join(root, "evolution.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	deployer, err := deploy.NewDeployer(filepath.Join(root, "strategies"))
	require.NoError(t, err)

	reports, err := report.NewBuilder(filepath.Join(root, "reports"))
	require.NoError(t, err)

	cfg := &config.Config{
		Data: config.DataConfig{
			Dir: dataDir, Symbol: "BTCUSDT", Timeframe: "5m", LookbackDays: 30,
		},
		Evolve: config.EvolveConfig{
			PopulationSize:  10,
			Offsprings:      4,
			Generations:     3,
			MinTrades:       2,
			Seed:            1,
			SelectorEpsilon: 0.05,
			Workers:         2,
		},
	}
	eng, err := NewEngine(Options{
		Config:   cfg,
		Loader:   loader,
		Registry: registry,
		History:  hist,
		Deployer: deployer,
		Reports:  reports,
	})
	require.NoError(t, err)
	return eng
}

func TestEngine_Run(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	res, err := eng.Run(ctx, Request{TemplateID: "sma-cross", Deploy: true})
	require.NoError(t, err)

	require.NotNil(t, res.Outcome)
	assert.NotEmpty(t, res.RunID)
	assert.NotEmpty(t, res.Outcome.Front)
	assert.Equal(t, "BTCUSDT", res.Outcome.Symbol)
	assert.Equal(t, "5m", res.Outcome.Timeframe)
	assert.Equal(t, int64(1), res.Outcome.Seed)

	// 胜出参数落在声明区间内
	p := res.Outcome.Params["period"]
	assert.GreaterOrEqual(t, p, 2.0)
	assert.LessOrEqual(t, p, 10.0)

	// 历史落库可回读
	rec, err := eng.history.ByRunID(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "sma-cross", rec.TemplateID)
	assert.Equal(t, res.Accepted, rec.Accepted)

	// 报告文件存在
	if res.ReportPath != "" {
		_, err := os.Stat(res.ReportPath)
		assert.NoError(t, err)
	}
}

func TestEngine_Run_Reproducible(t *testing.T) {
	ctx := context.Background()
	r1, err := newTestEngine(t).Run(ctx, Request{TemplateID: "sma-cross"})
	require.NoError(t, err)
	r2, err := newTestEngine(t).Run(ctx, Request{TemplateID: "sma-cross"})
	require.NoError(t, err)

	assert.Equal(t, r1.Outcome.Params, r2.Outcome.Params)
	assert.Equal(t, r1.Outcome.Result, r2.Outcome.Result)
}

func TestEngine_Run_UnknownTemplate(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Run(context.Background(), Request{TemplateID: "nope"})
	require.Error(t, err)
}

func TestEngine_Run_MissingDataIsFatal(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Run(context.Background(), Request{TemplateID: "sma-cross", Symbol: "DOGEUSDT"})
	require.Error(t, err)
	assert.ErrorIs(t, err, dataset.ErrDataNotFound)
}
