package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/market"
	"aegis/internal/signal"
)

func candles(closes ...float64) market.Series {
	s := make(market.Series, len(closes))
	for i, c := range closes {
		s[i] = market.Candle{
			OpenTime: int64(i) * 60_000,
			Open:     c, High: c, Low: c, Close: c, Volume: 1,
		}
	}
	return s
}

func sig(enter, exit []bool) *signal.SignalSeries {
	return &signal.SignalSeries{Enter: enter, Exit: exit}
}

func TestSimulate_SingleRoundTrip(t *testing.T) {
	series := candles(100, 110, 120, 110)
	s := sig(
		[]bool{false, true, false, false},
		[]bool{false, false, true, false},
	)
	rep, err := Simulate(s, series)
	require.NoError(t, err)

	require.Equal(t, 1, rep.Result.TotalTrades)
	assert.InDelta(t, 120.0/110.0-1, rep.Result.ProfitRatio, 1e-9)
	assert.Equal(t, 1.0, rep.Result.WinRate)
	assert.Equal(t, 0.0, rep.Result.MaxDrawdown)

	require.Len(t, rep.Trades, 1)
	assert.InDelta(t, 110, rep.Trades[0].EntryPrice, 1e-9)
	assert.InDelta(t, 120, rep.Trades[0].ExitPrice, 1e-9)
}

func TestSimulate_EdgeDetectionIgnoresHeldSignal(t *testing.T) {
	// enter 连续为真：只有 false->true 的沿触发开仓，且持仓中不加仓。
	series := candles(100, 100, 100, 100, 120)
	s := sig(
		[]bool{false, true, true, true, false},
		[]bool{false, false, false, false, true},
	)
	rep, err := Simulate(s, series)
	require.NoError(t, err)

	require.Equal(t, 1, rep.Result.TotalTrades)
	assert.InDelta(t, 0.2, rep.Trades[0].Profit, 1e-9)
}

func TestSimulate_OpenPositionAtEndExcluded(t *testing.T) {
	series := candles(100, 110, 150)
	s := sig(
		[]bool{false, true, false},
		[]bool{false, false, false},
	)
	rep, err := Simulate(s, series)
	require.NoError(t, err)

	// 未平仓头寸不计入指标，等同零成交。
	assert.Equal(t, ZeroTradeResult(), rep.Result)
	assert.Empty(t, rep.Trades)
}

func TestSimulate_ZeroTradeSentinel(t *testing.T) {
	series := candles(100, 100, 100)
	s := sig(make([]bool, 3), make([]bool, 3))
	rep, err := Simulate(s, series)
	require.NoError(t, err)

	assert.Equal(t, Result{ProfitRatio: -1.0, MaxDrawdown: 1.0, WinRate: 0, TotalTrades: 0}, rep.Result)
}

func TestSimulate_DrawdownAndWinRate(t *testing.T) {
	// 两笔交易：+10% 再 -20%，峰值回撤 20%。
	series := candles(100, 110, 100, 80, 100)
	s := sig(
		[]bool{true, false, true, false, false},
		[]bool{false, true, false, true, false},
	)
	rep, err := Simulate(s, series)
	require.NoError(t, err)

	require.Equal(t, 2, rep.Result.TotalTrades)
	assert.InDelta(t, 0.5, rep.Result.WinRate, 1e-9)
	assert.InDelta(t, 1.1*0.8-1, rep.Result.ProfitRatio, 1e-9)
	assert.InDelta(t, 0.2, rep.Result.MaxDrawdown, 1e-9)
}

func TestSimulate_LengthMismatch(t *testing.T) {
	series := candles(100, 110)
	s := sig([]bool{true}, []bool{false})
	_, err := Simulate(s, series)
	require.Error(t, err)
}

func TestSignalEdges_PrefilterRows(t *testing.T) {
	s := sig(
		[]bool{true, true, false, true, false},
		[]bool{false, false, true, true, true},
	)
	edges := signalEdges(s)
	require.Len(t, edges, 3)
	assert.Equal(t, signalEdge{row: 0, enter: true}, edges[0])
	assert.Equal(t, signalEdge{row: 2, exit: true}, edges[1])
	assert.Equal(t, signalEdge{row: 3, enter: true}, edges[2])
}

func TestSimulate_SameRowDoubleEdge(t *testing.T) {
	// 同根双沿：FLAT 只开仓不当根平仓，持仓只平仓不反手。
	series := candles(100, 100, 120, 120)
	s := sig(
		[]bool{true, false, true, false},
		[]bool{true, false, true, false},
	)
	rep, err := Simulate(s, series)
	require.NoError(t, err)

	require.Equal(t, 1, rep.Result.TotalTrades)
	assert.InDelta(t, 100, rep.Trades[0].EntryPrice, 1e-9)
	assert.InDelta(t, 120, rep.Trades[0].ExitPrice, 1e-9)
}
