package backtest

import (
	"fmt"

	"aegis/internal/market"
	"aegis/internal/signal"
)

// Result 是一次回测的聚合指标。
// 零成交时返回哨兵值 {-1, 1, 0, 0}，让优化器把空策略压到支配前沿之外。
type Result struct {
	ProfitRatio float64 `json:"profit_ratio"`
	MaxDrawdown float64 `json:"max_drawdown"`
	WinRate     float64 `json:"win_rate"`
	TotalTrades int     `json:"total_trades"`
}

// ZeroTradeResult 是无成交哨兵。
func ZeroTradeResult() Result {
	return Result{ProfitRatio: -1.0, MaxDrawdown: 1.0, WinRate: 0, TotalTrades: 0}
}

// Trade 记录一笔已平仓交易。
type Trade struct {
	EntryTime  int64   `json:"entry_time"`
	ExitTime   int64   `json:"exit_time"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	Profit     float64 `json:"profit"`
}

// EquityPoint 是每笔平仓后的资金曲线采样。
type EquityPoint struct {
	Time   int64   `json:"time"`
	Equity float64 `json:"equity"`
}

// Report 在 Result 之外携带逐笔明细与资金曲线，供报表使用。
type Report struct {
	Result Result
	Trades []Trade
	Equity []EquityPoint
}

const initialEquity = 100.0

// Simulate 在单一序列上推演两态仓位机：FLAT / IN_POSITION。
// 只在信号沿上动作（当前为真且前一根为假），同根 K 线以收盘价成交，
// 不加仓；序列结束仍未平仓的头寸不计入任何指标。
func Simulate(sig *signal.SignalSeries, series market.Series) (Report, error) {
	n := len(series)
	if n == 0 {
		return Report{}, fmt.Errorf("K 线序列为空")
	}
	if len(sig.Enter) != n || len(sig.Exit) != n {
		return Report{}, fmt.Errorf("信号列与 K 线长度不一致: enter=%d exit=%d candles=%d",
			len(sig.Enter), len(sig.Exit), n)
	}

	rep := Report{
		Equity: []EquityPoint{{Time: series[0].OpenTime, Equity: initialEquity}},
	}
	equity := initialEquity
	inPosition := false
	var entryPrice float64
	var entryTime int64

	// 仓位机只遍历信号沿所在的行，非沿行对状态没有影响。
	for _, e := range signalEdges(sig) {
		if !inPosition {
			if e.enter {
				inPosition = true
				entryPrice = series[e.row].Close
				entryTime = series[e.row].OpenTime
			}
			continue
		}
		if e.exit {
			exitPrice := series[e.row].Close
			profit := (exitPrice - entryPrice) / entryPrice
			equity *= 1 + profit
			rep.Trades = append(rep.Trades, Trade{
				EntryTime:  entryTime,
				ExitTime:   series[e.row].OpenTime,
				EntryPrice: entryPrice,
				ExitPrice:  exitPrice,
				Profit:     profit,
			})
			rep.Equity = append(rep.Equity, EquityPoint{Time: series[e.row].OpenTime, Equity: equity})
			inPosition = false
		}
	}

	if len(rep.Trades) == 0 {
		rep.Result = ZeroTradeResult()
		return rep, nil
	}

	wins := 0
	for _, t := range rep.Trades {
		if t.Profit > 0 {
			wins++
		}
	}
	rep.Result = Result{
		ProfitRatio: equity/initialEquity - 1,
		MaxDrawdown: maxDrawdown(rep.Equity),
		WinRate:     float64(wins) / float64(len(rep.Trades)),
		TotalTrades: len(rep.Trades),
	}
	return rep, nil
}

type signalEdge struct {
	row   int
	enter bool
	exit  bool
}

// signalEdges 预筛出所有出现信号沿的行。
// 沿指当前为真且前一根为假，第 0 根没有前一根，信号为真即视为沿。
func signalEdges(sig *signal.SignalSeries) []signalEdge {
	edges := make([]signalEdge, 0, 16)
	for i := range sig.Enter {
		enter := sig.Enter[i] && (i == 0 || !sig.Enter[i-1])
		exit := sig.Exit[i] && (i == 0 || !sig.Exit[i-1])
		if enter || exit {
			edges = append(edges, signalEdge{row: i, enter: enter, exit: exit})
		}
	}
	return edges
}

// maxDrawdown 按峰值回撤法计算，结果非负。
func maxDrawdown(curve []EquityPoint) float64 {
	peak := curve[0].Equity
	dd := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if d := (peak - p.Equity) / peak; d > dd {
				dd = d
			}
		}
	}
	return dd
}
