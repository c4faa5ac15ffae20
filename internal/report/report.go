package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"aegis/internal/backtest"
	"aegis/internal/optimize"
)

const (
	colorEquity = "#3b82f6"
	colorFront  = "#fbbf24"
	colorWinner = "#34d399"

	chartWidth  = "1200px"
	chartHeight = "480px"
)

// Builder 把一次演化的结果渲染成静态 HTML 报告：
// 胜出参数的资金曲线 + 帕累托前沿散点。
type Builder struct {
	dir string
}

func NewBuilder(dir string) (*Builder, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("report: 输出目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: 创建输出目录失败: %w", err)
	}
	return &Builder{dir: dir}, nil
}

// Write 渲染报告并返回生成的文件路径。
func (b *Builder) Write(runID string, outcome *optimize.Outcome, winnerIdx int, rep backtest.Report) (string, error) {
	if outcome == nil || len(outcome.Front) == 0 {
		return "", fmt.Errorf("report: 结果为空")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		b.equityChart(outcome, rep),
		b.frontChart(outcome, winnerIdx),
	)

	path := filepath.Join(b.dir, fmt.Sprintf("%s.html", runID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("report: 创建报告文件失败: %w", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return "", fmt.Errorf("report: 渲染失败: %w", err)
	}
	return path, nil
}

func (b *Builder) equityChart(outcome *optimize.Outcome, rep backtest.Report) components.Charter {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  chartWidth,
			Height: chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s %s 资金曲线", outcome.Symbol, outcome.Timeframe),
			Subtitle: fmt.Sprintf("seed=%d generations=%d trades=%d",
				outcome.Seed, outcome.Generations, rep.Result.TotalTrades),
			Left: "left",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)

	xAxis := make([]string, len(rep.Equity))
	data := make([]opts.LineData, len(rep.Equity))
	for i, p := range rep.Equity {
		xAxis[i] = time.UnixMilli(p.Time).UTC().Format("01-02 15:04")
		data[i] = opts.LineData{Value: p.Equity}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	return line
}

func (b *Builder) frontChart(outcome *optimize.Outcome, winnerIdx int) components.Charter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  chartWidth,
			Height: chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{
			Title: "帕累托前沿",
			Left:  "left",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "max drawdown", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "profit ratio", Type: "value", Scale: opts.Bool(true)}),
	)

	var front, winner []opts.ScatterData
	for i, ind := range outcome.Front {
		d := opts.ScatterData{
			Value:      []interface{}{ind.Result.MaxDrawdown, ind.Result.ProfitRatio},
			SymbolSize: 10,
		}
		if i == winnerIdx {
			d.SymbolSize = 16
			winner = append(winner, d)
			continue
		}
		front = append(front, d)
	}
	scatter.AddSeries("front", front,
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorFront}))
	scatter.AddSeries("winner", winner,
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorWinner}))
	return scatter
}
