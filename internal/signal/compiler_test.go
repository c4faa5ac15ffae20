package signal

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/market"
	"aegis/internal/template"
)

func makeSeries(closes ...float64) market.Series {
	s := make(market.Series, len(closes))
	for i, c := range closes {
		s[i] = market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i+1)*60_000 - 1,
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    100,
		}
	}
	return s
}

func smaTemplate() *template.Template {
	return &template.Template{
		ID: "sma-cross",
		Body: `
indicators:
  base = sma(close, {period})
entry:
  close > base
exit:
  close < base
`,
		Params: template.ParamDefs{
			"period": {Kind: template.KindInteger, Low: 2, High: 50},
		},
	}
}

func TestCompile_RendersLiterals(t *testing.T) {
	t.Run("integer gene has no decimal point", func(t *testing.T) {
		p, err := Compile(smaTemplate(), map[string]float64{"period": 14.0})
		require.NoError(t, err)
		assert.Contains(t, p.Rendered, "sma(close, 14)")
		assert.NotContains(t, p.Rendered, "14.")
	})

	t.Run("float gene keeps shortest form", func(t *testing.T) {
		tpl := &template.Template{
			ID:   "bb",
			Body: "indicators:\n upper = bb_upper(close, 20, {dev})\nentry:\n close > upper\nexit:\n close < upper\n",
			Params: template.ParamDefs{
				"dev": {Kind: template.KindFloat, Low: 1, High: 3},
			},
		}
		p, err := Compile(tpl, map[string]float64{"dev": 2.5})
		require.NoError(t, err)
		assert.Contains(t, p.Rendered, "bb_upper(close, 20, 2.5)")
	})
}

func TestCompile_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		values map[string]float64
	}{
		{
			name:   "unbound placeholder",
			body:   "indicators:\n base = sma(close, {period})\nentry:\n close > {other}\nexit:\n close < base\n",
			values: map[string]float64{"period": 5},
		},
		{
			name:   "missing entry stage",
			body:   "indicators:\n base = sma(close, {period})\nexit:\n close < base\n",
			values: map[string]float64{"period": 5},
		},
		{
			name:   "unknown function",
			body:   "indicators:\n base = zscore(close, {period})\nentry:\n close > base\nexit:\n close < base\n",
			values: map[string]float64{"period": 5},
		},
		{
			name:   "unknown identifier",
			body:   "indicators:\n base = sma(close, {period})\nentry:\n typo > base\nexit:\n close < base\n",
			values: map[string]float64{"period": 5},
		},
		{
			name:   "indicator name shadows column",
			body:   "indicators:\n close = sma(close, {period})\nentry:\n close > 0\nexit:\n close < 0\n",
			values: map[string]float64{"period": 5},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tpl := &template.Template{
				ID:     "bad",
				Body:   tc.body,
				Params: template.ParamDefs{"period": {Kind: template.KindInteger, Low: 2, High: 50}},
			}
			_, err := Compile(tpl, tc.values)
			require.Error(t, err)
			var ce *CompileError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestPipeline_Run_SMA(t *testing.T) {
	p, err := Compile(smaTemplate(), map[string]float64{"period": 2})
	require.NoError(t, err)

	out, err := p.Run(makeSeries(10, 11, 12, 11, 10, 12))
	require.NoError(t, err)

	// sma(close,2) = [NaN, 10.5, 11.5, 11.5, 10.5, 11]
	assert.Equal(t, []bool{false, true, true, false, false, true}, out.Enter)
	assert.Equal(t, []bool{false, false, false, true, true, false}, out.Exit)

	base := out.Columns["base"]
	require.Len(t, base, 6)
	assert.True(t, math.IsNaN(base[0]))
	assert.InDelta(t, 10.5, base[1], 1e-9)
}

func TestPipeline_Run_Crossover(t *testing.T) {
	tpl := &template.Template{
		ID:   "level-cross",
		Body: "indicators:\n lvl = {level} + 0\nentry:\n crossover(close, {level})\nexit:\n crossunder(close, {level})\n",
		Params: template.ParamDefs{
			"level": {Kind: template.KindFloat, Low: 0, High: 100},
		},
	}
	p, err := Compile(tpl, map[string]float64{"level": 11})
	require.NoError(t, err)

	out, err := p.Run(makeSeries(10, 12, 10, 12))
	require.NoError(t, err)

	assert.Equal(t, []bool{false, true, false, true}, out.Enter)
	assert.Equal(t, []bool{false, false, true, false}, out.Exit)
}

func TestPipeline_Run_WarmupNeverSignals(t *testing.T) {
	tpl := &template.Template{
		ID:   "rsi",
		Body: "indicators:\n r = rsi(close, {period})\nentry:\n r > 0\nexit:\n r < 20\n",
		Params: template.ParamDefs{
			"period": {Kind: template.KindInteger, Low: 2, High: 50},
		},
	}
	p, err := Compile(tpl, map[string]float64{"period": 3})
	require.NoError(t, err)

	out, err := p.Run(makeSeries(10, 11, 12, 13, 14, 15, 16, 17))
	require.NoError(t, err)

	// warmup 行与 NaN 比较恒为假
	for i := 0; i < 3; i++ {
		assert.False(t, out.Enter[i], "warmup row %d", i)
		assert.False(t, out.Exit[i], "warmup row %d", i)
	}
	assert.True(t, out.Enter[5])
}

func TestCompile_SharedTemplateConcurrent(t *testing.T) {
	tpl := smaTemplate()
	before := *tpl

	var wg sync.WaitGroup
	rendered := make([]string, 16)
	errs := make([]error, 16)
	for i := range rendered {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := Compile(tpl, map[string]float64{"period": float64(2 + i)})
			if err != nil {
				errs[i] = err
				return
			}
			rendered[i] = p.Rendered
		}(i)
	}
	wg.Wait()

	for i := range rendered {
		require.NoError(t, errs[i])
		assert.Contains(t, rendered[i], fmt.Sprintf("sma(close, %d)", 2+i))
	}
	// Compile 不得改写共享模板
	assert.Equal(t, before, *tpl)
}

func TestCompile_UntrimmedTemplateLeftIntact(t *testing.T) {
	tpl := smaTemplate()
	tpl.ID = "  sma-cross  "
	tpl.Body = "\n" + tpl.Body + "\n"
	rawID, rawBody := tpl.ID, tpl.Body

	p, err := Compile(tpl, map[string]float64{"period": 5})
	require.NoError(t, err)
	assert.Equal(t, "sma-cross", p.TemplateID)
	assert.Equal(t, rawID, tpl.ID)
	assert.Equal(t, rawBody, tpl.Body)
}
