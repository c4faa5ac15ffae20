package signal

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

// value 是求值过程中的中间结果：标量、数值序列或布尔序列。
type value struct {
	scalar bool
	f      float64
	series []float64
	bools  []bool
	isBool bool
}

func scalarValue(f float64) value   { return value{scalar: true, f: f} }
func seriesValue(s []float64) value { return value{series: s} }
func boolValue(b []bool) value      { return value{bools: b, isBool: true} }

// broadcast 把标量展开为与序列等长的列。
func (v value) broadcast(n int) []float64 {
	if !v.scalar {
		return v.series
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = v.f
	}
	return out
}

type builtin struct {
	minArgs int
	maxArgs int
	apply   func(n int, args []value) (value, error)
}

// builtins 是指标白名单。模板只能调用这里列出的函数，
// 任何其它标识符在编译期就会被拒绝。
var builtins = map[string]builtin{
	"rsi":         {2, 2, applyRSI},
	"ema":         {2, 2, singleSeries(talib.Ema, periodWarmupLessOne)},
	"sma":         {2, 2, singleSeries(talib.Sma, periodWarmupLessOne)},
	"wma":         {2, 2, singleSeries(talib.Wma, periodWarmupLessOne)},
	"highest":     {2, 2, singleSeries(talib.Max, periodWarmupLessOne)},
	"lowest":      {2, 2, singleSeries(talib.Min, periodWarmupLessOne)},
	"atr":         {4, 4, applyATR},
	"macd":        {4, 4, applyMACDPart(0)},
	"macd_signal": {4, 4, applyMACDPart(1)},
	"macd_hist":   {4, 4, applyMACDPart(2)},
	"bb_upper":    {3, 3, applyBBandsPart(0)},
	"bb_middle":   {3, 3, applyBBandsPart(1)},
	"bb_lower":    {3, 3, applyBBandsPart(2)},
	"crossover":   {2, 2, applyCross(true)},
	"crossunder":  {2, 2, applyCross(false)},
}

func periodWarmup(period int) int        { return period }
func periodWarmupLessOne(period int) int { return period - 1 }

// singleSeries 包装 (序列, 周期) -> 序列 的 talib 函数，并把
// warmup 区间填为 NaN，避免 talib 的前导 0 触发虚假信号。
func singleSeries(fn func([]float64, int) []float64, warmup func(int) int) func(int, []value) (value, error) {
	return func(n int, args []value) (value, error) {
		src, err := numericArg(args[0], n)
		if err != nil {
			return value{}, err
		}
		period, err := intArg(args[1])
		if err != nil {
			return value{}, err
		}
		if period <= 0 || period > len(src) {
			return value{}, compileErrf("周期 %d 超出序列长度 %d", period, len(src))
		}
		out := fn(src, period)
		return seriesValue(maskWarmup(out, warmup(period))), nil
	}
}

func applyRSI(n int, args []value) (value, error) {
	return singleSeries(talib.Rsi, periodWarmup)(n, args)
}

func applyATR(n int, args []value) (value, error) {
	high, err := numericArg(args[0], n)
	if err != nil {
		return value{}, err
	}
	low, err := numericArg(args[1], n)
	if err != nil {
		return value{}, err
	}
	cl, err := numericArg(args[2], n)
	if err != nil {
		return value{}, err
	}
	period, err := intArg(args[3])
	if err != nil {
		return value{}, err
	}
	if period <= 0 || period >= len(cl) {
		return value{}, compileErrf("atr 周期 %d 超出序列长度 %d", period, len(cl))
	}
	return seriesValue(maskWarmup(talib.Atr(high, low, cl, period), period)), nil
}

func applyMACDPart(part int) func(int, []value) (value, error) {
	return func(n int, args []value) (value, error) {
		src, err := numericArg(args[0], n)
		if err != nil {
			return value{}, err
		}
		fast, err := intArg(args[1])
		if err != nil {
			return value{}, err
		}
		slow, err := intArg(args[2])
		if err != nil {
			return value{}, err
		}
		sig, err := intArg(args[3])
		if err != nil {
			return value{}, err
		}
		if fast <= 0 || slow <= fast || sig <= 0 || slow+sig > len(src) {
			return value{}, compileErrf("macd 参数非法: fast=%d slow=%d signal=%d", fast, slow, sig)
		}
		macd, signalLine, hist := talib.Macd(src, fast, slow, sig)
		warm := slow + sig - 2
		switch part {
		case 0:
			return seriesValue(maskWarmup(macd, warm)), nil
		case 1:
			return seriesValue(maskWarmup(signalLine, warm)), nil
		default:
			return seriesValue(maskWarmup(hist, warm)), nil
		}
	}
}

func applyBBandsPart(part int) func(int, []value) (value, error) {
	return func(n int, args []value) (value, error) {
		src, err := numericArg(args[0], n)
		if err != nil {
			return value{}, err
		}
		period, err := intArg(args[1])
		if err != nil {
			return value{}, err
		}
		dev, err := floatArg(args[2])
		if err != nil {
			return value{}, err
		}
		if period <= 0 || period > len(src) {
			return value{}, compileErrf("bbands 周期 %d 超出序列长度 %d", period, len(src))
		}
		upper, middle, lower := talib.BBands(src, period, dev, dev, talib.SMA)
		warm := period - 1
		switch part {
		case 0:
			return seriesValue(maskWarmup(upper, warm)), nil
		case 1:
			return seriesValue(maskWarmup(middle, warm)), nil
		default:
			return seriesValue(maskWarmup(lower, warm)), nil
		}
	}
}

// applyCross 生成 crossover/crossunder：当前越过且前一根未越过。
func applyCross(up bool) func(int, []value) (value, error) {
	return func(n int, args []value) (value, error) {
		a, err := numericArg(args[0], n)
		if err != nil {
			return value{}, err
		}
		b := args[1].broadcast(n)
		if len(b) != len(a) {
			return value{}, compileErrf("crossover 两列长度不一致: %d vs %d", len(a), len(b))
		}
		out := make([]bool, len(a))
		for i := 1; i < len(a); i++ {
			if anyNaN(a[i], b[i], a[i-1], b[i-1]) {
				continue
			}
			if up {
				out[i] = a[i] > b[i] && a[i-1] <= b[i-1]
			} else {
				out[i] = a[i] < b[i] && a[i-1] >= b[i-1]
			}
		}
		return boolValue(out), nil
	}
}

func maskWarmup(series []float64, warmup int) []float64 {
	if warmup > len(series) {
		warmup = len(series)
	}
	for i := 0; i < warmup; i++ {
		series[i] = math.NaN()
	}
	return series
}

func numericArg(v value, n int) ([]float64, error) {
	if v.isBool {
		return nil, compileErrf("该参数需要数值列，得到布尔列")
	}
	if v.scalar {
		return v.broadcast(n), nil
	}
	return v.series, nil
}

func intArg(v value) (int, error) {
	if !v.scalar || v.isBool {
		return 0, compileErrf("该参数需要数值常量")
	}
	return int(math.Round(v.f)), nil
}

func floatArg(v value) (float64, error) {
	if !v.scalar || v.isBool {
		return 0, compileErrf("该参数需要数值常量")
	}
	return v.f, nil
}

func anyNaN(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
