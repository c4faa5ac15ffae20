package market

import (
	"fmt"
	"time"
)

// Candle 表示一根 K 线（毫秒时间戳）。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Series 是按 OpenTime 升序排列的不可变 K 线序列。
// 由 dataset.Loader 构造并缓存，调用方只应持有副本。
type Series []Candle

// Validate 检查时间戳严格递增且唯一。
func (s Series) Validate() error {
	for i := 1; i < len(s); i++ {
		if s[i].OpenTime <= s[i-1].OpenTime {
			return fmt.Errorf("candle %d: open_time %d 未严格递增（前一根 %d）", i, s[i].OpenTime, s[i-1].OpenTime)
		}
	}
	return nil
}

// Clone 返回深拷贝，防止下游修改污染缓存。
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	copy(out, s)
	return out
}

// Closes 提取收盘价列，供指标计算使用。
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

// Opens 提取开盘价列。
func (s Series) Opens() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Open
	}
	return out
}

// Highs 提取最高价列。
func (s Series) Highs() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.High
	}
	return out
}

// Lows 提取最低价列。
func (s Series) Lows() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Low
	}
	return out
}

// Volumes 提取成交量列。
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Volume
	}
	return out
}

// TrimRecentDays 保留相对最后一根 K 线最近 days 天的数据。
// days<=0 表示不裁剪。
func (s Series) TrimRecentDays(days int) Series {
	if days <= 0 || len(s) == 0 {
		return s
	}
	cutoff := s[len(s)-1].OpenTime - int64(days)*24*time.Hour.Milliseconds()
	idx := 0
	for idx < len(s) && s[idx].OpenTime < cutoff {
		idx++
	}
	return s[idx:]
}
