package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"aegis/internal/logger"
	"aegis/internal/market"
)

// ErrDataNotFound 表示给定 symbol/timeframe 没有任何落地数据文件。
// 对一次进化运行而言是致命错误：优化器在第 0 代之前就应中止。
var ErrDataNotFound = errors.New("dataset: no historical data file found")

// Loader 负责按命名约定解析并加载历史 K 线。
// 同一 symbol@timeframe 在进程生命周期内只加载一次（内存随 symbol 数量增长，
// 对有界的标的集合可接受），对外总是返回副本。
type Loader struct {
	dir     string
	variant string
	store   *Store

	mu    sync.Mutex
	cache map[string]market.Series
}

func NewLoader(dir, variant string) (*Loader, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("data dir 不能为空")
	}
	store, err := NewStore(dir)
	if err != nil {
		return nil, err
	}
	return &Loader{
		dir:     dir,
		variant: strings.TrimSpace(variant),
		store:   store,
		cache:   make(map[string]market.Series),
	}, nil
}

func (l *Loader) Close() error { return l.store.Close() }

// Load 返回最近 lookbackDays 天的 K 线（相对序列最后一根的时间）。
func (l *Loader) Load(ctx context.Context, symbol, timeframe string, lookbackDays int) (market.Series, error) {
	full, err := l.loadFull(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	return full.Clone().TrimRecentDays(lookbackDays), nil
}

func (l *Loader) loadFull(ctx context.Context, symbol, timeframe string) (market.Series, error) {
	key := cleanSymbol(symbol) + "@" + strings.ToLower(strings.TrimSpace(timeframe))
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.cache[key]; ok {
		return s, nil
	}
	series, err := l.resolve(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", key, err)
	}
	l.cache[key] = series
	logger.Infof("[dataset] %s 加载完成，共 %d 根", key, len(series))
	return series, nil
}

// resolve 依次尝试 JSON 命名约定与 sqlite 库。
func (l *Loader) resolve(ctx context.Context, symbol, timeframe string) (market.Series, error) {
	sym := cleanSymbol(symbol)
	tf := strings.ToLower(strings.TrimSpace(timeframe))

	var candidates []string
	if l.variant != "" {
		candidates = append(candidates, fmt.Sprintf("%s-%s-%s.json", sym, tf, l.variant))
	}
	candidates = append(candidates, fmt.Sprintf("%s-%s.json", sym, tf))
	for _, name := range candidates {
		path := filepath.Join(l.dir, name)
		if _, err := os.Stat(path); err == nil {
			return loadJSONFile(path)
		}
	}
	if _, err := os.Stat(l.store.Path(sym, tf)); err == nil {
		return l.store.AllCandles(ctx, sym, tf)
	}
	return nil, fmt.Errorf("%w: %s %s (searched %s)", ErrDataNotFound, sym, tf, l.dir)
}

// loadJSONFile 解析两种行格式：对象行与 freqtrade 风格的数组行
// [open_time, open, high, low, close, volume]。
func loadJSONFile(path string) (market.Series, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var objs []market.Candle
	if err := json.Unmarshal(raw, &objs); err == nil && len(objs) > 0 && objs[0].OpenTime > 0 {
		return market.Series(objs), nil
	}
	var rows [][]float64
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("解析数据文件 %s 失败: %w", path, err)
	}
	out := make(market.Series, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("数据文件 %s 第 %d 行字段不足", path, i)
		}
		out = append(out, market.Candle{
			OpenTime:  int64(row[0]),
			CloseTime: int64(row[0]),
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
			Volume:    row[5],
		})
	}
	return out, nil
}

func cleanSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "_")
	return strings.ReplaceAll(s, ":", "_")
}
