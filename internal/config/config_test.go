package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
data:
  symbol: ETHUSDT
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	// 显式设置的值保留
	assert.Equal(t, "ETHUSDT", cfg.Data.Symbol)
	// 其余字段回落默认
	assert.Equal(t, "data/candles", cfg.Data.Dir)
	assert.Equal(t, "5m", cfg.Data.Timeframe)
	assert.Equal(t, 40, cfg.Evolve.PopulationSize)
	assert.Equal(t, 10, cfg.Evolve.Offsprings)
	assert.Equal(t, 20, cfg.Evolve.Generations)
	assert.Equal(t, 5, cfg.Evolve.MinTrades)
	assert.Equal(t, int64(1), cfg.Evolve.Seed)
	assert.Equal(t, 0.05, cfg.Evolve.SelectorEpsilon)
	assert.Equal(t, ":9992", cfg.App.HTTPAddr)
	assert.Equal(t, "configs/templates.yaml", cfg.Template.Path)
	assert.Equal(t, "data/db/evolution.db", cfg.History.DBPath)
}

func TestLoad_ExplicitZeroIsKept(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
data:
  lookback_days: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	// 明确写 0 的字段不应被默认值覆盖
	assert.Equal(t, 0, cfg.Data.LookbackDays)
}

func TestLoad_IncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
evolve:
  population_size: 80
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
data:
  symbol: SOLUSDT
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Evolve.PopulationSize)
	assert.Equal(t, "SOLUSDT", cfg.Data.Symbol)
}

func TestLoad_IncludeCycleDetected(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	path := writeConfig(t, dir, "b.yaml", "include:\n  - a.yaml\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"population too small", "evolve:\n  population_size: 1\n"},
		{"bad crossover prob", "evolve:\n  crossover_prob: 1.5\n"},
		{"negative lookback", "data:\n  lookback_days: -1\n"},
		{"empty symbol", "data:\n  symbol: \"  \"\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "config.yaml", tc.content)
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}
