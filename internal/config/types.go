package config

import "strings"

// Config 是 AEGIS 进化引擎的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Data     DataConfig     `toml:"data"`
	Template TemplateConfig `toml:"template"`
	Evolve   EvolveConfig   `toml:"evolve"`
	History  HistoryConfig  `toml:"history"`
	Deploy   DeployConfig   `toml:"deploy"`
	Report   ReportConfig   `toml:"report"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// DataConfig 描述历史 K 线数据的位置与裁剪窗口。
type DataConfig struct {
	Dir          string `toml:"dir"`
	Symbol       string `toml:"symbol"`
	Timeframe    string `toml:"timeframe"`
	Variant      string `toml:"variant"` // 可选后缀，如 futures
	LookbackDays int    `toml:"lookback_days"`
}

type TemplateConfig struct {
	Path string `toml:"path"`
}

// EvolveConfig 控制 NSGA-II 搜索的规模与随机性。
type EvolveConfig struct {
	PopulationSize  int     `toml:"population_size"`
	Offsprings      int     `toml:"offsprings"`
	Generations     int     `toml:"generations"`
	MinTrades       int     `toml:"min_trades"`
	Seed            int64   `toml:"seed"`
	SelectorEpsilon float64 `toml:"selector_epsilon"`
	Workers         int     `toml:"workers"`
	CrossoverProb   float64 `toml:"crossover_prob"`
	CrossoverEta    float64 `toml:"crossover_eta"`
	MutationEta     float64 `toml:"mutation_eta"`
}

type HistoryConfig struct {
	DBPath string `toml:"db_path"`
}

// DeployConfig 控制胜出策略的编译部署目录。
type DeployConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type ReportConfig struct {
	Dir string `toml:"dir"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
