package config

import "strings"

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9992"
	defaultDataDir         = "data/candles"
	defaultDataSymbol      = "BTCUSDT"
	defaultDataTimeframe   = "5m"
	defaultDataLookback    = 30
	defaultTemplatePath    = "configs/templates.yaml"
	defaultPopulationSize  = 40
	defaultOffsprings      = 10
	defaultGenerations     = 20
	defaultMinTrades       = 5
	defaultSeed            = 1
	defaultSelectorEpsilon = 0.05
	defaultCrossoverProb   = 0.9
	defaultCrossoverEta    = 15
	defaultMutationEta     = 20
	defaultHistoryDB       = "data/db/evolution.db"
	defaultDeployDir       = "data/strategies"
	defaultReportDir       = "data/reports"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Template.applyDefaults(keys)
	c.Evolve.applyDefaults(keys)
	c.History.applyDefaults(keys)
	c.Deploy.applyDefaults(keys)
	c.Report.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.dir", &d.Dir, defaultDataDir),
		stringFieldDefault("data.symbol", &d.Symbol, defaultDataSymbol),
		stringFieldDefault("data.timeframe", &d.Timeframe, defaultDataTimeframe),
		intFieldDefault("data.lookback_days", &d.LookbackDays, defaultDataLookback),
	)
}

func (t *TemplateConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("template.path", &t.Path, defaultTemplatePath),
	)
}

func (e *EvolveConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("evolve.population_size", &e.PopulationSize, defaultPopulationSize),
		intFieldDefault("evolve.offsprings", &e.Offsprings, defaultOffsprings),
		intFieldDefault("evolve.generations", &e.Generations, defaultGenerations),
		intFieldDefault("evolve.min_trades", &e.MinTrades, defaultMinTrades),
		fieldDefault{
			key:   "evolve.seed",
			need:  func() bool { return e.Seed == 0 },
			apply: func() { e.Seed = defaultSeed },
		},
		floatFieldDefault("evolve.selector_epsilon", &e.SelectorEpsilon, defaultSelectorEpsilon),
		floatFieldDefault("evolve.crossover_prob", &e.CrossoverProb, defaultCrossoverProb),
		floatFieldDefault("evolve.crossover_eta", &e.CrossoverEta, defaultCrossoverEta),
		floatFieldDefault("evolve.mutation_eta", &e.MutationEta, defaultMutationEta),
	)
}

func (h *HistoryConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("history.db_path", &h.DBPath, defaultHistoryDB),
	)
}

func (d *DeployConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("deploy.dir", &d.Dir, defaultDeployDir),
	)
}

func (r *ReportConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("report.dir", &r.Dir, defaultReportDir),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
