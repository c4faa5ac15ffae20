package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Evolve.validate(); err != nil {
		return err
	}
	if err := c.Template.validate(); err != nil {
		return err
	}
	return nil
}

func (d *DataConfig) validate() error {
	if strings.TrimSpace(d.Dir) == "" {
		return fmt.Errorf("data.dir must not be empty")
	}
	if strings.TrimSpace(d.Symbol) == "" {
		return fmt.Errorf("data.symbol must not be empty")
	}
	if strings.TrimSpace(d.Timeframe) == "" {
		return fmt.Errorf("data.timeframe must not be empty")
	}
	if d.LookbackDays < 0 {
		return fmt.Errorf("data.lookback_days must be >= 0")
	}
	return nil
}

func (e *EvolveConfig) validate() error {
	if e.PopulationSize < 2 {
		return fmt.Errorf("evolve.population_size must be >= 2")
	}
	if e.Offsprings < 1 {
		return fmt.Errorf("evolve.offsprings must be >= 1")
	}
	if e.Generations < 1 {
		return fmt.Errorf("evolve.generations must be >= 1")
	}
	if e.MinTrades < 0 {
		return fmt.Errorf("evolve.min_trades must be >= 0")
	}
	if e.SelectorEpsilon <= 0 {
		return fmt.Errorf("evolve.selector_epsilon must be > 0")
	}
	if e.CrossoverProb <= 0 || e.CrossoverProb > 1 {
		return fmt.Errorf("evolve.crossover_prob must be in (0, 1]")
	}
	if e.Workers < 0 {
		return fmt.Errorf("evolve.workers must be >= 0")
	}
	return nil
}

func (t *TemplateConfig) validate() error {
	if strings.TrimSpace(t.Path) == "" {
		return fmt.Errorf("template.path must not be empty")
	}
	return nil
}
