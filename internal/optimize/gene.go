package optimize

import (
	"fmt"
	"math"
	"math/rand"

	"aegis/internal/template"
)

// Gene 描述单个参数的取值域与修复规则。
// 整数基因在采样与变异后都要重新取整并夹回边界，
// 浮点基因只做夹取，保证算子输出永远落在声明的范围内。
type Gene interface {
	Bounds() (low, high float64)
	Sample(rng *rand.Rand) float64
	Repair(v float64) float64
}

type IntegerGene struct {
	Low  int64
	High int64
}

func (g IntegerGene) Bounds() (float64, float64) {
	return float64(g.Low), float64(g.High)
}

func (g IntegerGene) Sample(rng *rand.Rand) float64 {
	return float64(g.Low + rng.Int63n(g.High-g.Low+1))
}

func (g IntegerGene) Repair(v float64) float64 {
	r := math.Round(v)
	if r < float64(g.Low) {
		r = float64(g.Low)
	}
	if r > float64(g.High) {
		r = float64(g.High)
	}
	return r
}

type FloatGene struct {
	Low  float64
	High float64
}

func (g FloatGene) Bounds() (float64, float64) { return g.Low, g.High }

func (g FloatGene) Sample(rng *rand.Rand) float64 {
	return g.Low + rng.Float64()*(g.High-g.Low)
}

func (g FloatGene) Repair(v float64) float64 {
	if v < g.Low {
		return g.Low
	}
	if v > g.High {
		return g.High
	}
	return v
}

// GenesFromDefs 把模板参数定义转成基因向量。
// 名字按字典序排列，保证同一模板在任何进程里的基因顺序一致。
func GenesFromDefs(defs template.ParamDefs) ([]string, []Gene, error) {
	names := defs.Names()
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("参数定义为空")
	}
	genes := make([]Gene, len(names))
	for i, name := range names {
		def := defs[name]
		if def.Low > def.High {
			return nil, nil, fmt.Errorf("基因 %s: 下界 %v 大于上界 %v", name, def.Low, def.High)
		}
		switch def.Kind {
		case template.KindInteger:
			genes[i] = IntegerGene{Low: int64(math.Round(def.Low)), High: int64(math.Round(def.High))}
		case template.KindFloat:
			genes[i] = FloatGene{Low: def.Low, High: def.High}
		default:
			return nil, nil, fmt.Errorf("基因 %s: 未知类型 %q", name, def.Kind)
		}
	}
	return names, genes, nil
}
