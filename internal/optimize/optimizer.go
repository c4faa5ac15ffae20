package optimize

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"aegis/internal/backtest"
	"aegis/internal/logger"
	"aegis/internal/template"
)

// Evaluator 对一组参数执行编译+回测并返回聚合指标。
// 单个个体的失败由优化器降级为哨兵，不中断整轮搜索。
type Evaluator func(ctx context.Context, values map[string]float64) (backtest.Result, error)

type Config struct {
	PopulationSize int
	Offsprings     int
	Generations    int
	MinTrades      int
	Seed           int64
	Workers        int
	CrossoverProb  float64
	CrossoverEta   float64
	MutationEta    float64
}

func (c *Config) applyDefaults() {
	if c.PopulationSize <= 0 {
		c.PopulationSize = 40
	}
	if c.Offsprings <= 0 {
		c.Offsprings = 10
	}
	if c.Generations <= 0 {
		c.Generations = 20
	}
	if c.MinTrades <= 0 {
		c.MinTrades = 5
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.CrossoverProb <= 0 {
		c.CrossoverProb = 0.9
	}
	if c.CrossoverEta <= 0 {
		c.CrossoverEta = 15
	}
	if c.MutationEta <= 0 {
		c.MutationEta = 20
	}
}

// Individual 是一个已评估的候选解。
type Individual struct {
	Genome []float64
	Params map[string]float64
	Result backtest.Result
	Objs   Objectives
}

// Outcome 携带复现一次演化所需的全部信息。
// Symbol/Timeframe 由上层编排器补齐。
type Outcome struct {
	Params      map[string]float64
	Result      backtest.Result
	Front       []Individual
	Seed        int64
	Generations int
	Symbol      string
	Timeframe   string
}

// Optimizer 用 NSGA-II 在参数空间里搜索帕累托前沿。
// 目标同时最小化 -收益率 与最大回撤。
type Optimizer struct {
	cfg   Config
	names []string
	genes []Gene
	eval  Evaluator
}

func New(cfg Config, defs template.ParamDefs, eval Evaluator) (*Optimizer, error) {
	if eval == nil {
		return nil, fmt.Errorf("evaluator 不能为空")
	}
	names, genes, err := GenesFromDefs(defs)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Optimizer{cfg: cfg, names: names, genes: genes, eval: eval}, nil
}

// Run 执行固定代数的演化并返回帕累托前沿。
// 同一 (seed, 模板, 定义, 序列) 的两次运行产出逐位一致的结果：
// 随机数只在主 goroutine 消费，并行评估按下标写入各自的槽位。
func (o *Optimizer) Run(ctx context.Context) (*Outcome, error) {
	rng := rand.New(rand.NewSource(o.cfg.Seed))

	pop := o.initPopulation(rng)
	if err := o.evaluate(ctx, pop); err != nil {
		return nil, err
	}

	for gen := 0; gen < o.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		offspring := o.makeOffspring(rng, pop)
		if err := o.evaluate(ctx, offspring); err != nil {
			return nil, err
		}
		pop = o.truncate(append(pop, offspring...))
		logger.Debugf("演化第 %d/%d 代完成, 种群 %d", gen+1, o.cfg.Generations, len(pop))
	}

	fronts := fastNonDominatedSort(objectivesOf(pop))
	front := make([]Individual, len(fronts[0]))
	for i, idx := range fronts[0] {
		front[i] = pop[idx]
	}
	return &Outcome{
		Front:       front,
		Seed:        o.cfg.Seed,
		Generations: o.cfg.Generations,
	}, nil
}

func (o *Optimizer) initPopulation(rng *rand.Rand) []Individual {
	seen := map[string]bool{}
	pop := make([]Individual, 0, o.cfg.PopulationSize)
	attempts := 0
	for len(pop) < o.cfg.PopulationSize {
		genome := make([]float64, len(o.genes))
		for i, g := range o.genes {
			genome[i] = g.Sample(rng)
		}
		k := genomeKey(genome)
		// 离散空间可能小于种群规模，重试上限后允许重复。
		if seen[k] && attempts < o.cfg.PopulationSize*20 {
			attempts++
			continue
		}
		seen[k] = true
		pop = append(pop, o.newIndividual(genome))
	}
	return pop
}

func (o *Optimizer) newIndividual(genome []float64) Individual {
	params := make(map[string]float64, len(o.names))
	for i, name := range o.names {
		params[name] = genome[i]
	}
	return Individual{Genome: genome, Params: params}
}

// makeOffspring 二元锦标赛选父代，SBX + 多项式变异产子代，
// 与现有基因型重复的子代在重试预算内被丢弃。
func (o *Optimizer) makeOffspring(rng *rand.Rand, pop []Individual) []Individual {
	rank, crowd := o.rankAndCrowd(pop)
	tournament := func() []float64 {
		a := rng.Intn(len(pop))
		b := rng.Intn(len(pop))
		if better(a, b, rank, crowd) {
			return pop[a].Genome
		}
		return pop[b].Genome
	}

	seen := map[string]bool{}
	for _, ind := range pop {
		seen[genomeKey(ind.Genome)] = true
	}

	out := make([]Individual, 0, o.cfg.Offsprings)
	attempts := 0
	maxAttempts := o.cfg.Offsprings * 20
	for len(out) < o.cfg.Offsprings {
		c1, c2 := sbxCrossover(rng, tournament(), tournament(), o.genes, o.cfg.CrossoverProb, o.cfg.CrossoverEta)
		for _, c := range [][]float64{c1, c2} {
			if len(out) >= o.cfg.Offsprings {
				break
			}
			c = polynomialMutation(rng, c, o.genes, o.cfg.MutationEta)
			k := genomeKey(c)
			if seen[k] && attempts < maxAttempts {
				attempts++
				continue
			}
			seen[k] = true
			out = append(out, o.newIndividual(c))
		}
		if attempts >= maxAttempts && len(out) < o.cfg.Offsprings {
			// 搜索空间耗尽时退回随机采样补齐，仍优先未出现过的基因型。
			genome := make([]float64, len(o.genes))
			for retry := 0; ; retry++ {
				for i, g := range o.genes {
					genome[i] = g.Sample(rng)
				}
				k := genomeKey(genome)
				if !seen[k] || retry >= 20 {
					seen[k] = true
					break
				}
			}
			out = append(out, o.newIndividual(genome))
		}
	}
	return out
}

func (o *Optimizer) rankAndCrowd(pop []Individual) ([]int, []float64) {
	objs := objectivesOf(pop)
	fronts := fastNonDominatedSort(objs)
	rank := make([]int, len(pop))
	crowd := make([]float64, len(pop))
	for r, front := range fronts {
		dist := crowdingDistance(front, objs)
		for k, idx := range front {
			rank[idx] = r
			crowd[idx] = dist[k]
		}
	}
	return rank, crowd
}

func better(a, b int, rank []int, crowd []float64) bool {
	if rank[a] != rank[b] {
		return rank[a] < rank[b]
	}
	if crowd[a] != crowd[b] {
		return crowd[a] > crowd[b]
	}
	return a <= b
}

// evaluate 并行评估未出指标的个体，错误降级为零成交哨兵。
func (o *Optimizer) evaluate(ctx context.Context, inds []Individual) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i := range inds {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := o.eval(gctx, inds[i].Params)
			if err != nil {
				logger.Warnf("个体评估失败, 记为哨兵: %v", err)
				res = backtest.ZeroTradeResult()
			}
			inds[i].Result = res
			inds[i].Objs = o.objectivesFor(res)
			return nil
		})
	}
	return g.Wait()
}

// objectivesFor 把回测指标映射为最小化目标；
// 成交数低于门槛时施加 (1,1) 软惩罚。
func (o *Optimizer) objectivesFor(r backtest.Result) Objectives {
	if r.TotalTrades < o.cfg.MinTrades {
		return Objectives{1.0, 1.0}
	}
	return Objectives{-r.ProfitRatio, r.MaxDrawdown}
}

// truncate 按 前沿层级 > 拥挤距离 把合并种群截回固定规模。
func (o *Optimizer) truncate(merged []Individual) []Individual {
	objs := objectivesOf(merged)
	fronts := fastNonDominatedSort(objs)
	out := make([]Individual, 0, o.cfg.PopulationSize)
	for _, front := range fronts {
		if len(out)+len(front) <= o.cfg.PopulationSize {
			for _, idx := range front {
				out = append(out, merged[idx])
			}
			continue
		}
		need := o.cfg.PopulationSize - len(out)
		dist := crowdingDistance(front, objs)
		order := make([]int, len(front))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return dist[order[a]] > dist[order[b]]
		})
		for _, k := range order[:need] {
			out = append(out, merged[front[k]])
		}
		break
	}
	return out
}

func objectivesOf(pop []Individual) []Objectives {
	objs := make([]Objectives, len(pop))
	for i, ind := range pop {
		objs[i] = ind.Objs
	}
	return objs
}

func genomeKey(genome []float64) string {
	var sb strings.Builder
	for i, v := range genome {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return sb.String()
}
