package evolve

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"aegis/internal/backtest"
	"aegis/internal/config"
	"aegis/internal/dataset"
	"aegis/internal/deploy"
	"aegis/internal/history"
	"aegis/internal/logger"
	"aegis/internal/market"
	"aegis/internal/optimize"
	"aegis/internal/report"
	"aegis/internal/signal"
	"aegis/internal/template"
)

// Engine 串起一轮完整的演化：
// 取数 -> 模板预编译 -> NSGA-II 搜索 -> 前沿选点 -> 历史落库 -> 报告/部署。
type Engine struct {
	cfg      *config.Config
	loader   *dataset.Loader
	registry *template.Registry
	history  *history.Store
	deployer *deploy.Deployer
	reports  *report.Builder
}

type Options struct {
	Config   *config.Config
	Loader   *dataset.Loader
	Registry *template.Registry
	History  *history.Store
	Deployer *deploy.Deployer
	Reports  *report.Builder
}

func NewEngine(o Options) (*Engine, error) {
	if o.Config == nil {
		return nil, fmt.Errorf("evolve: 配置不能为空")
	}
	if o.Loader == nil {
		return nil, fmt.Errorf("evolve: 数据加载器不能为空")
	}
	if o.Registry == nil {
		return nil, fmt.Errorf("evolve: 模板库不能为空")
	}
	if o.History == nil {
		return nil, fmt.Errorf("evolve: 历史存储不能为空")
	}
	return &Engine{
		cfg:      o.Config,
		loader:   o.Loader,
		registry: o.Registry,
		history:  o.History,
		deployer: o.Deployer,
		reports:  o.Reports,
	}, nil
}

// Request 描述一轮演化。未填字段回落到配置默认值。
type Request struct {
	TemplateID   string `json:"template_id"`
	Symbol       string `json:"symbol"`
	Timeframe    string `json:"timeframe"`
	LookbackDays int    `json:"lookback_days"`
	Seed         int64  `json:"seed"`
	Deploy       bool   `json:"deploy"`
}

// RunResult 是一轮演化的产出。
type RunResult struct {
	RunID      string            `json:"run_id"`
	Outcome    *optimize.Outcome `json:"outcome"`
	Report     backtest.Report   `json:"-"`
	ReportPath string            `json:"report_path,omitempty"`
	Accepted   bool              `json:"accepted"`
	Reason     string            `json:"reason"`
	Deployed   *deploy.Version   `json:"deployed,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Run 执行一轮演化。数据缺失与模板编译失败在任何代数开始前就中止，
// 调用方拿不到结果即视为失败，而不是空结果。
func (e *Engine) Run(ctx context.Context, req Request) (*RunResult, error) {
	started := time.Now()
	e.applyDefaults(&req)
	if req.TemplateID == "" {
		return nil, fmt.Errorf("evolve: template_id 不能为空")
	}

	tpl, ok := e.registry.Template(req.TemplateID)
	if !ok {
		return nil, fmt.Errorf("evolve: 未知模板 %q", req.TemplateID)
	}

	series, err := e.loader.Load(ctx, req.Symbol, req.Timeframe, req.LookbackDays)
	if err != nil {
		return nil, fmt.Errorf("evolve: 加载 %s/%s 数据失败: %w", req.Symbol, req.Timeframe, err)
	}

	// 模板对所有个体同样生效，先用区间中点做一次预编译，
	// 坏模板在搜索开始前整体中止，而不是把每个个体都打成哨兵。
	if err := precompile(&tpl); err != nil {
		return nil, err
	}

	evalCfg := e.cfg.Evolve
	opt, err := optimize.New(optimize.Config{
		PopulationSize: evalCfg.PopulationSize,
		Offsprings:     evalCfg.Offsprings,
		Generations:    evalCfg.Generations,
		MinTrades:      evalCfg.MinTrades,
		Seed:           req.Seed,
		Workers:        evalCfg.Workers,
		CrossoverProb:  evalCfg.CrossoverProb,
		CrossoverEta:   evalCfg.CrossoverEta,
		MutationEta:    evalCfg.MutationEta,
	}, tpl.Params, evaluator(&tpl, series))
	if err != nil {
		return nil, err
	}

	logger.Infof("演化开始: template=%s symbol=%s timeframe=%s seed=%d",
		tpl.ID, req.Symbol, req.Timeframe, req.Seed)
	outcome, err := opt.Run(ctx)
	if err != nil {
		return nil, err
	}
	outcome.Symbol = req.Symbol
	outcome.Timeframe = req.Timeframe

	sel := optimize.Selector{Epsilon: evalCfg.SelectorEpsilon}
	winnerIdx, err := sel.Pick(outcome.Front)
	if err != nil {
		return nil, err
	}
	winner := outcome.Front[winnerIdx]
	outcome.Params = winner.Params
	outcome.Result = winner.Result

	// 用胜出参数重放一次拿完整资金曲线。
	winnerRep, err := replay(&tpl, winner.Params, series)
	if err != nil {
		return nil, err
	}

	res := &RunResult{
		RunID:     uuid.NewString(),
		Outcome:   outcome,
		Report:    winnerRep,
		StartedAt: started,
	}
	res.Accepted, res.Reason = acceptance(winner.Result, evalCfg.MinTrades)

	if err := e.persist(ctx, req, res); err != nil {
		return nil, err
	}
	if e.reports != nil {
		path, err := e.reports.Write(res.RunID, outcome, winnerIdx, winnerRep)
		if err != nil {
			logger.Warnf("报告生成失败: %v", err)
		} else {
			res.ReportPath = path
		}
	}
	if req.Deploy && res.Accepted && e.deployer != nil {
		version, err := e.deploySelected(&tpl, winner.Params)
		if err != nil {
			logger.Errorf("策略部署失败: %v", err)
		} else {
			res.Deployed = &version
		}
	}
	res.FinishedAt = time.Now()
	logger.Infof("演化完成: run=%s accepted=%v profit=%.4f drawdown=%.4f trades=%d",
		res.RunID, res.Accepted, winner.Result.ProfitRatio,
		winner.Result.MaxDrawdown, winner.Result.TotalTrades)
	return res, nil
}

func (e *Engine) applyDefaults(req *Request) {
	if req.Symbol == "" {
		req.Symbol = e.cfg.Data.Symbol
	}
	if req.Timeframe == "" {
		req.Timeframe = e.cfg.Data.Timeframe
	}
	if req.LookbackDays <= 0 {
		req.LookbackDays = e.cfg.Data.LookbackDays
	}
	if req.Seed == 0 {
		req.Seed = e.cfg.Evolve.Seed
	}
}

// precompile 用每个基因区间的中点做一次编译检查。
func precompile(tpl *template.Template) error {
	values := make(map[string]float64, len(tpl.Params))
	for name, def := range tpl.Params {
		values[name] = (def.Low + def.High) / 2
	}
	_, err := signal.Compile(tpl, values)
	return err
}

// evaluator 把 (模板, 序列) 固化为优化器的适应度函数。
func evaluator(tpl *template.Template, series market.Series) optimize.Evaluator {
	return func(ctx context.Context, values map[string]float64) (backtest.Result, error) {
		rep, err := replay(tpl, values, series)
		if err != nil {
			return backtest.Result{}, err
		}
		return rep.Result, nil
	}
}

func replay(tpl *template.Template, values map[string]float64, series market.Series) (backtest.Report, error) {
	pipeline, err := signal.Compile(tpl, values)
	if err != nil {
		return backtest.Report{}, err
	}
	sig, err := pipeline.Run(series)
	if err != nil {
		return backtest.Report{}, err
	}
	return backtest.Simulate(sig, series)
}

// acceptance 判定胜出解是否值得部署。
func acceptance(r backtest.Result, minTrades int) (bool, string) {
	if r.TotalTrades < minTrades {
		return false, fmt.Sprintf("成交数 %d 低于门槛 %d", r.TotalTrades, minTrades)
	}
	if r.ProfitRatio <= 0 {
		return false, fmt.Sprintf("收益率 %.4f 不为正", r.ProfitRatio)
	}
	return true, fmt.Sprintf("得分择优: 收益 %.4f / 回撤 %.4f", r.ProfitRatio, r.MaxDrawdown)
}

func (e *Engine) persist(ctx context.Context, req Request, res *RunResult) error {
	rec := &history.EvolutionRecord{
		RunID:       res.RunID,
		TemplateID:  req.TemplateID,
		Symbol:      req.Symbol,
		Timeframe:   req.Timeframe,
		Seed:        res.Outcome.Seed,
		Generations: res.Outcome.Generations,
		Accepted:    res.Accepted,
		Reason:      res.Reason,
	}
	if err := e.history.Record(ctx, rec, res.Outcome.Params, res.Outcome.Result); err != nil {
		return fmt.Errorf("evolve: 写入演化历史失败: %w", err)
	}
	return nil
}

// deploySelected 把胜出参数编译成最终策略文本并落盘为新版本。
func (e *Engine) deploySelected(tpl *template.Template, values map[string]float64) (deploy.Version, error) {
	pipeline, err := signal.Compile(tpl, values)
	if err != nil {
		return deploy.Version{}, err
	}
	return e.deployer.Deploy(tpl.ID, []byte(pipeline.Rendered))
}
