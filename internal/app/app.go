package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"aegis/internal/config"
	"aegis/internal/dataset"
	"aegis/internal/deploy"
	"aegis/internal/evolve"
	"aegis/internal/history"
	"aegis/internal/logger"
	"aegis/internal/report"
	"aegis/internal/template"
	evolvehttp "aegis/internal/transport/http"
)

// App 负责应用级编排：加载配置 -> 初始化依赖 -> 启动 HTTP 服务。
type App struct {
	cfg    *config.Config
	loader *dataset.Loader
	hist   *history.Store
	server *evolvehttp.Server
	engine *evolve.Engine
}

// NewApp 按配置线性装配全部依赖（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	loader, err := dataset.NewLoader(cfg.Data.Dir, cfg.Data.Variant)
	if err != nil {
		return nil, fmt.Errorf("初始化数据加载器失败: %w", err)
	}
	registry, err := template.NewRegistry(cfg.Template.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化模板库失败: %w", err)
	}
	hist, err := history.NewStore(cfg.History.DBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化历史存储失败: %w", err)
	}

	var deployer *deploy.Deployer
	if cfg.Deploy.Enabled {
		deployer, err = deploy.NewDeployer(cfg.Deploy.Dir)
		if err != nil {
			return nil, fmt.Errorf("初始化部署器失败: %w", err)
		}
	}
	var reports *report.Builder
	if cfg.Report.Dir != "" {
		reports, err = report.NewBuilder(cfg.Report.Dir)
		if err != nil {
			return nil, fmt.Errorf("初始化报告生成器失败: %w", err)
		}
	}

	engine, err := evolve.NewEngine(evolve.Options{
		Config:   cfg,
		Loader:   loader,
		Registry: registry,
		History:  hist,
		Deployer: deployer,
		Reports:  reports,
	})
	if err != nil {
		return nil, err
	}
	server, err := evolvehttp.NewServer(evolvehttp.Config{
		Addr:     cfg.App.HTTPAddr,
		Engine:   engine,
		Registry: registry,
		History:  hist,
		Deployer: deployer,
	})
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, loader: loader, hist: hist, server: server, engine: engine}, nil
}

// Engine 暴露引擎实例供一次性 CLI 调用。
func (a *App) Engine() *evolve.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Run 启动 HTTP 服务并阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	err := group.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if a.loader != nil {
		if err := a.loader.Close(); err != nil {
			logger.Warnf("关闭数据加载器失败: %v", err)
		}
	}
	if a.hist != nil {
		if err := a.hist.Close(); err != nil {
			logger.Warnf("关闭历史存储失败: %v", err)
		}
	}
}
