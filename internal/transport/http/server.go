package evolvehttp

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"aegis/internal/deploy"
	"aegis/internal/evolve"
	"aegis/internal/history"
	"aegis/internal/logger"
	"aegis/internal/template"
)

const (
	statusPending = "pending"
	statusRunning = "running"
	statusDone    = "done"
	statusFailed  = "failed"
)

// job 是一次后台演化任务的可观测状态。字段只在持 s.mu 时读写，
// 对外一律返回值拷贝，后台 goroutine 的状态更新不会与编码并发。
type job struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Request     evolve.Request    `json:"request"`
	Result      *evolve.RunResult `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// Server 暴露演化引擎的 HTTP API。
type Server struct {
	addr     string
	engine   *evolve.Engine
	registry *template.Registry
	hist     *history.Store
	deployer *deploy.Deployer
	router   *gin.Engine

	mu      sync.RWMutex
	jobs    map[string]*job
	sem     chan struct{}
	baseCtx context.Context
}

type Config struct {
	Addr          string
	Engine        *evolve.Engine
	Registry      *template.Registry
	History       *history.Store
	Deployer      *deploy.Deployer
	MaxConcurrent int
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:     cfg.Addr,
		engine:   cfg.Engine,
		registry: cfg.Registry,
		hist:     cfg.History,
		deployer: cfg.Deployer,
		router:   router,
		jobs:     map[string]*job{},
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api/evolve")
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/report", s.handleRunReport)
	api.GET("/templates", s.handleTemplates)
	api.GET("/history", s.handleHistory)
	api.POST("/strategies/:name/rollback", s.handleRollback)
}

// handleRunStart 受理一轮演化并立即返回，任务在后台执行。
func (s *Server) handleRunStart(c *gin.Context) {
	var req evolve.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := uuid.NewString()
	j := &job{
		ID:          id,
		Status:      statusPending,
		Request:     req,
		SubmittedAt: time.Now(),
	}
	s.mu.Lock()
	s.jobs[id] = j
	s.mu.Unlock()

	go s.execute(id, req)
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": statusPending})
}

func (s *Server) execute(id string, req evolve.Request) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	s.setStatus(id, statusRunning, nil, "")
	res, err := s.engine.Run(s.baseCtx, req)
	if err != nil {
		logger.Errorf("演化任务 %s 失败: %v", id, err)
		s.setStatus(id, statusFailed, nil, err.Error())
		return
	}
	s.setStatus(id, statusDone, res, "")
}

func (s *Server) setStatus(id, status string, res *evolve.RunResult, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.Status = status
	j.Result = res
	j.Error = errMsg
}

// jobSnapshot 在持锁期间取任务的值拷贝，供各只读接口使用。
func (s *Server) jobSnapshot(id string) (job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return job{}, false
	}
	return *j, true
}

func (s *Server) handleRunList(c *gin.Context) {
	s.mu.RLock()
	out := make([]job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].SubmittedAt.After(out[k].SubmittedAt) })
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	j, ok := s.jobSnapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "未知任务"})
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Server) handleRunReport(c *gin.Context) {
	j, ok := s.jobSnapshot(c.Param("id"))
	if !ok || j.Result == nil || j.Result.ReportPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "报告不存在"})
		return
	}
	c.File(j.Result.ReportPath)
}

func (s *Server) handleTemplates(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusOK, gin.H{"templates": gin.H{}})
		return
	}
	snap := s.registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{"version": snap.Version, "templates": snap.Templates})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.hist == nil {
		c.JSON(http.StatusOK, gin.H{"records": []history.EvolutionRecord{}})
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	var (
		records []history.EvolutionRecord
		err     error
	)
	if symbol := c.Query("symbol"); symbol != "" {
		records, err = s.hist.BySymbol(c.Request.Context(), symbol, limit)
	} else {
		records, err = s.hist.Recent(c.Request.Context(), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) handleRollback(c *gin.Context) {
	if s.deployer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "部署未启用"})
		return
	}
	version, err := s.deployer.Rollback(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version.ID, "file": version.File})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Infof("HTTP 服务监听 %s", s.addr)
	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler 暴露路由供测试使用。
func (s *Server) Handler() http.Handler { return s.router }
