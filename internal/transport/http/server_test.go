package evolvehttp

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/config"
	"aegis/internal/dataset"
	"aegis/internal/deploy"
	"aegis/internal/evolve"
	"aegis/internal/history"
	"aegis/internal/market"
	"aegis/internal/report"
	"aegis/internal/template"
)

const fixtureTemplates = `templates:
  sma-cross:
    description: simple sma breakout
    body: |
      indicators:
        base = sma(close, {period})
      entry:
        close > base
      exit:
        close < base
    params:
      period:
        kind: integer
        low: 2
        high: 10
`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()

	dataDir := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	series := make(market.Series, 300)
	base := int64(1_700_000_000_000)
	for i := range series {
		price := 100 + 10*math.Sin(float64(i)/8)
		series[i] = market.Candle{
			OpenTime: base + int64(i)*300_000,
			Open:     price, High: price + 1, Low: price - 1, Close: price, Volume: 50,
		}
	}
	raw, err := json.Marshal(series)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "BTCUSDT-5m.json"), raw, 0o644))

	tplPath := filepath.Join(root, "templates.yaml")
	require.NoError(t, os.WriteFile(tplPath, []byte(fixtureTemplates), 0o644))

	loader, err := dataset.NewLoader(dataDir, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = loader.Close() })
	registry, err := template.NewRegistry(tplPath)
	require.NoError(t, err)
	hist, err := history.NewStore(filepath.Join(root, "evolution.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })
	deployer, err := deploy.NewDeployer(filepath.Join(root, "strategies"))
	require.NoError(t, err)
	reports, err := report.NewBuilder(filepath.Join(root, "reports"))
	require.NoError(t, err)

	cfg := &config.Config{
		Data: config.DataConfig{Dir: dataDir, Symbol: "BTCUSDT", Timeframe: "5m", LookbackDays: 30},
		Evolve: config.EvolveConfig{
			PopulationSize: 8, Offsprings: 4, Generations: 2,
			MinTrades: 2, Seed: 1, SelectorEpsilon: 0.05, Workers: 2,
		},
	}
	eng, err := evolve.NewEngine(evolve.Options{
		Config: cfg, Loader: loader, Registry: registry,
		History: hist, Deployer: deployer, Reports: reports,
	})
	require.NoError(t, err)

	s, err := NewServer(Config{
		Engine: eng, Registry: registry, History: hist, Deployer: deployer,
	})
	require.NoError(t, err)
	return s
}

func TestServer_RunLifecycle(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"template_id":"sma-cross"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/evolve/runs", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var accepted struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.ID)

	// 后台任务轮询直到完成
	deadline := time.Now().Add(30 * time.Second)
	var detail struct {
		Status string `json:"status"`
		Error  string `json:"error"`
		Result *struct {
			RunID    string `json:"run_id"`
			Accepted bool   `json:"accepted"`
		} `json:"result"`
	}
	for {
		require.True(t, time.Now().Before(deadline), "任务超时未完成")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/evolve/runs/"+accepted.ID, nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
		if detail.Status == "done" || detail.Status == "failed" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.Equal(t, "done", detail.Status, "error: %s", detail.Error)
	require.NotNil(t, detail.Result)
	assert.NotEmpty(t, detail.Result.RunID)

	// 列表包含该任务
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/evolve/runs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), accepted.ID)

	// 历史可查
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/evolve/history?symbol=BTCUSDT", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), detail.Result.RunID)
}

func TestServer_Templates(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/evolve/templates", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sma-cross")
}

func TestServer_UnknownRun(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/evolve/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_RollbackWithoutHistory(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/evolve/strategies/sma-cross/rollback", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// 状态轮询与后台写状态并发进行，配合 -race 验证任务注册表的拷贝语义。
func TestServer_ConcurrentStatusReads(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"template_id":"sma-cross"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/evolve/runs", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var accepted struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				w := httptest.NewRecorder()
				s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/evolve/runs/"+accepted.ID, nil))
				assert.Equal(t, http.StatusOK, w.Code)
				w = httptest.NewRecorder()
				s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/evolve/runs", nil))
				assert.Equal(t, http.StatusOK, w.Code)
			}
		}()
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "任务超时未完成")
		var detail struct {
			Status string `json:"status"`
		}
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/evolve/runs/"+accepted.ID, nil))
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
		if detail.Status == "done" || detail.Status == "failed" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	close(done)
	wg.Wait()
}
