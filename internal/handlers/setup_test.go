package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/claworc/terminal-server/internal/auth"
	"github.com/gluk-w/claworc/terminal-server/internal/config"
	"github.com/gluk-w/claworc/terminal-server/internal/database"
	"github.com/gluk-w/claworc/terminal-server/internal/orchestrator"
	"github.com/gluk-w/claworc/terminal-server/internal/stats"
	"github.com/gluk-w/claworc/terminal-server/internal/terminals"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type stubDriver struct {
	mu      sync.Mutex
	creates int
	deletes int
	stops   int
}

func (d *stubDriver) Initialize(context.Context) error { return nil }
func (d *stubDriver) IsAvailable(context.Context) bool { return true }
func (d *stubDriver) BackendName() string              { return "stub" }

func (d *stubDriver) CreateContainer(_ context.Context, p orchestrator.CreateParams) (*orchestrator.ContainerInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.creates++
	return &orchestrator.ContainerInfo{Ref: fmt.Sprintf("ctr-%d", d.creates), Name: orchestrator.ContainerName(p.TerminalID)}, nil
}

func (d *stubDriver) DeleteContainer(context.Context, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletes++
	return nil
}

func (d *stubDriver) StopContainer(context.Context, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *stubDriver) GetContainerStatus(context.Context, string) (string, error) { return "running", nil }
func (d *stubDriver) CountActiveContainers(context.Context) (int, error)         { return 0, nil }

func (d *stubDriver) GetContainerStats(context.Context, string) (*orchestrator.ResourceStats, error) {
	return nil, nil
}

type readyProber struct{}

func (readyProber) Probe(context.Context, string) (*terminals.Readiness, error) {
	return &terminals.Readiness{Status: "ready", TunnelURL: "https://ready.loca.lt"}, nil
}

func setupTestService(t *testing.T) *stubDriver {
	t.Helper()
	db, err := database.Open(":memory:", logger.Silent)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	database.DB = db

	origCfg := config.Cfg
	config.Cfg.SecretKey = testSecret
	config.Cfg.AdminUsername = "admin"
	config.Cfg.AdminPassword = "hunter2"
	config.Cfg.AdminTokenTTL = time.Hour
	config.Cfg.DatabasePath = t.TempDir() + "/terminals.db"
	config.Cfg.LogPath = t.TempDir() + "/terminals.log"

	drv := &stubDriver{}
	orchestrator.SetForTest(drv)
	Terminals = terminals.NewService(database.NewTerminalStore(db), drv, stats.NewCache(0), terminals.Options{
		MaxContainers:  10,
		TTL:            time.Hour,
		IdleTimeout:    time.Hour,
		StuckThreshold: time.Hour,
		DriverTimeout:  time.Second,
		PollInterval:   time.Millisecond,
		PollAttempts:   3,
		ContainerPort:  8888,
		Secret:         testSecret,
		Prober:         readyProber{},
	})
	Sweeper = terminals.NewReconciler(Terminals)
	LoginLimiter = auth.NewLoginLimiter()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Terminals.Shutdown(ctx)
		orchestrator.ResetForTest()
		database.Close()
		database.DB = nil
		config.Cfg = origCfg
	})
	return drv
}

func seedTerminal(t *testing.T, id string, status database.TerminalStatus, mutate func(term *database.Terminal)) {
	t.Helper()
	now := time.Now().UTC()
	term := &database.Terminal{
		ID:        id,
		OwnerID:   database.StrPtr("guest-1"),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if mutate != nil {
		mutate(term)
	}
	if err := database.NewTerminalStore(database.DB).Insert(context.Background(), term); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func newChiRequest(method, path string, params map[string]string) *http.Request {
	return newChiRequestWithBody(method, path, params, nil)
}

func newChiRequestWithBody(method, path string, params map[string]string, body []byte) *http.Request {
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func callbackRequest(path, terminalID, body string) *http.Request {
	r := httptest.NewRequest("POST", path, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	if terminalID != "" {
		r.Header.Set("Authorization", "Bearer "+auth.GenerateCallbackToken(testSecret, terminalID))
	}
	return r
}
