package terminals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/claworc/terminal-server/internal/database"
	"github.com/gluk-w/claworc/terminal-server/internal/orchestrator"
	"github.com/gluk-w/claworc/terminal-server/internal/stats"
	"gorm.io/gorm/logger"
)

// fakeDriver records calls and returns canned results.
type fakeDriver struct {
	mu sync.Mutex

	createErr error
	stopErr   error
	deleteErr error
	running   int
	countErr  error

	creates []orchestrator.CreateParams
	deletes []string
	stops   []string
	// calls is the ordered list of operations, e.g. "delete:ref", "create:id".
	calls []string
}

func (f *fakeDriver) Initialize(context.Context) error { return nil }
func (f *fakeDriver) IsAvailable(context.Context) bool { return true }
func (f *fakeDriver) BackendName() string              { return "fake" }

func (f *fakeDriver) CreateContainer(_ context.Context, p orchestrator.CreateParams) (*orchestrator.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, p)
	f.calls = append(f.calls, "create:"+p.TerminalID)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &orchestrator.ContainerInfo{
		Ref:          fmt.Sprintf("ctr-%s-%d", p.TerminalID, len(f.creates)),
		Name:         orchestrator.ContainerName(p.TerminalID),
		HostEndpoint: "32768",
	}, nil
}

func (f *fakeDriver) DeleteContainer(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ref)
	f.calls = append(f.calls, "delete:"+ref)
	return f.deleteErr
}

func (f *fakeDriver) StopContainer(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, ref)
	f.calls = append(f.calls, "stop:"+ref)
	return f.stopErr
}

func (f *fakeDriver) GetContainerStatus(context.Context, string) (string, error) {
	return "running", nil
}

func (f *fakeDriver) CountActiveContainers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, f.countErr
}

func (f *fakeDriver) GetContainerStats(context.Context, string) (*orchestrator.ResourceStats, error) {
	cpu := 12.5
	return &orchestrator.ResourceStats{CPUPercent: &cpu}, nil
}

func (f *fakeDriver) counts() (creates, deletes, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates), len(f.deletes), len(f.stops)
}

func (f *fakeDriver) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeProber reports ready from the readyAfter-th probe on. Zero never
// becomes ready.
type fakeProber struct {
	mu         sync.Mutex
	readyAfter int
	tunnelURL  string
	probes     int
	urls       []string
	// onProbe runs before each probe answer, outside the lock.
	onProbe func(n int)
}

func (p *fakeProber) Probe(_ context.Context, url string) (*Readiness, error) {
	p.mu.Lock()
	p.probes++
	n := p.probes
	p.urls = append(p.urls, url)
	hook := p.onProbe
	p.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if p.readyAfter > 0 && n >= p.readyAfter {
		return &Readiness{Status: "ready", TunnelURL: p.tunnelURL}, nil
	}
	if n%2 == 0 {
		return nil, errors.New("connection refused")
	}
	return &Readiness{Status: "starting"}, nil
}

func (p *fakeProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

// countingStore wraps the real store to count calls.
type countingStore struct {
	*database.TerminalStore

	mu      sync.Mutex
	inserts int
}

func (c *countingStore) Insert(ctx context.Context, t *database.Terminal) error {
	c.mu.Lock()
	c.inserts++
	c.mu.Unlock()
	return c.TerminalStore.Insert(ctx, t)
}

func (c *countingStore) insertCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inserts
}

type testEnv struct {
	svc    *Service
	store  *countingStore
	driver *fakeDriver
	prober *fakeProber
}

func testOptions() Options {
	return Options{
		MaxContainers:  5,
		TTL:            24 * time.Hour,
		IdleTimeout:    time.Hour,
		StuckThreshold: time.Hour,
		DriverTimeout:  time.Second,
		PollInterval:   time.Millisecond,
		PollAttempts:   5,
		ContainerPort:  8888,
		ReadinessPath:  "/status",
		Secret:         "0123456789abcdef0123456789abcdef",
		CallbackURL:    "http://api:8000/api/v1/callbacks",
		TunnelHost:     "https://localtunnel.me",
	}
}

func newTestEnv(t *testing.T, mutate func(o *Options)) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:", logger.Silent)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	sqlDB, _ := db.DB()

	env := &testEnv{
		store:  &countingStore{TerminalStore: database.NewTerminalStore(db)},
		driver: &fakeDriver{},
		prober: &fakeProber{readyAfter: 1, tunnelURL: "https://abc.loca.lt"},
	}
	opts := testOptions()
	opts.Prober = env.prober
	if mutate != nil {
		mutate(&opts)
	}
	env.svc = NewService(env.store, env.driver, stats.NewCache(0), opts)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.svc.Shutdown(ctx)
		sqlDB.Close()
	})
	return env
}

// seed writes a record straight to the store, bypassing admission.
func (e *testEnv) seed(t *testing.T, id string, status database.TerminalStatus, mutate func(term *database.Terminal)) *database.Terminal {
	t.Helper()
	now := time.Now().UTC()
	term := &database.Terminal{
		ID:        id,
		OwnerID:   database.StrPtr("owner-1"),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	if mutate != nil {
		mutate(term)
	}
	if err := e.store.TerminalStore.Insert(context.Background(), term); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return term
}

func (e *testEnv) get(t *testing.T, id string) *database.Terminal {
	t.Helper()
	term, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return term
}
