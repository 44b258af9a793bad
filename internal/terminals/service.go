package terminals

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/claworc/terminal-server/internal/auth"
	"github.com/gluk-w/claworc/terminal-server/internal/config"
	"github.com/gluk-w/claworc/terminal-server/internal/database"
	"github.com/gluk-w/claworc/terminal-server/internal/logutil"
	"github.com/gluk-w/claworc/terminal-server/internal/orchestrator"
	"github.com/gluk-w/claworc/terminal-server/internal/stats"
	"github.com/google/uuid"
)

// Store is the subset of the terminal record store the lifecycle needs.
type Store interface {
	Insert(ctx context.Context, t *database.Terminal) error
	Get(ctx context.Context, id string) (*database.Terminal, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) (bool, error)
	UpdateIfStatus(ctx context.Context, id string, from []database.TerminalStatus, fields map[string]interface{}) (bool, error)
	List(ctx context.Context, f database.Filter, offset, limit int) ([]database.Terminal, int64, error)
	Count(ctx context.Context, f database.Filter) (int64, error)
}

type Options struct {
	MaxContainers  int
	TTL            time.Duration
	IdleTimeout    time.Duration
	StuckThreshold time.Duration
	DriverTimeout  time.Duration

	PollInterval    time.Duration
	PollAttempts    int
	PollViaHostPort bool
	ContainerPort   int
	ReadinessPath   string
	DockerNetwork   string

	Secret      string
	CallbackURL string
	TunnelHost  string

	// Optional overrides, mostly for tests.
	Prober Prober
	Clock  func() time.Time
	NewID  func() string
}

func OptionsFromConfig(cfg config.Settings) Options {
	return Options{
		MaxContainers:   cfg.MaxContainers,
		TTL:             cfg.TTL,
		IdleTimeout:     cfg.IdleTimeout(),
		StuckThreshold:  cfg.StuckThreshold,
		DriverTimeout:   cfg.DriverTimeout,
		PollInterval:    cfg.PollInterval,
		PollAttempts:    cfg.PollAttempts,
		PollViaHostPort: cfg.PollViaHostPort,
		ContainerPort:   cfg.ContainerPort,
		ReadinessPath:   cfg.ReadinessPath,
		DockerNetwork:   cfg.DockerNetwork,
		Secret:          cfg.SecretKey,
		CallbackURL:     cfg.CallbackURL(),
		TunnelHost:      cfg.LocaltunnelHost,
	}
}

// Service owns the terminal lifecycle: admission, provisioning, callbacks
// and the reconciliation sweep all go through it.
type Service struct {
	store  Store
	driver orchestrator.ContainerOrchestrator
	stats  *stats.Cache
	prober Prober
	opts   Options
	now    func() time.Time
	newID  func() string

	// Background work runs detached from requests; baseCtx is cancelled on
	// Shutdown and wg tracks what is still in flight.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService wires the lifecycle. driver may be nil when no backend is
// available, in which case operations needing it fail with ErrNoDriver.
func NewService(store Store, driver orchestrator.ContainerOrchestrator, cache *stats.Cache, opts Options) *Service {
	s := &Service{
		store:  store,
		driver: driver,
		stats:  cache,
		prober: opts.Prober,
		opts:   opts,
		now:    opts.Clock,
		newID:  opts.NewID,
	}
	if s.stats == nil {
		s.stats = stats.NewCache(0)
	}
	if s.prober == nil {
		s.prober = NewHTTPProber()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Service) Stats() *stats.Cache { return s.stats }

func (s *Service) Driver() orchestrator.ContainerOrchestrator { return s.driver }

// Wait blocks until all background work has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels background work and waits for it, up to ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) spawn(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.baseCtx)
	}()
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// driverCtx bounds a single container backend call.
func (s *Service) driverCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.DriverTimeout)
}

// CallbackToken is the bearer token handed to the container for id.
func (s *Service) CallbackToken(id string) string {
	return auth.GenerateCallbackToken(s.opts.Secret, id)
}

// Authenticate checks a callback bearer token against terminalID.
func (s *Service) Authenticate(terminalID, token string) error {
	if !auth.VerifyCallbackToken(s.opts.Secret, terminalID, token) {
		return ErrUnauthorized
	}
	return nil
}

// Get returns a live terminal. Soft-deleted records are reported as missing.
func (s *Service) Get(ctx context.Context, id string) (*database.Terminal, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if t.IsDeleted() {
		return nil, ErrNotFound
	}
	return t, nil
}

// Lookup returns a terminal even when it has been soft-deleted, so callers
// can observe how it ended.
func (s *Service) Lookup(ctx context.Context, id string) (*database.Terminal, error) {
	t, err := s.store.Get(ctx, id)
	if errors.Is(err, database.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListParams filters List. Status, when set, takes precedence over Statuses.
type ListParams struct {
	OwnerID  string
	Status   database.TerminalStatus
	Statuses []database.TerminalStatus
	Offset   int
	Limit    int
}

// List returns live terminals, newest first.
func (s *Service) List(ctx context.Context, p ListParams) ([]database.Terminal, int64, error) {
	f := database.Filter{OwnerID: p.OwnerID, Statuses: p.Statuses}
	if p.Status != "" {
		f.Statuses = []database.TerminalStatus{p.Status}
	}
	return s.store.List(ctx, f, p.Offset, p.Limit)
}

// Operation is the polling view of a terminal's provisioning progress.
type Operation struct {
	OperationID string  `json:"operation_id"`
	Status      string  `json:"status"`
	TerminalID  string  `json:"terminal_id"`
	Message     *string `json:"message"`
}

func (s *Service) OperationStatus(ctx context.Context, id string) (*Operation, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Operation{
		OperationID: t.ID,
		Status:      OperationStatusOf(t.Status),
		TerminalID:  t.ID,
		Message:     t.ErrorMessage,
	}, nil
}

// Delete soft-deletes a terminal and removes its container in the
// background. The status is left as is.
func (s *Service) Delete(ctx context.Context, id string) (*database.Terminal, error) {
	t, err := s.softDelete(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref := t.Ref(); ref != "" {
		s.spawn(func(ctx context.Context) {
			s.removeContainer(ctx, t.ID, ref)
		})
	}
	return t, nil
}

// AdminDelete is Delete with the container removal done inline. Removal
// failures are logged; the record stays deleted regardless.
func (s *Service) AdminDelete(ctx context.Context, id string) (*database.Terminal, error) {
	t, err := s.softDelete(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref := t.Ref(); ref != "" {
		s.removeContainer(ctx, t.ID, ref)
	}
	return t, nil
}

func (s *Service) softDelete(ctx context.Context, id string) (*database.Terminal, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	ok, err := s.store.Update(ctx, id, map[string]interface{}{"deleted_at": now})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	t.DeletedAt = &now
	log.Printf("[terminals] Deleted terminal %s", logutil.SanitizeForLog(id))
	return t, nil
}

// removeContainer deletes a container best-effort and drops its cached stats.
func (s *Service) removeContainer(ctx context.Context, terminalID, ref string) error {
	s.stats.Delete(ref)
	if s.driver == nil {
		return ErrNoDriver
	}
	dctx, cancel := s.driverCtx(ctx)
	defer cancel()
	if err := s.driver.DeleteContainer(dctx, ref); err != nil {
		log.Printf("[terminals] Failed to delete container %s for terminal %s: %v",
			logutil.SanitizeForLog(ref), logutil.SanitizeForLog(terminalID), err)
		return fmt.Errorf("delete container: %w", err)
	}
	log.Printf("[terminals] Deleted container %s for terminal %s",
		logutil.SanitizeForLog(ref), logutil.SanitizeForLog(terminalID))
	return nil
}

// stopContainer stops a container and drops its cached stats.
func (s *Service) stopContainer(ctx context.Context, ref string) error {
	s.stats.Delete(ref)
	if s.driver == nil {
		return ErrNoDriver
	}
	dctx, cancel := s.driverCtx(ctx)
	defer cancel()
	return s.driver.StopContainer(dctx, ref)
}

// ContainerStats returns cached stats for a terminal, falling back to the
// container backend.
func (s *Service) ContainerStats(ctx context.Context, t *database.Terminal) *orchestrator.ResourceStats {
	ref := t.Ref()
	if ref == "" {
		return nil
	}
	if cached, _, ok := s.stats.Get(ref); ok {
		return cached
	}
	if s.driver == nil {
		return nil
	}
	dctx, cancel := s.driverCtx(ctx)
	defer cancel()
	st, err := s.driver.GetContainerStats(dctx, ref)
	if err != nil {
		log.Printf("[terminals] Stats for container %s: %v", logutil.SanitizeForLog(ref), err)
		return nil
	}
	return st
}

// ContainerState asks the backend for the current state of a terminal's
// container. It returns "" when there is no container or the backend has
// no record of it.
func (s *Service) ContainerState(ctx context.Context, t *database.Terminal) string {
	ref := t.Ref()
	if ref == "" || s.driver == nil {
		return ""
	}
	dctx, cancel := s.driverCtx(ctx)
	defer cancel()
	state, err := s.driver.GetContainerStatus(dctx, ref)
	if err != nil {
		log.Printf("[terminals] Status of container %s: %v", logutil.SanitizeForLog(ref), err)
		return ""
	}
	return state
}
