package terminals

import (
	"context"
	"fmt"
	"log"

	"github.com/gluk-w/claworc/terminal-server/internal/database"
	"github.com/gluk-w/claworc/terminal-server/internal/logutil"
	"github.com/gluk-w/claworc/terminal-server/internal/metrics"
)

// Admit creates a Pending terminal for ownerID if there is capacity, then
// starts provisioning it in the background. Both capacity checks happen
// before anything is written.
func (s *Service) Admit(ctx context.Context, ownerID string) (*database.Terminal, error) {
	if s.driver == nil {
		metrics.RecordAdmission("no_driver")
		return nil, ErrNoDriver
	}

	active, err := s.store.Count(ctx, database.Filter{Statuses: database.ActiveStatuses})
	if err != nil {
		return nil, fmt.Errorf("count active terminals: %w", err)
	}
	metrics.SetActive(active)
	if active >= int64(s.opts.MaxContainers) {
		log.Printf("[admission] Rejected: %d active terminals (limit %d)", active, s.opts.MaxContainers)
		metrics.RecordAdmission("rejected")
		return nil, ErrCapacityExceeded
	}
	if err := s.checkDriverCapacity(ctx); err != nil {
		return nil, err
	}

	now := s.clock()
	t := &database.Terminal{
		ID:             s.newID(),
		OwnerID:        database.StrPtr(ownerID),
		Status:         database.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.opts.TTL),
		ProvisioningAt: &now,
	}
	if err := s.store.Insert(ctx, t); err != nil {
		return nil, err
	}
	metrics.RecordAdmission("accepted")
	log.Printf("[admission] Created terminal %s (owner %q)", t.ID, logutil.SanitizeForLog(ownerID))

	id := t.ID
	s.spawn(func(ctx context.Context) {
		s.Provision(ctx, id, false)
	})
	return t, nil
}

// checkDriverCapacity re-reads the backend's running container count. A
// failed count is logged and does not block admission; the record-side
// check has already passed.
func (s *Service) checkDriverCapacity(ctx context.Context) error {
	dctx, cancel := s.driverCtx(ctx)
	defer cancel()
	running, err := s.driver.CountActiveContainers(dctx)
	if err != nil {
		log.Printf("[admission] Could not count running containers: %v", err)
		return nil
	}
	if running >= s.opts.MaxContainers {
		log.Printf("[admission] Rejected: %d running containers (limit %d)", running, s.opts.MaxContainers)
		metrics.RecordAdmission("rejected")
		return ErrCapacityExceeded
	}
	return nil
}

// Restart moves a Stopped terminal back to Pending and provisions a fresh
// container for it under the same id.
func (s *Service) Restart(ctx context.Context, id string) (*database.Terminal, error) {
	if s.driver == nil {
		return nil, ErrNoDriver
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != database.StatusStopped {
		return nil, fmt.Errorf("%w: terminal is %s, only stopped terminals can be started", ErrInvalidState, t.Status)
	}
	if t.IsExpired(s.clock()) {
		return nil, ErrExpired
	}
	if err := s.checkDriverCapacity(ctx); err != nil {
		return nil, err
	}

	ok, err := s.store.UpdateIfStatus(ctx, id, []database.TerminalStatus{database.StatusStopped}, map[string]interface{}{
		"status":          database.StatusPending,
		"error_message":   nil,
		"tunnel_url":      nil,
		"provisioning_at": s.clock(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: terminal changed state concurrently", ErrInvalidState)
	}
	metrics.RecordAdmission("restarted")
	log.Printf("[admission] Restarting terminal %s", logutil.SanitizeForLog(id))

	// Read back before provisioning can move it on.
	t, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.spawn(func(ctx context.Context) {
		s.Provision(ctx, id, true)
	})
	return t, nil
}
