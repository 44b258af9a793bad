package terminals

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/claworc/terminal-server/internal/database"
	"github.com/gluk-w/claworc/terminal-server/internal/metrics"
	"github.com/robfig/cron/v3"
)

// PassResult counts what one sweep pass saw and did.
type PassResult struct {
	Found     int `json:"found"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

type SweepResult struct {
	Expired PassResult `json:"expired"`
	Stuck   PassResult `json:"stuck"`
	Idle    PassResult `json:"idle"`
}

var expirableStatuses = []database.TerminalStatus{
	database.StatusStarted,
	database.StatusStarting,
	database.StatusPending,
	database.StatusStopped,
}

var stuckStatuses = []database.TerminalStatus{database.StatusPending, database.StatusStarting}

// Sweep runs the expiry, stuck and idle passes in that order. Each pass
// visits every matching record; a failure on one record is counted and the
// pass moves on.
func (s *Service) Sweep(ctx context.Context) SweepResult {
	start := s.now()
	var res SweepResult
	res.Expired = s.sweepExpired(ctx)
	res.Stuck = s.sweepStuck(ctx)
	res.Idle = s.sweepIdle(ctx)
	if n := s.stats.Prune(); n > 0 {
		log.Printf("[sweep] Pruned %d stale stats entries", n)
	}
	if active, err := s.store.Count(ctx, database.Filter{Statuses: database.ActiveStatuses}); err == nil {
		metrics.SetActive(active)
	}
	metrics.RecordSweep(s.now().Sub(start))
	return res
}

func (s *Service) sweepExpired(ctx context.Context) PassResult {
	now := s.clock()
	terms, _, err := s.store.List(ctx, database.Filter{Statuses: expirableStatuses, ExpiresBefore: &now}, 0, 0)
	if err != nil {
		log.Printf("[sweep] Expiry pass: list terminals: %v", err)
		return PassResult{}
	}

	res := PassResult{Found: len(terms)}
	for i := range terms {
		t := &terms[i]
		if ref := t.Ref(); ref != "" {
			// Best effort; the record is expired regardless.
			s.removeContainer(ctx, t.ID, ref)
		}
		ok, err := s.store.UpdateIfStatus(ctx, t.ID, expirableStatuses, map[string]interface{}{
			"status":     database.StatusExpired,
			"deleted_at": now,
		})
		if err != nil || !ok {
			log.Printf("[sweep] Could not expire terminal %s (updated=%v): %v", t.ID, ok, err)
			res.Failed++
			continue
		}
		res.Processed++
	}
	s.logPass("expired", res)
	return res
}

func (s *Service) sweepStuck(ctx context.Context) PassResult {
	now := s.clock()
	cutoff := now.Add(-s.opts.StuckThreshold)
	terms, _, err := s.store.List(ctx, database.Filter{
		Statuses:           stuckStatuses,
		ProvisioningBefore: &cutoff,
	}, 0, 0)
	if err != nil {
		log.Printf("[sweep] Stuck pass: list terminals: %v", err)
		return PassResult{}
	}

	res := PassResult{Found: len(terms)}
	for i := range terms {
		t := &terms[i]
		ok, err := s.store.UpdateIfStatus(ctx, t.ID, stuckStatuses, map[string]interface{}{
			"status":        database.StatusFailed,
			"error_message": msgStuck,
			"deleted_at":    now,
		})
		if err != nil || !ok {
			log.Printf("[sweep] Could not fail stuck terminal %s (updated=%v): %v", t.ID, ok, err)
			res.Failed++
			continue
		}
		if ref := t.Ref(); ref != "" {
			s.removeContainer(ctx, t.ID, ref)
		}
		res.Processed++
	}
	s.logPass("stuck", res)
	return res
}

func (s *Service) sweepIdle(ctx context.Context) PassResult {
	terms, _, err := s.store.List(ctx, database.Filter{Statuses: []database.TerminalStatus{database.StatusStarted}}, 0, 0)
	if err != nil {
		log.Printf("[sweep] Idle pass: list terminals: %v", err)
		return PassResult{}
	}

	now := s.clock()
	var res PassResult
	for i := range terms {
		t := &terms[i]
		if !IsIdle(t, now, s.opts.IdleTimeout) {
			continue
		}
		res.Found++
		if ref := t.Ref(); ref != "" {
			if err := s.stopContainer(ctx, ref); err != nil {
				log.Printf("[sweep] Could not stop idle terminal %s container %s: %v", t.ID, ref, err)
			}
		}
		ok, err := s.store.UpdateIfStatus(ctx, t.ID, []database.TerminalStatus{database.StatusStarted}, map[string]interface{}{
			"status": database.StatusStopped,
		})
		if err != nil || !ok {
			log.Printf("[sweep] Could not stop idle terminal %s (updated=%v): %v", t.ID, ok, err)
			res.Failed++
			continue
		}
		res.Processed++
	}
	s.logPass("idle", res)
	return res
}

func (s *Service) logPass(pass string, res PassResult) {
	if res.Found > 0 {
		log.Printf("[sweep] %s pass: found=%d processed=%d failed=%d", pass, res.Found, res.Processed, res.Failed)
	}
	metrics.RecordSweepPass(pass, res.Processed, res.Failed)
}

// Reconciler runs Sweep on a fixed schedule.
type Reconciler struct {
	svc *Service

	mu   sync.Mutex
	cron *cron.Cron
	last *SweepResult
}

func NewReconciler(svc *Service) *Reconciler {
	return &Reconciler{svc: svc}
}

// Start schedules a sweep every interval. Overlapping runs are skipped.
func (r *Reconciler) Start(interval time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("reconciler already started")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		r.RunOnce(r.svc.baseCtx)
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	r.cron = c
	log.Printf("[sweep] Reconciliation sweep scheduled every %s", interval)
	return nil
}

// Stop cancels the schedule and waits for a sweep in progress.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce sweeps immediately. It is shared by the schedule and the admin
// endpoint.
func (r *Reconciler) RunOnce(ctx context.Context) SweepResult {
	res := r.svc.Sweep(ctx)
	r.mu.Lock()
	r.last = &res
	r.mu.Unlock()
	return res
}

// Last returns the result of the most recent sweep, if any.
func (r *Reconciler) Last() *SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
