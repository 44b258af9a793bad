package terminals

import (
	"context"
	"errors"
	"log"

	"github.com/gluk-w/claworc/terminal-server/internal/database"
	"github.com/gluk-w/claworc/terminal-server/internal/logutil"
	"github.com/gluk-w/claworc/terminal-server/internal/metrics"
	"github.com/gluk-w/claworc/terminal-server/internal/orchestrator"
	"github.com/sethvargo/go-retry"
)

const (
	msgNoTunnel = "Failed to obtain tunnel URL from container"
	msgStuck    = "Terminal failed to start within expected time"
)

var errNotReady = errors.New("container not ready")

// Provision takes a Pending terminal to Started or Failed. It never returns
// an error: every failure is recorded on the terminal.
func (s *Service) Provision(ctx context.Context, id string, restart bool) {
	start := s.now()
	outcome := s.provision(ctx, id, restart)
	metrics.RecordProvision(outcome, s.now().Sub(start))
}

func (s *Service) provision(ctx context.Context, id string, restart bool) string {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		log.Printf("[provision] Terminal %s not loaded: %v", id, err)
		return "aborted"
	}
	if t.IsDeleted() || t.Status != database.StatusPending {
		log.Printf("[provision] Terminal %s is %s, skipping", id, t.Status)
		return "aborted"
	}

	// Container names are deterministic, so the old container must go
	// before a new one can be created.
	if restart && t.Ref() != "" {
		s.removeContainer(ctx, id, t.Ref())
	}

	ok, err := s.store.UpdateIfStatus(ctx, id, []database.TerminalStatus{database.StatusPending}, map[string]interface{}{
		"status": database.StatusStarting,
	})
	if err != nil {
		log.Printf("[provision] Terminal %s: %v", id, err)
		return "aborted"
	}
	if !ok {
		log.Printf("[provision] Terminal %s left pending before provisioning began", id)
		return "aborted"
	}

	if s.driver == nil {
		s.markFailed(ctx, id, ErrNoDriver.Error())
		return "failed"
	}

	dctx, cancel := s.driverCtx(ctx)
	info, err := s.driver.CreateContainer(dctx, orchestrator.CreateParams{
		TerminalID:         id,
		CallbackURL:        s.opts.CallbackURL,
		CallbackToken:      s.CallbackToken(id),
		TunnelHost:         s.opts.TunnelHost,
		IdleTimeoutSeconds: int(s.opts.IdleTimeout.Seconds()),
	})
	cancel()
	if err != nil {
		log.Printf("[provision] Create container for terminal %s: %v", id, err)
		s.markFailed(ctx, id, err.Error())
		return "failed"
	}

	// A fast container may already have reported its tunnel.
	ok, err = s.store.UpdateIfStatus(ctx, id,
		[]database.TerminalStatus{database.StatusStarting, database.StatusStarted},
		map[string]interface{}{
			"container_ref":  database.StrPtr(info.Ref),
			"container_name": database.StrPtr(info.Name),
			"host_endpoint":  database.StrPtr(info.HostEndpoint),
		})
	if err != nil || !ok {
		log.Printf("[provision] Terminal %s changed while its container was created, removing container %s (err=%v)", id, info.Ref, err)
		s.removeContainer(ctx, id, info.Ref)
		return "aborted"
	}
	log.Printf("[provision] Terminal %s container %s created", id, info.Name)

	return s.awaitReady(ctx, id, s.readinessURL(info.Name, info.HostEndpoint))
}

// awaitReady polls the container until it reports a tunnel URL or the
// attempt budget is spent. It stops early once another writer has moved the
// terminal out of Starting.
func (s *Service) awaitReady(ctx context.Context, id, url string) string {
	var tunnelURL string
	var superseded bool
	attempts := 0

	backoff := retry.WithMaxRetries(uint64(s.opts.PollAttempts-1), retry.NewConstant(s.opts.PollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		cur, err := s.store.Get(ctx, id)
		if err == nil && (cur.IsDeleted() || cur.Status != database.StatusStarting) {
			superseded = true
			return nil
		}

		r, err := s.prober.Probe(ctx, url)
		if err != nil {
			return retry.RetryableError(err)
		}
		if !r.Ready() {
			return retry.RetryableError(errNotReady)
		}
		tunnelURL = r.TunnelURL
		return nil
	})

	switch {
	case superseded:
		log.Printf("[provision] Terminal %s no longer starting after %d attempts, poll stopped", id, attempts)
		return "superseded"
	case err == nil:
		ok, uerr := s.store.UpdateIfStatus(ctx, id, []database.TerminalStatus{database.StatusStarting}, map[string]interface{}{
			"tunnel_url": tunnelURL,
			"status":     database.StatusStarted,
		})
		if uerr != nil {
			log.Printf("[provision] Terminal %s: %v", id, uerr)
			return "failed"
		}
		if !ok {
			return "superseded"
		}
		log.Printf("[provision] Terminal %s started at %s", id, logutil.SanitizeForLog(tunnelURL))
		return "started"
	case ctx.Err() != nil:
		// Shutdown; the stuck-terminal pass will settle this record.
		log.Printf("[provision] Terminal %s polling interrupted: %v", id, ctx.Err())
		return "interrupted"
	default:
		log.Printf("[provision] Terminal %s not ready after %d attempts: %v", id, attempts, err)
		s.markFailed(ctx, id, msgNoTunnel)
		return "failed"
	}
}

// markFailed records a provisioning failure unless the terminal has already
// moved past Starting.
func (s *Service) markFailed(ctx context.Context, id, msg string) {
	ok, err := s.store.UpdateIfStatus(ctx, id,
		[]database.TerminalStatus{database.StatusPending, database.StatusStarting},
		map[string]interface{}{
			"status":        database.StatusFailed,
			"error_message": logutil.Truncate(msg, maxErrorMessageLen),
		})
	if err != nil {
		log.Printf("[provision] Could not mark terminal %s failed: %v", id, err)
		return
	}
	if ok {
		log.Printf("[provision] Terminal %s failed: %s", id, logutil.SanitizeForLog(msg))
	}
}
