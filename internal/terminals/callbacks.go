package terminals

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/gluk-w/claworc/terminal-server/internal/database"
	"github.com/gluk-w/claworc/terminal-server/internal/logutil"
	"github.com/gluk-w/claworc/terminal-server/internal/metrics"
	"github.com/gluk-w/claworc/terminal-server/internal/orchestrator"
)

const (
	maxTerminalIDLen   = 255
	maxTunnelURLLen    = 512
	maxErrorMessageLen = 1024
	maxMemoryMB        = 100000
	maxPercent         = 100
)

var terminalIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// Callback kinds, used for validation and metrics labels.
const (
	CallbackTunnel = "tunnel"
	CallbackStatus = "status"
	CallbackHealth = "health"
	CallbackStats  = "stats"
	CallbackIdle   = "idle"
)

// CallbackRequest is the body every container callback shares. For idle
// reports ErrorMessage carries the reason.
type CallbackRequest struct {
	TerminalID    string   `json:"terminal_id"`
	TunnelURL     *string  `json:"tunnel_url,omitempty"`
	Status        *string  `json:"status,omitempty"`
	ErrorMessage  *string  `json:"error_message,omitempty"`
	CPUPercent    *float64 `json:"cpu_percent,omitempty"`
	MemoryMB      *float64 `json:"memory_mb,omitempty"`
	MemoryPercent *float64 `json:"memory_percent,omitempty"`
}

// Validate checks the payload shape for the given callback kind. It runs
// before authentication and never touches the store.
func (r *CallbackRequest) Validate(kind string) error {
	if err := ValidateTerminalID(r.TerminalID); err != nil {
		return err
	}
	if r.TunnelURL != nil && *r.TunnelURL != "" {
		u := *r.TunnelURL
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return validationError("tunnel_url", "must use http or https protocol")
		}
		if len(u) > maxTunnelURLLen {
			return validationError("tunnel_url", fmt.Sprintf("is too long (max %d characters)", maxTunnelURLLen))
		}
	}
	if kind == CallbackTunnel && (r.TunnelURL == nil || *r.TunnelURL == "") {
		return validationError("tunnel_url", "is required")
	}
	if r.Status != nil {
		if _, ok := database.ParseStatus(*r.Status); !ok {
			return validationError("status", fmt.Sprintf("%q is not a valid status", *r.Status))
		}
	}
	if r.ErrorMessage != nil && len(*r.ErrorMessage) > maxErrorMessageLen {
		return validationError("error_message", fmt.Sprintf("is too long (max %d characters)", maxErrorMessageLen))
	}
	if err := checkRange("cpu_percent", r.CPUPercent, maxPercent); err != nil {
		return err
	}
	if err := checkRange("memory_percent", r.MemoryPercent, maxPercent); err != nil {
		return err
	}
	return checkRange("memory_mb", r.MemoryMB, maxMemoryMB)
}

func ValidateTerminalID(id string) error {
	if id == "" || len(id) > maxTerminalIDLen {
		return validationError("terminal_id", fmt.Sprintf("must be 1 to %d characters", maxTerminalIDLen))
	}
	if !terminalIDPattern.MatchString(id) {
		return validationError("terminal_id", "contains invalid characters")
	}
	return nil
}

func checkRange(field string, v *float64, max float64) error {
	if v == nil {
		return nil
	}
	if *v < 0 || *v > max {
		return validationError(field, fmt.Sprintf("must be between 0 and %g", max))
	}
	return nil
}

// CallbackResult describes what a callback did. Applied is false for
// accepted reports that changed nothing.
type CallbackResult struct {
	Terminal *database.Terminal
	Applied  bool
	Message  string
}

func (s *Service) loadForCallback(ctx context.Context, kind, id string) (*database.Terminal, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		log.Printf("[callback] %s report for terminal %s: %v", kind, logutil.SanitizeForLog(id), err)
		metrics.RecordCallback(kind, "not_found")
		return nil, err
	}
	return t, nil
}

func (s *Service) callbackDone(ctx context.Context, kind string, id string, applied bool, msg string) (*CallbackResult, error) {
	result := "noop"
	if applied {
		result = "applied"
	}
	metrics.RecordCallback(kind, result)
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CallbackResult{Terminal: t, Applied: applied, Message: msg}, nil
}

// ReportTunnel records the tunnel URL a container established and marks the
// terminal Started. Repeating the same report is a no-op.
func (s *Service) ReportTunnel(ctx context.Context, req *CallbackRequest) (*CallbackResult, error) {
	t, err := s.loadForCallback(ctx, CallbackTunnel, req.TerminalID)
	if err != nil {
		return nil, err
	}
	url := *req.TunnelURL

	if t.Status == database.StatusStarted && t.TunnelURL != nil && *t.TunnelURL == url {
		return s.callbackDone(ctx, CallbackTunnel, t.ID, false, "Tunnel URL already registered")
	}
	if !CanTransition(t.Status, database.StatusStarted) {
		log.Printf("[callback] Ignoring tunnel for terminal %s in status %s", t.ID, t.Status)
		return s.callbackDone(ctx, CallbackTunnel, t.ID, false, fmt.Sprintf("Terminal is %s, tunnel ignored", t.Status))
	}

	ok, err := s.store.UpdateIfStatus(ctx, t.ID,
		[]database.TerminalStatus{database.StatusStarting, database.StatusStarted},
		map[string]interface{}{
			"tunnel_url": url,
			"status":     database.StatusStarted,
		})
	if err != nil {
		metrics.RecordCallback(CallbackTunnel, "error")
		return nil, err
	}
	if !ok {
		return s.callbackDone(ctx, CallbackTunnel, t.ID, false, "Terminal changed state, tunnel ignored")
	}
	log.Printf("[callback] Terminal %s tunnel registered: %s", t.ID, logutil.SanitizeForLog(url))
	return s.callbackDone(ctx, CallbackTunnel, t.ID, true, "Tunnel URL registered successfully")
}

// ReportStatus applies a status reported by the container. An error message
// always forces Failed, whatever status accompanies it. Reports that would
// take an invalid edge are logged and ignored.
func (s *Service) ReportStatus(ctx context.Context, req *CallbackRequest) (*CallbackResult, error) {
	t, err := s.loadForCallback(ctx, CallbackStatus, req.TerminalID)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	var target database.TerminalStatus
	switch {
	case req.ErrorMessage != nil && *req.ErrorMessage != "":
		target = database.StatusFailed
		fields["error_message"] = *req.ErrorMessage
	case req.Status != nil:
		target, _ = database.ParseStatus(*req.Status)
	default:
		return s.callbackDone(ctx, CallbackStatus, t.ID, false, "Nothing to update")
	}

	if !CanTransition(t.Status, target) {
		log.Printf("[callback] Ignoring status %s for terminal %s in status %s", target, t.ID, t.Status)
		return s.callbackDone(ctx, CallbackStatus, t.ID, false, fmt.Sprintf("Terminal is %s, cannot become %s", t.Status, target))
	}
	fields["status"] = target

	ok, err := s.store.UpdateIfStatus(ctx, t.ID, []database.TerminalStatus{t.Status}, fields)
	if err != nil {
		metrics.RecordCallback(CallbackStatus, "error")
		return nil, err
	}
	if !ok {
		return s.callbackDone(ctx, CallbackStatus, t.ID, false, "Terminal changed state, status ignored")
	}
	log.Printf("[callback] Terminal %s status %s -> %s", t.ID, t.Status, target)
	return s.callbackDone(ctx, CallbackStatus, t.ID, true, "Status updated successfully")
}

// ReportHealth is the container's liveness pulse. It is the only callback
// that moves last_activity_at.
func (s *Service) ReportHealth(ctx context.Context, req *CallbackRequest) (*CallbackResult, error) {
	t, err := s.loadForCallback(ctx, CallbackHealth, req.TerminalID)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.Update(ctx, t.ID, map[string]interface{}{"last_activity_at": s.clock()})
	if err != nil {
		metrics.RecordCallback(CallbackHealth, "error")
		return nil, err
	}
	return s.callbackDone(ctx, CallbackHealth, t.ID, ok, "healthy")
}

// ReportStats caches resource usage for the terminal's container. The record
// itself is not written.
func (s *Service) ReportStats(ctx context.Context, req *CallbackRequest) (*CallbackResult, error) {
	t, err := s.loadForCallback(ctx, CallbackStats, req.TerminalID)
	if err != nil {
		return nil, err
	}
	st := orchestrator.ResourceStats{
		CPUPercent:    req.CPUPercent,
		MemoryMB:      req.MemoryMB,
		MemoryPercent: req.MemoryPercent,
	}
	if t.Ref() == "" || st.Empty() {
		metrics.RecordCallback(CallbackStats, "noop")
		return &CallbackResult{Terminal: t, Message: "No stats recorded"}, nil
	}
	s.stats.Update(t.Ref(), st)
	metrics.RecordCallback(CallbackStats, "applied")
	return &CallbackResult{Terminal: t, Applied: true, Message: "Stats updated successfully"}, nil
}

// ReportIdle stops a Started terminal whose container has seen no use. The
// record is kept so the terminal can be restarted. A failed stop leaves the
// status untouched and is returned to the container.
func (s *Service) ReportIdle(ctx context.Context, req *CallbackRequest) (*CallbackResult, error) {
	t, err := s.loadForCallback(ctx, CallbackIdle, req.TerminalID)
	if err != nil {
		return nil, err
	}
	reason := ""
	if req.ErrorMessage != nil {
		reason = *req.ErrorMessage
	}

	switch t.Status {
	case database.StatusStopped, database.StatusExpired, database.StatusFailed:
		return s.callbackDone(ctx, CallbackIdle, t.ID, false, fmt.Sprintf("Terminal already %s", t.Status))
	case database.StatusStarted:
	default:
		log.Printf("[callback] Ignoring idle report for terminal %s still %s", t.ID, t.Status)
		return s.callbackDone(ctx, CallbackIdle, t.ID, false, fmt.Sprintf("Terminal is %s, not running yet", t.Status))
	}

	log.Printf("[callback] Stopping terminal %s due to inactivity: %s", t.ID, logutil.SanitizeForLog(reason))
	if ref := t.Ref(); ref != "" {
		if err := s.stopContainer(ctx, ref); err != nil {
			log.Printf("[callback] Failed to stop idle terminal %s: %v", t.ID, err)
			metrics.RecordCallback(CallbackIdle, "error")
			return nil, fmt.Errorf("%w: stop container: %v", ErrDriver, err)
		}
	}

	ok, err := s.store.UpdateIfStatus(ctx, t.ID, []database.TerminalStatus{database.StatusStarted}, map[string]interface{}{
		"status": database.StatusStopped,
	})
	if err != nil {
		metrics.RecordCallback(CallbackIdle, "error")
		return nil, err
	}
	if !ok {
		return s.callbackDone(ctx, CallbackIdle, t.ID, false, "Terminal changed state while stopping")
	}
	log.Printf("[callback] Stopped idle terminal %s", t.ID)
	return s.callbackDone(ctx, CallbackIdle, t.ID, true, "Terminal stopped due to inactivity")
}
