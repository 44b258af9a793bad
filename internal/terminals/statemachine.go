package terminals

import (
	"time"

	"github.com/gluk-w/claworc/terminal-server/internal/database"
)

// transitions lists every allowed status edge. Started -> Started covers a
// repeated or refreshed tunnel report.
var transitions = map[database.TerminalStatus][]database.TerminalStatus{
	database.StatusPending:  {database.StatusStarting, database.StatusFailed, database.StatusExpired},
	database.StatusStarting: {database.StatusStarted, database.StatusFailed, database.StatusExpired},
	database.StatusStarted:  {database.StatusStarted, database.StatusFailed, database.StatusStopped, database.StatusExpired},
	database.StatusStopped:  {database.StatusPending, database.StatusExpired},
	database.StatusFailed:   nil,
	database.StatusExpired:  nil,
}

func CanTransition(from, to database.TerminalStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status that may move to to.
func sourcesOf(to database.TerminalStatus) []database.TerminalStatus {
	var out []database.TerminalStatus
	for from, targets := range transitions {
		for _, s := range targets {
			if s == to {
				out = append(out, from)
				break
			}
		}
	}
	return out
}

// IsIdle reports whether a terminal has gone longer than timeout without a
// health pulse. Terminals that never reported fall back to their creation
// time.
func IsIdle(t *database.Terminal, now time.Time, timeout time.Duration) bool {
	last := t.CreatedAt
	if t.LastActivityAt != nil {
		last = *t.LastActivityAt
	}
	return now.Sub(last) > timeout
}

// Operation statuses reported by the polling endpoint.
const (
	OperationPending    = "pending"
	OperationInProgress = "in_progress"
	OperationCompleted  = "completed"
	OperationFailed     = "failed"
)

func OperationStatusOf(s database.TerminalStatus) string {
	switch s {
	case database.StatusStarted:
		return OperationCompleted
	case database.StatusFailed:
		return OperationFailed
	case database.StatusPending, database.StatusStarting:
		return OperationInProgress
	default:
		return OperationPending
	}
}

// IsSettled reports whether a client waiting for readiness can stop watching.
func IsSettled(s database.TerminalStatus) bool {
	return s == database.StatusStarted || s == database.StatusFailed || s == database.StatusExpired
}
