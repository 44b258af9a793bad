package handlers

import (
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gluk-w/claworc/terminal-server/internal/auth"
	"github.com/gluk-w/claworc/terminal-server/internal/config"
	"github.com/gluk-w/claworc/terminal-server/internal/database"
	"github.com/gluk-w/claworc/terminal-server/internal/logging"
	"github.com/gluk-w/claworc/terminal-server/internal/logutil"
	"github.com/gluk-w/claworc/terminal-server/internal/middleware"
	"github.com/gluk-w/claworc/terminal-server/internal/orchestrator"
	"github.com/gluk-w/claworc/terminal-server/internal/stats"
	"github.com/gluk-w/claworc/terminal-server/internal/terminals"
	"github.com/go-chi/chi/v5"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// LoginLimiter throttles AdminLogin per peer address. Forwarding headers
// are ignored since the client controls them.
var LoginLimiter = auth.NewLoginLimiter()

func AdminLogin(w http.ResponseWriter, r *http.Request) {
	client := middleware.GetPeerHost(r)
	if err := LoginLimiter.Allow(client); err != nil {
		var rl *auth.ErrRateLimited
		if errors.As(err, &rl) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(rl.RetryAfter.Seconds()))))
		}
		log.Printf("[admin] Login refused: %v", err)
		writeError(w, http.StatusTooManyRequests, "Too many login attempts")
		return
	}

	var body loginRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	creds := auth.AdminCredentials{
		Username: config.Cfg.AdminUsername,
		Password: config.Cfg.AdminPassword,
		Hash:     config.Cfg.AdminPasswordHash,
	}
	if !creds.Check(body.Username, body.Password) {
		LoginLimiter.RecordFailure(client)
		log.Printf("[admin] Failed login attempt for username %q", logutil.SanitizeForLog(body.Username))
		writeError(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	ttl := config.Cfg.AdminTokenTTL
	token, err := auth.IssueAdminToken(config.Cfg.SecretKey, body.Username, ttl)
	if err != nil {
		log.Printf("[admin] Failed to sign token: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	LoginLimiter.RecordSuccess(client)
	log.Printf("[admin] Successful login: %s", logutil.SanitizeForLog(body.Username))
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(ttl / time.Second),
	})
}

// AdminListTerminals lists terminals of every owner.
func AdminListTerminals(w http.ResponseWriter, r *http.Request) {
	p, ok := listParams(w, r)
	if !ok {
		return
	}
	listTerminals(w, r, p)
}

func AdminDeleteTerminal(w http.ResponseWriter, r *http.Request) {
	term, err := Terminals.AdminDelete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(term.ID, "Terminal terminated by admin"))
}

type terminalStats struct {
	TerminalID      string                      `json:"terminal_id"`
	UserID          *string                     `json:"user_id"`
	Status          database.TerminalStatus     `json:"status"`
	ContainerStatus string                      `json:"container_status,omitempty"`
	CreatedAt       time.Time                   `json:"created_at"`
	Stats           *orchestrator.ResourceStats `json:"stats"`
}

type adminStatsResponse struct {
	System    *stats.SystemStats `json:"system"`
	Active    int                `json:"active_terminals"`
	Terminals []terminalStats    `json:"terminals"`
}

var statsStatuses = []database.TerminalStatus{
	database.StatusPending,
	database.StatusStarting,
	database.StatusStarted,
	database.StatusStopped,
}

func AdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sys, err := stats.CollectSystem(ctx, filepath.Dir(config.Cfg.DatabasePath))
	if err != nil {
		log.Printf("[admin] System stats: %v", err)
	}

	terms, _, err := Terminals.List(ctx, terminals.ListParams{Statuses: statsStatuses})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := adminStatsResponse{System: sys, Terminals: make([]terminalStats, 0, len(terms))}
	for i := range terms {
		t := &terms[i]
		if t.Status != database.StatusStopped {
			resp.Active++
		}
		entry := terminalStats{
			TerminalID: t.ID,
			UserID:     t.OwnerID,
			Status:     t.Status,
			CreatedAt:  t.CreatedAt,
		}
		if t.Status == database.StatusStarted {
			entry.ContainerStatus = Terminals.ContainerState(ctx, t)
			entry.Stats = Terminals.ContainerStats(ctx, t)
		}
		resp.Terminals = append(resp.Terminals, entry)
	}
	writeJSON(w, http.StatusOK, resp)
}

func GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines, err := queryInt(r, "lines", 200)
	if err != nil || lines == 0 {
		lines = 200
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logging.JoinLines(content)})
}

func ClearServerLogs(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunSweep performs a reconciliation sweep now and reports per-pass counts.
func RunSweep(w http.ResponseWriter, r *http.Request) {
	res := Sweeper.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, res)
}
