package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gluk-w/claworc/terminal-server/internal/auth"
	"github.com/gluk-w/claworc/terminal-server/internal/logutil"
	"github.com/gluk-w/claworc/terminal-server/internal/metrics"
	"github.com/gluk-w/claworc/terminal-server/internal/terminals"
)

type callbackFunc func(ctx context.Context, req *terminals.CallbackRequest) (*terminals.CallbackResult, error)

// decodeCallback parses and validates the body, then checks the bearer token
// against the terminal it names. It writes the error response itself.
func decodeCallback(w http.ResponseWriter, r *http.Request, kind string) (*terminals.CallbackRequest, bool) {
	var req terminals.CallbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		metrics.RecordCallback(kind, "invalid")
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return nil, false
	}
	if err := req.Validate(kind); err != nil {
		metrics.RecordCallback(kind, "invalid")
		writeServiceError(w, err)
		return nil, false
	}

	token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		log.Printf("[callback] %s callback for %s missing auth token", kind, logutil.SanitizeForLog(req.TerminalID))
		metrics.RecordCallback(kind, "unauthorized")
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
		return nil, false
	}
	if err := Terminals.Authenticate(req.TerminalID, token); err != nil {
		log.Printf("[callback] %s callback for %s has invalid token", kind, logutil.SanitizeForLog(req.TerminalID))
		metrics.RecordCallback(kind, "unauthorized")
		writeServiceError(w, err)
		return nil, false
	}
	return &req, true
}

func handleCallback(w http.ResponseWriter, r *http.Request, kind string, fn callbackFunc) {
	req, ok := decodeCallback(w, r, kind)
	if !ok {
		return
	}
	res, err := fn(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if kind == terminals.CallbackHealth {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "terminal_id": res.Terminal.ID})
		return
	}
	writeJSON(w, http.StatusOK, successResponse(res.Terminal.ID, res.Message))
}

func ReportTunnel(w http.ResponseWriter, r *http.Request) {
	handleCallback(w, r, terminals.CallbackTunnel, Terminals.ReportTunnel)
}

func ReportStatus(w http.ResponseWriter, r *http.Request) {
	handleCallback(w, r, terminals.CallbackStatus, Terminals.ReportStatus)
}

func ReportHealth(w http.ResponseWriter, r *http.Request) {
	handleCallback(w, r, terminals.CallbackHealth, Terminals.ReportHealth)
}

func ReportStats(w http.ResponseWriter, r *http.Request) {
	handleCallback(w, r, terminals.CallbackStats, Terminals.ReportStats)
}

func ReportIdle(w http.ResponseWriter, r *http.Request) {
	handleCallback(w, r, terminals.CallbackIdle, Terminals.ReportIdle)
}
