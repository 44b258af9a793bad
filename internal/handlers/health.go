package handlers

import (
	"net/http"

	"github.com/gluk-w/claworc/terminal-server/internal/database"
	"github.com/gluk-w/claworc/terminal-server/internal/orchestrator"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if err := database.Ping(); err != nil {
		dbStatus = "disconnected"
	}

	orchStatus := "disconnected"
	orchBackend := "none"
	if orch := orchestrator.Get(); orch != nil {
		orchStatus = "connected"
		orchBackend = orch.BackendName()
	}

	status := "healthy"
	code := http.StatusOK
	if dbStatus != "connected" {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]string{
		"status":               status,
		"orchestrator":         orchStatus,
		"orchestrator_backend": orchBackend,
		"database":             dbStatus,
	})
}
