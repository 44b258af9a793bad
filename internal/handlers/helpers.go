package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gluk-w/claworc/terminal-server/internal/terminals"
)

// Terminals is the lifecycle service every handler drives. Set by main.
var Terminals *terminals.Service

// Sweeper runs on-demand reconciliation for the admin API. Set by main.
var Sweeper *terminals.Reconciler

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeServiceError maps lifecycle errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, terminals.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, terminals.ErrCapacityExceeded):
		writeError(w, http.StatusServiceUnavailable, "Maximum number of terminals reached, please try again later")
	case errors.Is(err, terminals.ErrNoDriver):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, terminals.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, terminals.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, terminals.ErrInvalidState), errors.Is(err, terminals.ErrExpired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, terminals.ErrDriver):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		log.Printf("[api] Internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// queryInt reads a non-negative integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) (int, error) {
	q := r.URL.Query().Get(name)
	if q == "" {
		return def, nil
	}
	n, err := strconv.Atoi(q)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func successResponse(id, message string) map[string]string {
	return map[string]string{
		"status":      "success",
		"terminal_id": id,
		"message":     message,
	}
}
