package handlers

import (
	"net/http"

	"github.com/gluk-w/claworc/terminal-server/internal/database"
	"github.com/gluk-w/claworc/terminal-server/internal/terminals"
	"github.com/go-chi/chi/v5"
)

// GuestHeader carries the optional owner id for guest clients.
const GuestHeader = "X-Guest-Id"

const defaultPageLimit = 100

type terminalListResponse struct {
	Terminals []database.Terminal `json:"terminals"`
	Total     int64               `json:"total"`
}

func CreateTerminal(w http.ResponseWriter, r *http.Request) {
	term, err := Terminals.Admit(r.Context(), r.Header.Get(GuestHeader))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, term)
}

func GetTerminal(w http.ResponseWriter, r *http.Request) {
	term, err := Terminals.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, term)
}

func ListTerminals(w http.ResponseWriter, r *http.Request) {
	p, ok := listParams(w, r)
	if !ok {
		return
	}
	p.OwnerID = r.Header.Get(GuestHeader)
	listTerminals(w, r, p)
}

// listParams parses skip, limit and status_filter.
func listParams(w http.ResponseWriter, r *http.Request) (terminals.ListParams, bool) {
	var p terminals.ListParams
	var err error
	if p.Offset, err = queryInt(r, "skip", 0); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return p, false
	}
	if p.Limit, err = queryInt(r, "limit", defaultPageLimit); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return p, false
	}
	if p.Limit == 0 {
		p.Limit = defaultPageLimit
	}
	if q := r.URL.Query().Get("status_filter"); q != "" {
		st, ok := database.ParseStatus(q)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "status_filter is not a valid status")
			return p, false
		}
		p.Status = st
	}
	return p, true
}

func listTerminals(w http.ResponseWriter, r *http.Request, p terminals.ListParams) {
	terms, total, err := Terminals.List(r.Context(), p)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if terms == nil {
		terms = []database.Terminal{}
	}
	writeJSON(w, http.StatusOK, terminalListResponse{Terminals: terms, Total: total})
}

func DeleteTerminal(w http.ResponseWriter, r *http.Request) {
	term, err := Terminals.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(term.ID, "Terminal deleted successfully"))
}

func StartTerminal(w http.ResponseWriter, r *http.Request) {
	term, err := Terminals.Restart(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, term)
}

func GetTerminalStatus(w http.ResponseWriter, r *http.Request) {
	op, err := Terminals.OperationStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}
