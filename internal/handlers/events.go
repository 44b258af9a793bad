package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gluk-w/claworc/terminal-server/internal/database"
	"github.com/gluk-w/claworc/terminal-server/internal/terminals"
	"github.com/go-chi/chi/v5"
)

// EventPollInterval is how often the events stream re-reads the record.
var EventPollInterval = time.Second

const eventWriteTimeout = 10 * time.Second

// TerminalEvents streams the terminal record over a websocket whenever its
// status or tunnel URL changes, and closes once the terminal has settled.
// A terminal removed by the sweep is sent in its final state; one deleted
// by its owner closes the stream with 4004.
func TerminalEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	term, err := Terminals.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[events] Failed to accept websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	// The client never sends anything; CloseRead handles its close frame.
	ctx := conn.CloseRead(r.Context())

	send := func(t *database.Terminal) error {
		wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
		defer cancel()
		return wsjson.Write(wctx, conn, t)
	}

	if err := send(term); err != nil {
		return
	}
	ticker := time.NewTicker(EventPollInterval)
	defer ticker.Stop()

	for !terminals.IsSettled(term.Status) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cur, err := Terminals.Lookup(ctx, id)
		if errors.Is(err, terminals.ErrNotFound) {
			conn.Close(4004, "Terminal deleted")
			return
		}
		if err != nil {
			log.Printf("[events] Terminal %s: %v", term.ID, err)
			continue
		}
		if cur.IsDeleted() && !terminals.IsSettled(cur.Status) {
			conn.Close(4004, "Terminal deleted")
			return
		}
		if cur.Status == term.Status && sameString(cur.TunnelURL, term.TunnelURL) {
			continue
		}
		term = cur
		if err := send(term); err != nil {
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, string(term.Status))
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
