package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/claworc/terminal-server/internal/auth"
	"github.com/gluk-w/claworc/terminal-server/internal/config"
	"github.com/gluk-w/claworc/terminal-server/internal/database"
	"github.com/gluk-w/claworc/terminal-server/internal/orchestrator"
	"github.com/gluk-w/claworc/terminal-server/internal/terminals"
)

func TestAdminLogin(t *testing.T) {
	setupTestService(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"username":"admin","password":"hunter2"}`, http.StatusOK},
		{"wrong password", `{"username":"admin","password":"nope"}`, http.StatusUnauthorized},
		{"wrong user", `{"username":"root","password":"hunter2"}`, http.StatusUnauthorized},
		{"malformed", `{`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			AdminLogin(w, newChiRequestWithBody("POST", "/api/v1/admin/login", nil, []byte(tt.body)))
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
			if tt.want != http.StatusOK {
				return
			}
			var resp tokenResponse
			json.Unmarshal(w.Body.Bytes(), &resp)
			if resp.TokenType != "bearer" || resp.ExpiresIn != 3600 {
				t.Errorf("unexpected token response %+v", resp)
			}
			claims, err := auth.ParseAdminToken(testSecret, resp.AccessToken)
			if err != nil || claims.Subject != "admin" {
				t.Errorf("issued token does not verify: %v", err)
			}
		})
	}
}

func TestAdminLoginWithHash(t *testing.T) {
	setupTestService(t)
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	config.Cfg.AdminPassword = ""
	config.Cfg.AdminPasswordHash = hash

	w := httptest.NewRecorder()
	AdminLogin(w, newChiRequestWithBody("POST", "/api/v1/admin/login", nil, []byte(`{"username":"admin","password":"s3cret"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAdminLoginRateLimited(t *testing.T) {
	setupTestService(t)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		AdminLogin(w, newChiRequestWithBody("POST", "/api/v1/admin/login", nil, []byte(`{"username":"admin","password":"nope"}`)))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	AdminLogin(w, newChiRequestWithBody("POST", "/api/v1/admin/login", nil, []byte(`{"username":"admin","password":"hunter2"}`)))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestAdminListAndDelete(t *testing.T) {
	drv := setupTestService(t)
	seedTerminal(t, "g1", database.StatusStarted, func(term *database.Terminal) {
		term.ContainerRef = database.StrPtr("ctr-g1")
	})
	seedTerminal(t, "g2", database.StatusStopped, func(term *database.Terminal) {
		term.OwnerID = database.StrPtr("guest-9")
	})

	w := httptest.NewRecorder()
	AdminListTerminals(w, newChiRequest("GET", "/api/v1/admin/terminals", nil))
	var resp terminalListResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 {
		t.Fatalf("expected both owners listed, got %d", resp.Total)
	}

	w = httptest.NewRecorder()
	AdminDeleteTerminal(w, newChiRequest("DELETE", "/api/v1/admin/terminals/g1", map[string]string{"id": "g1"}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if drv.deletes != 1 {
		t.Errorf("expected synchronous container delete, got %d", drv.deletes)
	}

	w = httptest.NewRecorder()
	AdminDeleteTerminal(w, newChiRequest("DELETE", "/api/v1/admin/terminals/g1", map[string]string{"id": "g1"}))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for deleted terminal, got %d", w.Code)
	}
}

func TestAdminStats(t *testing.T) {
	setupTestService(t)
	seedTerminal(t, "s1", database.StatusStarted, func(term *database.Terminal) {
		term.ContainerRef = database.StrPtr("ctr-s1")
	})
	seedTerminal(t, "s2", database.StatusStopped, nil)
	seedTerminal(t, "s3", database.StatusFailed, nil)
	cpu := 33.0
	Terminals.Stats().Update("ctr-s1", orchestrator.ResourceStats{CPUPercent: &cpu})

	w := httptest.NewRecorder()
	AdminStats(w, newChiRequest("GET", "/api/v1/admin/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp adminStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Active != 1 || len(resp.Terminals) != 2 {
		t.Fatalf("unexpected stats %+v", resp)
	}
	for _, ts := range resp.Terminals {
		if ts.TerminalID == "s1" && (ts.Stats == nil || *ts.Stats.CPUPercent != 33) {
			t.Errorf("expected cached cpu for s1, got %+v", ts.Stats)
		}
		if ts.TerminalID == "s1" && ts.ContainerStatus != "running" {
			t.Errorf("expected backend status for s1, got %q", ts.ContainerStatus)
		}
		if ts.TerminalID == "s2" && ts.ContainerStatus != "" {
			t.Errorf("expected no backend status for stopped s2, got %q", ts.ContainerStatus)
		}
	}
}

func TestServerLogs(t *testing.T) {
	setupTestService(t)
	if err := os.WriteFile(config.Cfg.LogPath, []byte("one\ntwo\nthree\n"), 0644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	w := httptest.NewRecorder()
	GetServerLogs(w, newChiRequest("GET", "/api/v1/admin/logs?lines=2", nil))
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["logs"] != "two\nthree" {
		t.Errorf("unexpected logs %q", body["logs"])
	}

	w = httptest.NewRecorder()
	ClearServerLogs(w, newChiRequest("DELETE", "/api/v1/admin/logs", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	data, _ := os.ReadFile(config.Cfg.LogPath)
	if len(bytes.TrimSpace(data)) != 0 {
		t.Errorf("expected empty log, got %q", data)
	}
}

func TestRunSweep(t *testing.T) {
	setupTestService(t)
	seedTerminal(t, "old", database.StatusStarted, func(term *database.Terminal) {
		term.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	})

	w := httptest.NewRecorder()
	RunSweep(w, newChiRequest("POST", "/api/v1/admin/sweep", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res terminals.SweepResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if res.Expired.Processed != 1 {
		t.Errorf("expected one expired, got %+v", res)
	}
	if !strings.Contains(w.Body.String(), `"idle"`) {
		t.Error("expected per-pass counts in response")
	}
}
