package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/claworc/terminal-server/internal/auth"
	"github.com/gluk-w/claworc/terminal-server/internal/config"
	"github.com/gluk-w/claworc/terminal-server/internal/handlers"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestRouterAdminRequiresToken(t *testing.T) {
	orig := config.Cfg.LogPath
	config.Cfg.LogPath = filepath.Join(t.TempDir(), "terminals.log")
	t.Cleanup(func() { config.Cfg.LogPath = orig })

	r := newRouter(testSecret)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/admin/logs", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	token, err := auth.IssueAdminToken(testSecret, "admin", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest("GET", "/api/v1/admin/logs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRouterCallbackValidatesBeforeAuth(t *testing.T) {
	r := newRouter(testSecret)

	req := httptest.NewRequest("POST", "/api/v1/callbacks/tunnel", strings.NewReader(`{"terminal_id":"bad id!"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestRouterMetrics(t *testing.T) {
	r := newRouter(testSecret)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "terminals_") {
		t.Error("expected terminal metrics to be registered")
	}
}

func TestRouterLoginLimitIgnoresForwardedFor(t *testing.T) {
	origCfg := config.Cfg
	origLimiter := handlers.LoginLimiter
	config.Cfg.SecretKey = testSecret
	config.Cfg.AdminUsername = "admin"
	config.Cfg.AdminPassword = "hunter2"
	config.Cfg.AdminPasswordHash = ""
	config.Cfg.AdminTokenTTL = time.Hour
	handlers.LoginLimiter = auth.NewLoginLimiter()
	t.Cleanup(func() {
		config.Cfg = origCfg
		handlers.LoginLimiter = origLimiter
	})

	r := newRouter(testSecret)
	login := func(i int, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/admin/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "198.51.100.7:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 5; i++ {
		if w := login(i, `{"username":"admin","password":"nope"}`); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, w.Code)
		}
	}
	w := login(5, `{"username":"admin","password":"hunter2"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 despite rotating X-Forwarded-For, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}
