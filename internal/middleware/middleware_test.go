package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/claworc/terminal-server/internal/auth"
	"github.com/gluk-w/claworc/terminal-server/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func adminEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetAdmin(r)))
	})
}

func TestRequireAdmin(t *testing.T) {
	valid, err := auth.IssueAdminToken(testSecret, "root", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	expired, _ := auth.IssueAdminToken(testSecret, "root", -time.Minute)
	foreign, _ := auth.IssueAdminToken("another-secret-another-secret-xx", "root", time.Hour)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"lowercase scheme", "bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"other secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"callback token", "Bearer " + auth.GenerateCallbackToken(testSecret, "abc"), http.StatusUnauthorized},
	}
	h := RequireAdmin(testSecret)(adminEcho())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/admin/terminals", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if tt.want == http.StatusOK && w.Body.String() != "root" {
				t.Errorf("expected admin in context, got %q", w.Body.String())
			}
		})
	}
}

func TestWithAdminForTest(t *testing.T) {
	r := WithAdminForTest(httptest.NewRequest("GET", "/", nil), "ops")
	if GetAdmin(r) != "ops" {
		t.Errorf("expected ops, got %q", GetAdmin(r))
	}
}

func TestPeerAddrSurvivesRealIP(t *testing.T) {
	var peer, remote string
	h := PeerAddr(chimw.RealIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer = GetPeerHost(r)
		remote = r.RemoteAddr
	})))

	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "198.51.100.7:41234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if remote != "203.0.113.9" {
		t.Fatalf("expected RealIP to rewrite RemoteAddr, got %q", remote)
	}
	if peer != "198.51.100.7" {
		t.Errorf("expected peer host 198.51.100.7, got %q", peer)
	}
}

func TestGetPeerHostFallback(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.4:5555"
	if got := GetPeerHost(req); got != "192.0.2.4" {
		t.Errorf("expected RemoteAddr host, got %q", got)
	}
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/terminals/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest("GET", "/terminals/abc-123", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body := w.Body.String()
	if !strings.Contains(body, `route="/terminals/{id}"`) {
		t.Errorf("expected route pattern label in metrics output")
	}
	if strings.Contains(body, "abc-123") {
		t.Errorf("raw path leaked into metric labels")
	}
	if !strings.Contains(body, `code="418"`) {
		t.Errorf("expected status code label")
	}
}
