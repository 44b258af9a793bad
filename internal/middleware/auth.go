package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gluk-w/claworc/terminal-server/internal/auth"
	"github.com/gluk-w/claworc/terminal-server/internal/logutil"
)

type contextKey string

const adminContextKey contextKey = "admin"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireAdmin admits requests carrying a valid admin bearer JWT signed
// with secret.
func RequireAdmin(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
				return
			}
			claims, err := auth.ParseAdminToken(secret, token)
			if err != nil {
				log.Printf("[auth] Rejected admin token from %s: %v", logutil.SanitizeForLog(r.RemoteAddr), err)
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
				return
			}
			ctx := context.WithValue(r.Context(), adminContextKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdmin returns the authenticated admin username, or "".
func GetAdmin(r *http.Request) string {
	name, _ := r.Context().Value(adminContextKey).(string)
	return name
}
