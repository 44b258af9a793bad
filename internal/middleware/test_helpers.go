package middleware

import (
	"context"
	"net/http"
)

// WithAdminForTest attaches an admin username to the request context for testing.
func WithAdminForTest(r *http.Request, username string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), adminContextKey, username))
}
