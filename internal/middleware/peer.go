package middleware

import (
	"context"
	"net"
	"net/http"
)

const peerContextKey contextKey = "peer"

// PeerAddr records the connection's own address before RealIP rewrites
// RemoteAddr from forwarding headers. Install it ahead of RealIP.
func PeerAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerContextKey, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPeerHost returns the host of the connection's peer address, falling
// back to RemoteAddr when PeerAddr did not run.
func GetPeerHost(r *http.Request) string {
	addr, ok := r.Context().Value(peerContextKey).(string)
	if !ok {
		addr = r.RemoteAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
