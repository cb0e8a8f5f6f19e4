package httpapi

import (
	"net/http"

	"github.com/nanoedge/nanoedgert/internal/auth"
)

// requireAdmin gates the entire /admin-api/v2 subtree: a missing or invalid
// bearer token never reaches a handler (spec §4.6/§7 — Unauthorized is
// rejected at the boundary, not surfaced from inside a handler).
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.auth.RequireBearer(r); err != nil {
			writeAppError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireLocalhost gates /jwt/create: only a caller on the loopback
// interface may mint a token (spec §4.6).
func (h *Handler) requireLocalhost(w http.ResponseWriter, r *http.Request) bool {
	if auth.IsLocalhost(r) {
		return true
	}
	writeAppError(w, errUnauthorizedLocalOnly)
	return false
}
