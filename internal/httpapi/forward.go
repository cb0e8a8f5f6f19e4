package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// forwardService is C4: lazily start (or reuse) a running service instance
// and proxy the request to it verbatim. Respects the Service's jwt_check
// flag. A disabled service is not started: GetOrStart reports
// apperr.Disabled for it (spec §4.3/§4.6).
func (h *Handler) forwardService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "svc")

	svc, err := h.store.GetService(r.Context(), name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if svc.JWTCheck {
		if _, err := h.auth.RequireBearer(r); err != nil {
			writeAppError(w, err)
			return
		}
	}

	inst, err := h.services.GetOrStart(r.Context(), name)
	if err != nil {
		writeAppError(w, err)
		return
	}

	h.services.Forward(w, r, inst)
}
