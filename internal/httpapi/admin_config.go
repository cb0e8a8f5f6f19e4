package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nanoedge/nanoedgert/internal/apperr"
)

func (h *Handler) adminListConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.ListConfig(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writePage(w, r, cfg)
}

func (h *Handler) adminGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.GetConfig(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type configRequest struct {
	Value string `json:"value"`
}

// adminSetConfig upserts a single config row. Changing available_port_start
// or available_port_end here does not retroactively move already-allocated
// ports — it only changes the window new allocations draw from (spec §9).
func (h *Handler) adminSetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req configRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Value == "" {
		writeError(w, http.StatusBadRequest, apperr.Wrap(apperr.InvalidInput, `"value" is required`))
		return
	}
	if err := h.store.SetConfig(r.Context(), key, req.Value); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}
