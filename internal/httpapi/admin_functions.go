package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	"github.com/nanoedge/nanoedgert/internal/domain"
	"github.com/nanoedge/nanoedgert/internal/store"
)

type functionRequest struct {
	Name        string              `json:"name"`
	Code        string              `json:"code"`
	Enabled     *bool               `json:"enabled,omitempty"`
	Permissions *domain.Permissions `json:"permissions,omitempty"`
	Description *string             `json:"description,omitempty"`
}

func (h *Handler) adminListFunctions(w http.ResponseWriter, r *http.Request) {
	fns, err := h.store.ListFunctions(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writePage(w, r, fns)
}

func (h *Handler) adminGetFunction(w http.ResponseWriter, r *http.Request) {
	fn, err := h.store.GetFunction(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fn)
}

func (h *Handler) adminCreateFunction(w http.ResponseWriter, r *http.Request) {
	var req functionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, apperr.Wrap(apperr.InvalidInput, `"name" and "code" are required`))
		return
	}
	fn := domain.Function{
		Name:        req.Name,
		Code:        req.Code,
		Enabled:     boolOr(req.Enabled, true),
		Description: req.Description,
	}
	if req.Permissions != nil {
		fn.Permissions = *req.Permissions
	}
	created, err := h.store.CreateFunction(r.Context(), fn)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) adminUpdateFunction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req functionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	patch := store.FunctionPatch{
		Enabled:     req.Enabled,
		Permissions: req.Permissions,
		Description: req.Description,
	}
	if req.Code != "" {
		patch.Code = &req.Code
	}
	updated, err := h.store.UpdateFunction(r.Context(), name, patch)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) adminDeleteFunction(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteFunction(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
