package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	"github.com/nanoedge/nanoedgert/internal/domain"
	"github.com/nanoedge/nanoedgert/internal/store"
)

type serviceRequest struct {
	Name        string             `json:"name"`
	Code        string             `json:"code"`
	Enabled     *bool              `json:"enabled,omitempty"`
	JWTCheck    *bool              `json:"jwt_check,omitempty"`
	Permissions *domain.Permissions `json:"permissions,omitempty"`
	Schema      *string            `json:"schema,omitempty"`
}

func (h *Handler) adminListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.store.ListServices(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writePage(w, r, services)
}

func (h *Handler) adminGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.store.GetService(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (h *Handler) adminCreateService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, apperr.Wrap(apperr.InvalidInput, `"name" and "code" are required`))
		return
	}
	svc := domain.Service{
		Name:     req.Name,
		Code:     req.Code,
		Enabled:  boolOr(req.Enabled, true),
		JWTCheck: boolOr(req.JWTCheck, false),
		Schema:   req.Schema,
	}
	if req.Permissions != nil {
		svc.Permissions = *req.Permissions
	}
	created, err := h.store.CreateService(r.Context(), svc)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) adminUpdateService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req serviceRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	patch := store.ServicePatch{
		Enabled:     req.Enabled,
		JWTCheck:    req.JWTCheck,
		Permissions: req.Permissions,
		Schema:      req.Schema,
	}
	if req.Code != "" {
		patch.Code = &req.Code
	}
	updated, err := h.store.UpdateService(r.Context(), name, patch)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// adminDeleteService stops any running instance and releases its port
// before removing the row, so a deleted service never leaves an orphaned
// child or a permanently-held port reservation behind (spec §4.3).
func (h *Handler) adminDeleteService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.services.Stop(r.Context(), name); err != nil {
		writeAppError(w, err)
		return
	}
	// Stop releases only the port of an instance running in this process; a
	// port kept from an earlier start is released here.
	if err := h.store.ReleasePort(r.Context(), name); err != nil && !errors.Is(err, apperr.NotAllocated) {
		writeAppError(w, err)
		return
	}
	if err := h.store.DeleteService(r.Context(), name); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
