package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	"github.com/nanoedge/nanoedgert/internal/domain"
)

type taskRequest struct {
	Name              string              `json:"name"`
	RetryCount        int                 `json:"retry_count"`
	RetryDelayMS      int                 `json:"retry_delay_ms"`
	BoundFunctionName string              `json:"bound_function_name"`
	Code              string              `json:"code"`
	Permissions       *domain.Permissions `json:"permissions,omitempty"`
	Description       *string             `json:"description,omitempty"`
}

func (h *Handler) adminListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.ListTasks(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writePage(w, r, tasks)
}

func (h *Handler) adminGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// adminCreateTask creates a Task and its bound Function atomically, per
// spec §3 — a task never exists without the function it invokes.
func (h *Handler) adminCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" || req.BoundFunctionName == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, apperr.Wrap(apperr.InvalidInput, `"name", "bound_function_name", and "code" are required`))
		return
	}
	task := domain.Task{
		Name:              req.Name,
		RetryCount:        req.RetryCount,
		RetryDelayMS:      req.RetryDelayMS,
		BoundFunctionName: req.BoundFunctionName,
	}
	fn := domain.Function{
		Code:        req.Code,
		Enabled:     true,
		Description: req.Description,
	}
	if req.Permissions != nil {
		fn.Permissions = *req.Permissions
	}
	created, err := h.store.CreateTask(r.Context(), task, fn)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) adminDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
