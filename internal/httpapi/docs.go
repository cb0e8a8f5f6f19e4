package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nanoedge/nanoedgert/internal/domain"
)

// serviceOpenAPI serves a Service's stored schema verbatim, augmenting it
// with a "servers" entry pointing at this process's own /api/v2/:svc
// prefix when the stored document doesn't already declare one (spec §6.3).
func (h *Handler) serviceOpenAPI(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "svc")
	svc, err := h.store.GetService(r.Context(), name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if svc.Schema == nil || *svc.Schema == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"openapi": "3.0.3",
			"info":    map[string]any{"title": name, "version": "1"},
			"paths":   map[string]any{},
		})
		return
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(*svc.Schema), &doc); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if _, ok := doc["servers"]; !ok {
		mainPort := h.mainPort(r.Context())
		doc["servers"] = []map[string]string{
			{"url": fmt.Sprintf("http://127.0.0.1:%d/api/v2/%s", mainPort, name)},
		}
	}
	writeJSON(w, http.StatusOK, doc)
}

// serviceDocsUI serves a Swagger UI page pointed at a service's own
// generated OpenAPI document.
func (h *Handler) serviceDocsUI(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "svc")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(swaggerUIHTML("/api/docs/openapi/" + name)))
}

func (h *Handler) mainPort(ctx context.Context) int {
	cfg, err := h.store.GetConfig(ctx, domain.ConfigKeyMainPort)
	if err != nil {
		return domain.DefaultMainPort
	}
	var port int
	if _, err := fmt.Sscanf(cfg.Value, "%d", &port); err != nil {
		return domain.DefaultMainPort
	}
	return port
}
