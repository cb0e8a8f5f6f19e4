package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/nanoedge/nanoedgert/internal/system"
	"github.com/nanoedge/nanoedgert/pkg/version"
)

type upTime struct {
	Milliseconds int64  `json:"ms"`
	Seconds      int64  `json:"sec"`
	Human        string `json:"human"`
}

// health is the liveness probe: no auth, no dependency checks, just "the
// process is accepting connections" (spec §4.7).
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// status reports process resource usage and per-service liveness, per spec
// §4.7/§4.8. A process-stats failure degrades to zero values rather than
// failing the whole endpoint — /status must stay usable for triage even
// when gopsutil can't read /proc.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	elapsed := now.Sub(h.bootTime)

	resp := map[string]any{
		"status":      "ok",
		"version":     version.FullVersion(),
		"startTime":   h.bootTime,
		"currentTime": now,
		"upTime": upTime{
			Milliseconds: elapsed.Milliseconds(),
			Seconds:      int64(elapsed.Seconds()),
			Human:        elapsed.Round(time.Second).String(),
		},
		"services":   h.services.Snapshot(),
		"process":    h.processStats(),
		"components": system.CollectDescriptors(h.components),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) processStats() map[string]any {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	cpuPercent, _ := proc.CPUPercent()
	mem, memErr := proc.MemoryInfo()
	stats := map[string]any{"cpu_percent": cpuPercent}
	if memErr == nil && mem != nil {
		stats["rss_bytes"] = mem.RSS
		stats["vms_bytes"] = mem.VMS
	}
	return stats
}

// openapiJSON serves the top-level OpenAPI document describing the front
// door's own routes (service/function-specific documents live under
// /api/docs/openapi/:svc instead).
func (h *Handler) openapiJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, frontDoorOpenAPI())
}

// docsUI serves a minimal Swagger UI pointed at /openapi.json.
func (h *Handler) docsUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(swaggerUIHTML("/openapi.json")))
}

// staticFile serves files out of ./static, the destination host-frontend
// uploads are extracted into (spec §6.3).
func (h *Handler) staticFile(w http.ResponseWriter, r *http.Request) {
	http.StripPrefix("/static/", http.FileServer(http.Dir(h.staticDir))).ServeHTTP(w, r)
}

// jwtCreate mints a 24h admin access token. Reachable only from the
// loopback interface — it is the sole entry point to authenticated admin
// and jwt_check-gated traffic (spec §4.6).
func (h *Handler) jwtCreate(w http.ResponseWriter, r *http.Request) {
	if !h.requireLocalhost(w, r) {
		return
	}
	minted, err := h.auth.MintAccessToken(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, minted)
}
