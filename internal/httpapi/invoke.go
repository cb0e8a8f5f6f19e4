package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nanoedge/nanoedgert/internal/dispatcher"
	"github.com/nanoedge/nanoedgert/internal/metrics"
)

// invokeFunction is C5: run a single on-demand invocation of a function and
// write its result, buffered or streamed per spec §6.2's wire formats.
func (h *Handler) invokeFunction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "fn")

	var params any
	if r.ContentLength != 0 {
		if err := decodeJSON(r.Body, &params); err != nil {
			metrics.RecordFunctionExecution(name, "invalid_input", 0)
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	start := time.Now()
	resp, err := h.dispatcher.Invoke(r.Context(), name, params)
	if err != nil {
		metrics.RecordFunctionExecution(name, "error", time.Since(start))
		writeAppError(w, err)
		return
	}

	if resp.Events != nil {
		h.streamResponse(w, r, name, start, resp)
		return
	}

	metrics.RecordFunctionExecution(name, "ok", time.Since(start))
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Body)
}

// streamResponse relays a streaming Response as SSE frames: "data: <json>\n\n"
// per value, and a terminal "data: [DONE]\n\n" or "data: [DONE]<json>\n\n"
// when the generator returns a value (spec §6.2). If the client disconnects
// or a write fails mid-stream, the underlying child is terminated rather
// than buffered against — there is no slow-consumer backlog (spec §9).
func (h *Handler) streamResponse(w http.ResponseWriter, r *http.Request, name string, start time.Time, resp *dispatcher.Response) {
	defer resp.Cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		metrics.RecordFunctionExecution(name, "error", time.Since(start))
		writeError(w, http.StatusInternalServerError, errStreamingUnsupported)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			metrics.RecordFunctionExecution(name, "client_disconnected", time.Since(start))
			return

		case ev, ok := <-resp.Events:
			if !ok {
				metrics.RecordFunctionExecution(name, "ok", time.Since(start))
				return
			}
			if ev.Err != nil {
				if !writeSSEFrame(w, flusher, fmt.Sprintf("[DONE]%s", mustJSON(map[string]string{"error": ev.Err.Error()}))) {
					metrics.RecordFunctionExecution(name, "stream_write_failed", time.Since(start))
					return
				}
				metrics.RecordFunctionExecution(name, "error", time.Since(start))
				return
			}
			if ev.Done {
				if !writeSSEFrame(w, flusher, "[DONE]"+mustJSON(ev.Value)) {
					metrics.RecordFunctionExecution(name, "stream_write_failed", time.Since(start))
				}
				return
			}
			if !writeSSEFrame(w, flusher, mustJSON(ev.Value)) {
				metrics.RecordFunctionExecution(name, "stream_write_failed", time.Since(start))
				return
			}
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, payload string) bool {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
