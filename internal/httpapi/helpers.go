package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	core "github.com/nanoedge/nanoedgert/internal/core"
)

var errUnauthorizedLocalOnly = apperr.Wrap(apperr.Unauthorized, "endpoint is reachable only from localhost")

var errStreamingUnsupported = errors.New("response writer does not support streaming")

func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeAppError maps a sentinel from internal/apperr to the HTTP status
// table in spec §7, with the duplicate-name Conflict case deciding 409 per
// spec §9's open question, and writes it. Unrecognized errors are 500s.
func writeAppError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err)
}

// writePage clamps the requested page (?limit=&offset=) against
// core.DefaultListLimit/MaxListLimit and writes the resulting slice of rows,
// so admin list endpoints never dump an unbounded table in one response.
func writePage[T any](w http.ResponseWriter, r *http.Request, rows []T) {
	limit := core.ClampLimit(queryInt(r, "limit", 0), core.DefaultListLimit, core.MaxListLimit)
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		writeJSON(w, http.StatusOK, rows[:0])
		return
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	writeJSON(w, http.StatusOK, rows[offset:end])
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, apperr.Unauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.NotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.Disabled):
		return http.StatusForbidden
	case errors.Is(err, apperr.InvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperr.Conflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ExhaustedPorts):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.NotAllocated):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ServiceFailedToStart):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ServiceUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, apperr.HandlerThrew):
		return http.StatusInternalServerError
	case errors.Is(err, apperr.Timeout):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
