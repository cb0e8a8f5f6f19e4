// Package apperr defines the sentinel error taxonomy shared by every
// component. Components return these (wrapped with context via fmt.Errorf's
// %w) and only the HTTP boundary inspects them with errors.Is/errors.As to
// choose a status code; domain and service code never imports net/http.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// Unauthorized means the request's bearer token is missing or failed verification.
	Unauthorized = errors.New("unauthorized")
	// NotFound means a service, function, task, or queue row does not exist.
	NotFound = errors.New("not found")
	// Disabled means a function or service exists but is administratively disabled.
	Disabled = errors.New("disabled")
	// InvalidInput means a request body is missing a required field or fails to parse.
	InvalidInput = errors.New("invalid input")
	// Conflict means a create would violate a uniqueness constraint (duplicate name).
	Conflict = errors.New("conflict")
	// ExhaustedPorts means the port allocator's configured range has no free port.
	ExhaustedPorts = errors.New("exhausted ports")
	// NotAllocated means release(service_name) was called on a service with no port.
	NotAllocated = errors.New("not allocated")
	// ServiceFailedToStart means the script executor's adapter failed to come up.
	ServiceFailedToStart = errors.New("service failed to start")
	// ServiceUnavailable means a transport error occurred while forwarding to a running child.
	ServiceUnavailable = errors.New("service unavailable")
	// UnsupportedContentType means the queue executor received a response it cannot interpret.
	UnsupportedContentType = errors.New("unsupported content type")
	// HandlerThrew means user JS threw inside a function or service handler.
	HandlerThrew = errors.New("handler threw")
	// Timeout means a function invocation exceeded function_execution_timeout_ms.
	Timeout = errors.New("timeout")
	// SpawnFailed means the script executor could not start a runtime for a unit.
	SpawnFailed = errors.New("spawn failed")
	// ModuleLoadError means a unit's source failed to evaluate.
	ModuleLoadError = errors.New("module load error")
	// NoDefaultExport means a unit's source evaluated but produced no callable default export.
	NoDefaultExport = errors.New("no default export")
	// Terminated means a unit's handle was terminated before it produced a terminal message.
	Terminated = errors.New("terminated")
)

// Error wraps a sentinel with additional context while remaining matchable
// via errors.Is against the sentinel.
type Error struct {
	Sentinel error
	Message  string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Sentinel.Error()
	}
	return e.Sentinel.Error() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Wrap builds an *Error pairing a sentinel with a human-readable message.
func Wrap(sentinel error, message string) error {
	return &Error{Sentinel: sentinel, Message: message}
}

// Wrapf is Wrap with fmt-style formatting.
func Wrapf(sentinel error, format string, args ...any) error {
	return Wrap(sentinel, fmt.Sprintf(format, args...))
}
