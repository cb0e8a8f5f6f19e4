// Package sandbox is the Script Executor (C3): it runs a unit of
// user-supplied JavaScript inside an isolated goja runtime with a
// capability-gated global scope, and exposes a bidirectional message handle
// with forced termination. Implementations may swap the underlying engine
// (spec §6.1 treats this as an opaque contract); this one uses goja.
package sandbox

import (
	"context"
	"errors"
	"sync"

	core "github.com/nanoedge/nanoedgert/internal/core"
	"github.com/nanoedge/nanoedgert/internal/domain"
	"github.com/nanoedge/nanoedgert/internal/metrics"
)

var (
	errSendNotSupported = errors.New("sandbox: Send is only supported on Function-mode units")
	errAlreadySent      = errors.New("sandbox: input already sent")
)

// Mode selects a Unit's calling convention. Service units bind a long-lived
// HTTP handler to a fixed port; Function units run once per invocation and
// reply through the Handle's message channel.
type Mode int

const (
	ModeService Mode = iota
	ModeFunction
)

// Unit is one spawnable piece of user JS together with its capability set
// and delivery mode (spec §4.2).
type Unit struct {
	Name        string
	Code        string
	Permissions domain.Permissions
	Mode        Mode

	// Service mode only.
	Port      int
	StaticDir string // filesystem root served under the dist/ prefix
	StaticURL string // injected as the global staticUrl in both modes
}

// MessageType enumerates the adapter message vocabulary (spec §4.2/§4.4).
type MessageType string

const (
	MessageProgress     MessageType = "progress"
	MessageResult       MessageType = "result"
	MessageStreamResult MessageType = "stream-result"
	MessageError        MessageType = "error"
)

// Message is one adapter message flowing out of a running unit.
type Message struct {
	Type        MessageType
	ContentType string
	Value       any
	Text        string // populated on MessageError
	Stack       string // populated on MessageError
}

// Handle is the live connection to a spawned Unit: send input, receive
// adapter messages, and force termination on any exit path.
type Handle struct {
	recv   chan Message
	input  chan any // Function mode only: the single invocation payload
	cancel context.CancelFunc

	mu       sync.Mutex
	onErr    func(error)
	done     chan struct{}
	doneOnce sync.Once

	// Service mode only: nil for Function units.
	server *httpBridge
}

// Send delivers the single invocation input to a Function-mode Handle (spec
// §4.2: "reads a single input object from the channel"). It is a no-op,
// returning an error, on a Service-mode Handle or after the first call.
func (h *Handle) Send(v any) error {
	if h.input == nil {
		return errSendNotSupported
	}
	select {
	case h.input <- v:
		return nil
	default:
		return errAlreadySent
	}
}

// Recv returns the channel adapter messages are posted to. It is closed
// once the unit has produced its terminal message (result, stream-result,
// or error) or has been terminated.
func (h *Handle) Recv() <-chan Message {
	return h.recv
}

// OnError registers a callback invoked if the underlying runtime fails
// outside the normal message flow (panic recovery, interrupt propagation).
func (h *Handle) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onErr = fn
}

func (h *Handle) reportError(err error) {
	h.mu.Lock()
	fn := h.onErr
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Terminate cancels the unit's context, forcibly interrupts the goja
// runtime, and tears down any HTTP bridge (Service mode). It is safe to
// call more than once and safe to call concurrently with Recv draining.
func (h *Handle) Terminate() error {
	h.doneOnce.Do(func() {
		h.cancel()
		if h.server != nil {
			h.server.shutdown()
		}
		close(h.done)
	})
	return nil
}

// Spawn starts a Unit. For Mode Function the returned Handle expects exactly
// one Send of the invocation input; for Mode Service the Handle immediately
// begins listening on Unit.Port and Send/Recv are unused — inspect the
// returned error for start failures (spec's ServiceFailedToStart).
func Spawn(ctx context.Context, unit Unit) (*Handle, error) {
	done := core.StartObservation(ctx, metrics.SandboxHooks(), map[string]string{"resource": unit.Name})
	var err error
	defer func() { done(err) }()

	var handle *Handle
	switch unit.Mode {
	case ModeService:
		handle, err = spawnService(ctx, unit)
	default:
		handle, err = spawnFunction(ctx, unit)
	}
	return handle, err
}
