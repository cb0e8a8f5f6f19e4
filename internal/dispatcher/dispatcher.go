// Package dispatcher is the Function Dispatcher (C5): it spawns a
// Function-mode child per invocation and translates the adapter's messages
// into a content-type-tagged Response that either an HTTP handler or the
// Queue Executor can consume, per spec §4.4.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	"github.com/nanoedge/nanoedgert/internal/domain"
	"github.com/nanoedge/nanoedgert/internal/sandbox"
	"github.com/nanoedge/nanoedgert/internal/store"
)

// Event is one SSE-equivalent frame of a streaming Response. Done marks the
// terminal frame (the adapter's "stream-result" message); Value carries the
// progress or final payload.
type Event struct {
	Value any
	Done  bool
	Err   error
}

// Response is the Function Dispatcher's uniform result: either a single
// buffered body (JSON/text/HTML/binary) or a channel of streamed Events.
// Exactly one of Body or Events is set, mirroring the adapter message table
// in spec §4.4.
type Response struct {
	ContentType string
	Body        []byte
	Events      <-chan Event

	cancel func()
}

// Cancel propagates a client disconnect to the underlying sandbox child:
// the executor is terminated so a mid-stream generator is aborted rather
// than left running to completion (spec §4.4).
func (r *Response) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Dispatcher owns no state of its own; it reads Function rows from the
// store and spawns a fresh sandbox.Handle per invocation.
type Dispatcher struct {
	store *store.Store
}

func New(st *store.Store) *Dispatcher {
	return &Dispatcher{store: st}
}

// Invoke runs function_name once with params as its single input message
// and returns a Response describing the adapter's reply. The returned
// Response's Cancel must be called once the caller is done consuming it, in
// both the success and the client-disconnect path, to guarantee the
// underlying sandbox Handle is terminated and leaks no goroutine or socket.
func (d *Dispatcher) Invoke(ctx context.Context, functionName string, params any) (*Response, error) {
	fn, err := d.store.GetFunction(ctx, functionName)
	if err != nil {
		return nil, err
	}
	if !fn.Enabled {
		return nil, apperr.Wrapf(apperr.Disabled, "function %q is disabled", functionName)
	}

	timeoutMS := domain.DefaultFunctionExecutionTimeout
	if cfg, err := d.store.GetConfig(ctx, domain.ConfigKeyFunctionExecutionTimeout); err == nil {
		if v, convErr := strconv.Atoi(cfg.Value); convErr == nil {
			timeoutMS = v
		}
	}
	invokeCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)

	handle, err := sandbox.Spawn(invokeCtx, sandbox.Unit{
		Name:        functionName,
		Code:        fn.Code,
		Permissions: fn.Permissions,
		Mode:        sandbox.ModeFunction,
	})
	if err != nil {
		cancel()
		return nil, apperr.Wrap(apperr.SpawnFailed, err.Error())
	}
	cancelInvocation := func() {
		_ = handle.Terminate()
		cancel()
	}
	if err := handle.Send(params); err != nil {
		cancelInvocation()
		return nil, apperr.Wrap(apperr.HandlerThrew, err.Error())
	}

	first, ok := <-handle.Recv()
	if !ok {
		cancelInvocation()
		return nil, apperr.Wrap(apperr.Terminated, "child closed with no response")
	}

	switch first.Type {
	case sandbox.MessageError:
		timedOut := errors.Is(invokeCtx.Err(), context.DeadlineExceeded)
		cancelInvocation()
		if timedOut {
			return nil, apperr.Wrapf(apperr.Timeout, "function %q exceeded %dms", functionName, timeoutMS)
		}
		return nil, apperr.Wrapf(apperr.HandlerThrew, "%s", first.Text)

	case sandbox.MessageResult:
		cancelInvocation()
		body, contentType, err := encodeResult(first)
		if err != nil {
			return nil, err
		}
		return &Response{ContentType: contentType, Body: body}, nil

	case sandbox.MessageProgress:
		// The leading "text/event-stream" marker (spec §4.2); subsequent
		// messages on the same channel are the actual progress/result frames.
		events := make(chan Event, 8)
		go streamEvents(handle.Recv(), events)
		return &Response{ContentType: "text/event-stream", Events: events, cancel: cancelInvocation}, nil

	default:
		cancelInvocation()
		return nil, apperr.Wrapf(apperr.UnsupportedContentType, "unexpected adapter message %q", first.Type)
	}
}

// streamEvents relays the adapter's progress/stream-result messages onto
// events in delivery order, never reordering or coalescing them (spec §5),
// then closes events once the terminal message (or the channel) is seen.
func streamEvents(msgs <-chan sandbox.Message, events chan<- Event) {
	defer close(events)
	for msg := range msgs {
		switch msg.Type {
		case sandbox.MessageProgress:
			events <- Event{Value: msg.Value}
		case sandbox.MessageStreamResult:
			events <- Event{Value: msg.Value, Done: true}
			return
		case sandbox.MessageError:
			events <- Event{Err: apperrFromMessage(msg), Done: true}
			return
		}
	}
}

func apperrFromMessage(msg sandbox.Message) error {
	return apperr.Wrapf(apperr.HandlerThrew, "%s", msg.Text)
}

// encodeResult turns a Function-mode MessageResult into a response body and
// content type, per spec §4.4's adapter message table. Non-string values
// are JSON-marshaled directly; string values already carry their detected
// content type from the sandbox.
func encodeResult(msg sandbox.Message) ([]byte, string, error) {
	if s, ok := msg.Value.(string); ok {
		return []byte(s), msg.ContentType, nil
	}
	body, err := json.Marshal(msg.Value)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.HandlerThrew, err.Error())
	}
	return body, "application/json", nil
}
