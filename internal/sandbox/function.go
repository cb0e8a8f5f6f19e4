package sandbox

import (
	"context"
	"fmt"
	"regexp"

	"github.com/dop251/goja"
	"github.com/tidwall/gjson"

	"github.com/nanoedge/nanoedgert/internal/apperr"
)

// spawnFunction runs a Function-mode unit: evaluate the adapter prelude and
// user code, wait for the single invocation input, call default_export(input),
// and translate the result into adapter messages per spec §4.2/§4.4.
func spawnFunction(ctx context.Context, unit Unit) (*Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		recv:   make(chan Message, 8),
		input:  make(chan any, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	rt, _, stop := newRuntime(runCtx, unit.Permissions)
	if unit.StaticURL != "" {
		_ = rt.Set("staticUrl", unit.StaticURL)
	}

	defaultExport, err := runAdapter(rt, unit.Code)
	if err != nil {
		close(stop)
		message, stack := describeError(err)
		h.recv <- Message{Type: MessageError, Text: message, Stack: stack}
		close(h.recv)
		h.doneOnce.Do(func() { close(h.done) })
		return h, apperr.Wrapf(apperr.ModuleLoadError, "load %q: %s", unit.Name, message)
	}
	fn, ok := goja.AssertFunction(defaultExport)
	if !ok {
		close(stop)
		close(h.recv)
		h.doneOnce.Do(func() { close(h.done) })
		return h, apperr.Wrapf(apperr.NoDefaultExport, "%q has no default export function", unit.Name)
	}

	go func() {
		defer close(stop)
		defer close(h.recv)
		defer cancel()
		defer h.doneOnce.Do(func() { close(h.done) })
		defer func() {
			if r := recover(); r != nil {
				h.reportError(fmt.Errorf("sandbox: panic running %q: %v", unit.Name, r))
			}
		}()

		var input any
		select {
		case input = <-h.input:
		case <-runCtx.Done():
			return
		}

		result, err := fn(goja.Undefined(), rt.ToValue(input))
		if err != nil {
			message, stack := describeError(err)
			h.recv <- Message{Type: MessageError, Text: message, Stack: stack}
			return
		}
		result, err = resolveValue(runCtx, result)
		if err != nil {
			message, stack := describeError(err)
			h.recv <- Message{Type: MessageError, Text: message, Stack: stack}
			return
		}

		if iter, ok := asIterator(rt, result); ok {
			h.recv <- Message{Type: MessageProgress, ContentType: "text/event-stream"}
			finalValue := h.drainGenerator(rt, runCtx, iter)
			h.recv <- Message{Type: MessageStreamResult, Value: finalValue}
			return
		}

		exported := result.Export()
		h.recv <- Message{Type: MessageResult, ContentType: detectContentType(exported), Value: exported}
	}()

	return h, nil
}

// drainGenerator pulls values from a JS iterator, posting a progress message
// per yielded value, and returns the generator's return value. It observes
// ctx so a client disconnect (propagated by the dispatcher via Terminate)
// stops the pull loop promptly instead of draining to completion.
func (h *Handle) drainGenerator(rt *goja.Runtime, ctx context.Context, iter *goja.Object) any {
	next, _ := goja.AssertFunction(iter.Get("next"))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		step, err := next(iter)
		if err != nil {
			message, stack := describeError(err)
			h.recv <- Message{Type: MessageError, Text: message, Stack: stack}
			return nil
		}
		// An async generator's next() returns a Promise of {value,done}
		// rather than the pair directly; resolve it before reading either.
		step, err = resolveValue(ctx, step)
		if err != nil {
			message, stack := describeError(err)
			h.recv <- Message{Type: MessageError, Text: message, Stack: stack}
			return nil
		}
		stepObj := step.ToObject(rt)
		if stepObj.Get("done").ToBoolean() {
			return stepObj.Get("value").Export()
		}
		h.recv <- Message{Type: MessageProgress, Value: stepObj.Get("value").Export()}
	}
}

func asIterator(rt *goja.Runtime, val goja.Value) (*goja.Object, bool) {
	obj, ok := val.(*goja.Object)
	if !ok {
		return nil, false
	}
	nextVal := obj.Get("next")
	if nextVal == nil || goja.IsUndefined(nextVal) {
		return nil, false
	}
	if _, ok := goja.AssertFunction(nextVal); !ok {
		return nil, false
	}
	return obj, true
}

var htmlTagPattern = regexp.MustCompile(`(?s)<[a-zA-Z][^>]*>`)

// detectContentType implements the adapter's content-type detection rule
// (spec §4.4): HTML if the value looks like markup, JSON if it round-trips
// through parse, otherwise plain text; non-string values are always JSON.
func detectContentType(value any) string {
	s, ok := value.(string)
	if !ok {
		return "application/json"
	}
	if htmlTagPattern.MatchString(s) {
		return "text/html"
	}
	if gjson.Valid(s) {
		return "application/json"
	}
	return "text/plain"
}
