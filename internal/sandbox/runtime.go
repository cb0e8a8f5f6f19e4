package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/dop251/goja"

	"github.com/nanoedge/nanoedgert/internal/domain"
)

// newRuntime builds a goja.Runtime with console capture, the capability-gated
// host functions, and an interrupt goroutine tied to ctx — the same
// Runtime-plus-interrupt-goroutine shape the teacher's TEE executor uses,
// generalized from one-shot secret-resolved execution to a capability set.
// The caller owns the returned stop channel and must close it once done
// running script on rt to let the interrupt goroutine exit.
func newRuntime(ctx context.Context, perms domain.Permissions) (rt *goja.Runtime, logs *[]string, stop chan struct{}) {
	rt = goja.New()
	stop = make(chan struct{})
	logsSlice := make([]string, 0)
	logs = &logsSlice

	go func() {
		select {
		case <-ctx.Done():
			rt.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	attachConsole(rt, logs)
	attachCapabilities(rt, perms)

	return rt, logs, stop
}

func attachConsole(rt *goja.Runtime, logs *[]string) {
	console := rt.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		*logs = append(*logs, fmt.Sprint(args...))
		return goja.Undefined()
	}
	_ = console.Set("log", logFn)
	_ = console.Set("info", logFn)
	_ = console.Set("warn", logFn)
	_ = console.Set("error", logFn)
	_ = rt.Set("console", console)
}

// runAdapter evaluates the adapter prelude followed by user code, returning
// the value of the final expression (the module's default export, per the
// exportDefault rewrite below).
func runAdapter(rt *goja.Runtime, code string) (goja.Value, error) {
	if _, err := rt.RunString(adapterPrelude); err != nil {
		return nil, fmt.Errorf("load adapter prelude: %w", err)
	}
	return rt.RunString(rewriteExportDefault(code))
}

var exportDefaultPattern = regexp.MustCompile(`(?m)^\s*export\s+default\s+`)

// rewriteExportDefault translates the single `export default <expr>;` a unit
// is expected to contain into a plain assignment goja can evaluate without a
// module loader, then yields that value as the script's result.
func rewriteExportDefault(code string) string {
	if loc := exportDefaultPattern.FindStringIndex(code); loc != nil {
		code = code[:loc[0]] + "globalThis.__default__ = " + code[loc[1]:]
	}
	return code + "\nglobalThis.__default__;"
}

func resolveValue(ctx context.Context, val goja.Value) (goja.Value, error) {
	promise, ok := val.Export().(*goja.Promise)
	if !ok {
		return val, nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result(), nil
	case goja.PromiseStateRejected:
		return nil, promiseRejectionError(promise.Result())
	default:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("handler returned a promise that did not settle")
	}
}

func promiseRejectionError(reason goja.Value) error {
	if reason == nil {
		return errors.New("promise rejected")
	}
	if exported := reason.Export(); exported != nil {
		if err, ok := exported.(error); ok {
			return err
		}
		return fmt.Errorf("promise rejected: %v", exported)
	}
	return fmt.Errorf("promise rejected: %s", reason.String())
}

// describeError normalizes a goja error into the (message, stack) pair the
// Function-mode adapter reports in a MessageError (spec §4.2's HandlerThrew
// payload).
func describeError(err error) (message, stack string) {
	if err == nil {
		return "", ""
	}
	switch typed := err.(type) {
	case *goja.InterruptedError:
		if v := typed.Value(); v != nil {
			if inner, ok := v.(error); ok {
				return inner.Error(), ""
			}
			return fmt.Sprintf("%v", v), ""
		}
		return "execution interrupted", ""
	case *goja.Exception:
		return typed.Error(), typed.String()
	default:
		return err.Error(), ""
	}
}
