package sandbox

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/nanoedge/nanoedgert/internal/apperr"
)

// httpBridge is the real TCP listener a Service-mode unit is bound to. All
// calls into the goja runtime are funneled through a single channel so the
// (non-thread-safe) runtime is only ever touched from one goroutine, the
// same single-owner discipline spawnFunction's goroutine gets for free.
type httpBridge struct {
	srv   *http.Server
	calls chan call
}

type call struct {
	req  *http.Request
	body []byte
	resp chan callResult
}

type callResult struct {
	status      int
	contentType string
	body        []byte
	err         error
}

func (b *httpBridge) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = b.srv.Shutdown(ctx)
}

// spawnService runs a Service-mode unit: evaluate the adapter and user code
// once to obtain the registered listen() handler (or a callable default
// export used as the handler directly), then bind an HTTP server to
// unit.Port that rewrites and dispatches requests into it per spec §4.2.
func spawnService(ctx context.Context, unit Unit) (*Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		recv:   make(chan Message),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	close(h.recv) // Service mode carries no Send/Recv traffic.

	rt, _, stop := newRuntime(runCtx, unit.Permissions)
	if unit.StaticURL != "" {
		_ = rt.Set("staticUrl", unit.StaticURL)
	}

	defaultExport, err := runAdapter(rt, unit.Code)
	if err != nil {
		close(stop)
		cancel()
		message, _ := describeError(err)
		return nil, apperr.Wrapf(apperr.ModuleLoadError, "load %q: %s", unit.Name, message)
	}

	handler := rt.Get("__listenHandler")
	fn, ok := goja.AssertFunction(handler)
	if !ok {
		fn, ok = goja.AssertFunction(defaultExport)
	}
	if !ok {
		close(stop)
		cancel()
		return nil, apperr.Wrapf(apperr.NoDefaultExport, "%q registered no request handler", unit.Name)
	}

	bridge := &httpBridge{calls: make(chan call)}
	h.server = bridge

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", unit.Port))
	if err != nil {
		close(stop)
		cancel()
		return nil, apperr.Wrapf(apperr.SpawnFailed, "bind port %d: %v", unit.Port, err)
	}

	bridge.srv = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveHTTP(w, r, unit, bridge)
	})}

	go func() {
		_ = bridge.srv.Serve(listener)
	}()

	// Single-goroutine call loop: every request the HTTP server accepts is
	// handed to this goroutine, which is the only one allowed to touch rt.
	go func() {
		defer close(stop)
		for {
			select {
			case <-runCtx.Done():
				return
			case c := <-bridge.calls:
				c.resp <- invokeHandler(rt, runCtx, fn, c.req, c.body)
			}
		}
	}()

	return h, nil
}

func invokeHandler(rt *goja.Runtime, ctx context.Context, fn goja.Callable, r *http.Request, body []byte) callResult {
	reqObj := rt.NewObject()
	_ = reqObj.Set("method", r.Method)
	_ = reqObj.Set("path", r.URL.Path)
	_ = reqObj.Set("query", r.URL.RawQuery)
	_ = reqObj.Set("body", string(body))
	headers := rt.NewObject()
	for k, v := range r.Header {
		_ = headers.Set(k, strings.Join(v, ","))
	}
	_ = reqObj.Set("headers", headers)

	val, err := fn(goja.Undefined(), reqObj)
	if err != nil {
		message, _ := describeError(err)
		return callResult{err: fmt.Errorf("%w: %s", apperr.HandlerThrew, message)}
	}
	val, err = resolveValue(ctx, val)
	if err != nil {
		message, _ := describeError(err)
		return callResult{err: fmt.Errorf("%w: %s", apperr.HandlerThrew, message)}
	}

	obj := val.ToObject(rt)
	status := 200
	if s := obj.Get("status"); s != nil && !goja.IsUndefined(s) {
		status = int(s.ToInteger())
	}
	contentType := "application/json"
	respBody := obj.Get("body")
	var bodyBytes []byte
	if respBody != nil && !goja.IsUndefined(respBody) {
		if s, ok := respBody.Export().(string); ok {
			bodyBytes = []byte(s)
			contentType = detectContentType(s)
		} else {
			bodyBytes = []byte(fmt.Sprint(respBody.Export()))
		}
	}
	if ct := obj.Get("contentType"); ct != nil && !goja.IsUndefined(ct) {
		contentType = ct.String()
	}
	return callResult{status: status, contentType: contentType, body: bodyBytes}
}

// serveHTTP implements the adapter's Service-mode request handling (spec
// §4.2): strip the /api/v2/<service>/ prefix, serve static/<service>/ files
// under the dist/ sub-prefix, or dispatch into the user handler.
func serveHTTP(w http.ResponseWriter, r *http.Request, unit Unit, bridge *httpBridge) {
	prefix := "/api/v2/" + unit.Name + "/"
	rewritten := r.URL.Path
	if strings.HasPrefix(rewritten, prefix) {
		rewritten = strings.TrimPrefix(rewritten, prefix)
	} else {
		rewritten = strings.TrimPrefix(rewritten, "/")
	}

	if unit.StaticDir != "" && strings.HasPrefix(rewritten, "dist/") {
		file := strings.TrimPrefix(rewritten, "dist/")
		http.ServeFile(w, r, path.Join(unit.StaticDir, file))
		return
	}

	body, _ := io.ReadAll(r.Body)
	req2 := r.Clone(r.Context())
	req2.URL.Path = "/" + rewritten

	resp := make(chan callResult, 1)
	select {
	case bridge.calls <- call{req: req2, body: body, resp: resp}:
	case <-r.Context().Done():
		http.Error(w, "client disconnected", http.StatusServiceUnavailable)
		return
	}

	result := <-resp
	if result.err != nil {
		http.Error(w, result.err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", result.contentType)
	w.WriteHeader(result.status)
	_, _ = w.Write(result.body)
}
