// Package servicemgr is the Service Manager (C4): an in-memory registry of
// running services, lazy start-on-first-request, and a reverse proxy to the
// per-service child listening on its allocated port.
package servicemgr

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	core "github.com/nanoedge/nanoedgert/internal/core"
	"github.com/nanoedge/nanoedgert/internal/domain"
	"github.com/nanoedge/nanoedgert/internal/metrics"
	"github.com/nanoedge/nanoedgert/internal/sandbox"
	"github.com/nanoedge/nanoedgert/internal/store"
	"github.com/nanoedge/nanoedgert/pkg/logger"
	"github.com/nanoedge/nanoedgert/pkg/version"
)

// Instance is one entry in the in-memory registry. ready is closed exactly
// once, when the instance leaves "starting" (either to running or error) —
// concurrent get_or_start callers that found the placeholder block on it
// instead of racing the spawn themselves.
type Instance struct {
	name   string
	status domain.ServiceStatus
	port   int
	handle *sandbox.Handle
	proxy  *httputil.ReverseProxy
	err    error
	ready  chan struct{}
}

// Manager owns every running service instance. The store is the source of
// truth for Service/Port rows; Manager owns only the process-local handles
// and status, which do not survive a restart (spec §4.3's state machine
// starts every service "absent" again on boot).
type Manager struct {
	store *store.Store
	log   *logger.Logger

	mu        sync.Mutex
	instances map[string]*Instance
}

func New(st *store.Store, log *logger.Logger) *Manager {
	return &Manager{
		store:     st,
		log:       log,
		instances: make(map[string]*Instance),
	}
}

// GetOrStart returns a running instance for serviceName, starting it first
// if necessary. It is not re-entrant for a given name: concurrent first-touch
// callers observe a single spawn by waiting on the placeholder's ready
// channel rather than racing each other (spec §4.3's ordering guarantee).
func (m *Manager) GetOrStart(ctx context.Context, serviceName string) (*Instance, error) {
	m.mu.Lock()
	if inst, ok := m.instances[serviceName]; ok {
		m.mu.Unlock()
		<-inst.ready
		if inst.err != nil {
			return nil, inst.err
		}
		return inst, nil
	}

	inst := &Instance{name: serviceName, status: domain.ServiceStatusStarting, ready: make(chan struct{})}
	m.instances[serviceName] = inst
	m.mu.Unlock()

	m.start(ctx, inst)
	if inst.err != nil {
		return nil, inst.err
	}
	return inst, nil
}

// start performs the slow spawn work for a placeholder instance already
// installed in the registry, then closes inst.ready exactly once so any
// concurrent waiter unblocks.
func (m *Manager) start(ctx context.Context, inst *Instance) {
	defer close(inst.ready)

	done := core.StartObservation(ctx, metrics.ServiceManagerHooks(), map[string]string{"service_name": inst.name})
	defer func() { done(inst.err) }()

	svc, err := m.store.GetService(ctx, inst.name)
	if err != nil {
		m.fail(inst, err)
		return
	}
	if !svc.Enabled {
		m.fail(inst, apperr.Wrapf(apperr.Disabled, "service %q is disabled", inst.name))
		return
	}

	port, err := m.store.GetPort(ctx, inst.name)
	if err != nil {
		m.fail(inst, err)
		return
	}
	allocated := 0
	if port != nil {
		allocated = *port
	} else {
		allocated, err = m.store.AllocatePort(ctx, inst.name)
		if err != nil {
			m.fail(inst, err)
			return
		}
	}

	handle, err := sandbox.Spawn(context.Background(), sandbox.Unit{
		Name:        inst.name,
		Code:        svc.Code,
		Permissions: svc.Permissions,
		Mode:        sandbox.ModeService,
		Port:        allocated,
		StaticDir:   "static/" + inst.name,
		StaticURL:   fmt.Sprintf("http://127.0.0.1:%d/api/v2/%s/dist/", allocated, inst.name),
	})
	if err != nil {
		_ = m.store.ReleasePort(ctx, inst.name)
		m.fail(inst, apperr.Wrap(apperr.ServiceFailedToStart, err.Error()))
		return
	}
	handle.OnError(func(err error) {
		m.log.WithFields(map[string]any{"service_name": inst.name}).Warnf("service child reported error: %v", err)
	})

	inst.port = allocated
	inst.handle = handle
	inst.proxy = newProxy(inst.name, allocated)
	inst.status = domain.ServiceStatusRunning
	m.log.WithFields(map[string]any{"service_name": inst.name, "port": allocated}).Info("service started")
	metrics.RecordServiceStart(inst.name, "ok")
}

func (m *Manager) fail(inst *Instance, err error) {
	inst.status = domain.ServiceStatusError
	inst.err = err
	m.log.WithFields(map[string]any{"service_name": inst.name}).Warnf("service failed to start: %v", err)
	metrics.RecordServiceStart(inst.name, "error")
}

// Stop terminates the child's sandbox, releases its port, and removes it
// from the registry. The stop message it sends is not delivered: a
// Service-mode handle rejects Send, so the child gets no chance to shut down
// on its own before Terminate. Idempotent: stopping an absent or
// already-stopped service is a no-op, and then no port is released.
func (m *Manager) Stop(ctx context.Context, serviceName string) error {
	m.mu.Lock()
	inst, ok := m.instances[serviceName]
	if ok {
		delete(m.instances, serviceName)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	<-inst.ready

	if inst.handle != nil {
		_ = inst.handle.Send(map[string]any{"type": "stop"})
		if err := inst.handle.Terminate(); err != nil {
			m.log.WithFields(map[string]any{"service_name": serviceName}).Warnf("terminate: %v", err)
		}
	}
	if err := m.store.ReleasePort(ctx, serviceName); err != nil {
		m.log.WithFields(map[string]any{"service_name": serviceName}).Warnf("release port: %v", err)
	}
	return nil
}

// StopAll stops every running instance, sequentially and best-effort —
// errors are logged, not returned, so one stuck child cannot block shutdown
// of the rest (spec §4.3).
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		if err := m.Stop(ctx, name); err != nil {
			m.log.WithFields(map[string]any{"service_name": name}).Warnf("stop_all: %v", err)
		}
	}
}

// newProxy builds the httputil.ReverseProxy forwarding to the child bound to
// port. FlushInterval: -1 disables response buffering so SSE/streaming
// service responses pass through untouched, per spec §4.3/§4.8.
func newProxy(name string, port int) *httputil.ReverseProxy {
	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}
	return &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host
			req.Header.Set("Via", version.UserAgent())
		},
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, fmt.Sprintf("service %q unavailable: %v", name, err), http.StatusBadGateway)
		},
	}
}

// Forward proxies an incoming request to the instance's child verbatim
// (method, headers, body copied 1-for-1); on transport error the proxy's
// ErrorHandler writes 502 directly to w.
func (m *Manager) Forward(w http.ResponseWriter, r *http.Request, inst *Instance) {
	inst.proxy.ServeHTTP(w, r)
}

// Status reports the in-memory lifecycle state of serviceName, or
// domain.ServiceStatusStopped if it is not currently registered.
func (m *Manager) Status(serviceName string) domain.ServiceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[serviceName]
	if !ok {
		return domain.ServiceStatusStopped
	}
	select {
	case <-inst.ready:
		return inst.status
	default:
		return domain.ServiceStatusStarting
	}
}

// Snapshot reports the in-memory status of every currently registered
// instance, for the front door's /status endpoint (spec §4.7). A service
// that was never touched this process lifetime is simply absent from the
// map, matching spec §4.3's "every service starts absent again on restart".
func (m *Manager) Snapshot() map[string]domain.ServiceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.ServiceStatus, len(m.instances))
	for name, inst := range m.instances {
		select {
		case <-inst.ready:
			out[name] = inst.status
		default:
			out[name] = domain.ServiceStatusStarting
		}
	}
	return out
}
