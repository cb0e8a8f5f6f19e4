package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	core "github.com/nanoedge/nanoedgert/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nanoedgert",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nanoedgert",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nanoedgert",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	functionExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nanoedgert",
			Subsystem: "functions",
			Name:      "executions_total",
			Help:      "Total number of function invocations.",
		},
		[]string{"function_name", "status"},
	)

	functionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nanoedgert",
			Subsystem: "functions",
			Name:      "execution_duration_seconds",
			Help:      "Duration of function invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"function_name", "status"},
	)

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nanoedgert",
			Subsystem: "services",
			Name:      "starts_total",
			Help:      "Total number of service cold starts performed by the service manager.",
		},
		[]string{"service_name", "outcome"},
	)

	queueClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nanoedgert",
			Subsystem: "queue",
			Name:      "claims_total",
			Help:      "Total number of queue entries claimed by the queue executor.",
		},
		[]string{"outcome"},
	)

	queueTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nanoedgert",
			Subsystem: "queue",
			Name:      "task_duration_seconds",
			Help:      "Duration of queued task runs, from claim to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"status"},
	)

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		functionExecutions,
		functionDuration,
		serviceStarts,
		queueClaims,
		queueTaskDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordFunctionExecution records metrics for an invoked function.
func RecordFunctionExecution(functionName, status string, duration time.Duration) {
	if functionName == "" {
		functionName = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	functionExecutions.WithLabelValues(functionName, status).Inc()
	functionDuration.WithLabelValues(functionName, status).Observe(duration.Seconds())
}

// RecordServiceStart records a service manager cold-start attempt.
func RecordServiceStart(serviceName, outcome string) {
	if serviceName == "" {
		serviceName = "unknown"
	}
	serviceStarts.WithLabelValues(serviceName, outcome).Inc()
}

// RecordQueueClaim records a queue executor claim attempt outcome.
func RecordQueueClaim(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	queueClaims.WithLabelValues(outcome).Inc()
}

// RecordQueueTask records the end-to-end duration of a queued task run.
func RecordQueueTask(status string, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	queueTaskDuration.WithLabelValues(status).Observe(duration.Seconds())
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// ObservationHooks creates core observation hooks backed by Prometheus metrics.
func ObservationHooks(namespace, subsystem, name string) core.ObservationHooks {
	key := namespace + ":" + subsystem + ":" + name
	var collector observationCollector
	if entry, ok := observationCollectors.Load(key); ok {
		collector = entry.(observationCollector)
	} else {
		collector = createObservationCollector(namespace, subsystem, name)
		observationCollectors.Store(key, collector)
	}
	return core.ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Inc()
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, duration time.Duration) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Dec()
			status := "success"
			if err != nil {
				status = "error"
			}
			collector.hist.WithLabelValues(label, status).Observe(duration.Seconds())
		},
	}
}

func createObservationCollector(namespace, subsystem, name string) observationCollector {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_in_flight",
			Help:      "Current operations in flight for " + subsystem,
		},
		[]string{"resource"},
	)
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_duration_seconds",
			Help:      "Duration of operations for " + subsystem,
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"resource", "status"},
	)
	Registry.MustRegister(gauge, hist)
	return observationCollector{gauge: gauge, hist: hist}
}

func metaLabel(meta map[string]string) string {
	if meta == nil {
		return "unknown"
	}
	if id, ok := meta["resource"]; ok && id != "" {
		return id
	}
	if id, ok := meta["service_name"]; ok && id != "" {
		return id
	}
	if id, ok := meta["function_name"]; ok && id != "" {
		return id
	}
	if id, ok := meta["queue_id"]; ok && id != "" {
		return id
	}
	return "unknown"
}

// SandboxHooks captures script executor unit lifecycle timing.
func SandboxHooks() core.ObservationHooks {
	return ObservationHooks("nanoedgert", "sandbox", "units")
}

// ServiceManagerHooks captures service manager get_or_start attempts.
func ServiceManagerHooks() core.DispatchHooks {
	return ObservationHooks("nanoedgert", "servicemgr", "get_or_start")
}

// QueueExecutorHooks captures queue executor claim-to-completion timing.
func QueueExecutorHooks() core.DispatchHooks {
	return ObservationHooks("nanoedgert", "queue", "process")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path parameters so the requests/duration label
// cardinality stays bounded regardless of tenant-supplied service/function
// names.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")

	switch parts[0] {
	case "api":
		if len(parts) >= 2 {
			return "/api/:service"
		}
	case "functions":
		if len(parts) >= 2 {
			return "/functions/:function"
		}
	case "admin-api":
		if len(parts) >= 2 {
			if len(parts) >= 3 {
				return "/admin-api/" + parts[1] + "/:name"
			}
			return "/admin-api/" + parts[1]
		}
	}
	return "/" + parts[0]
}
