package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestInstrumentHandlerRecordsMetrics(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/greeter", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	if !metricCounterGreaterOrEqual(t, "nanoedgert_http_requests_total", map[string]string{
		"method": "GET",
		"path":   "/api/:service",
		"status": "202",
	}, 1) {
		t.Fatalf("expected http request counter to increment")
	}

	if !metricHistogramCountGreaterOrEqual(t, "nanoedgert_http_request_duration_seconds", map[string]string{
		"method": "GET",
		"path":   "/api/:service",
	}, 1) {
		t.Fatalf("expected http duration histogram to record samples")
	}
}

func TestRecordFunctionExecution(t *testing.T) {
	RecordFunctionExecution("greeter", "success", 250*time.Millisecond)
	if !metricCounterGreaterOrEqual(t, "nanoedgert_functions_executions_total", map[string]string{
		"function_name": "greeter",
		"status":        "success",
	}, 1) {
		t.Fatalf("expected function execution counter to increase")
	}
	if !metricHistogramCountGreaterOrEqual(t, "nanoedgert_functions_execution_duration_seconds", map[string]string{
		"function_name": "greeter",
		"status":        "success",
	}, 1) {
		t.Fatalf("expected function duration histogram to record")
	}
}

func TestRecordFunctionExecutionEdgeCases(t *testing.T) {
	RecordFunctionExecution("", "error", 0)
	if !metricCounterGreaterOrEqual(t, "nanoedgert_functions_executions_total", map[string]string{
		"function_name": "unknown",
		"status":        "error",
	}, 1) {
		t.Fatalf("expected unknown function name counter with zero duration")
	}

	RecordFunctionExecution("neg-dur", "error", -100*time.Millisecond)
	if !metricCounterGreaterOrEqual(t, "nanoedgert_functions_executions_total", map[string]string{
		"function_name": "neg-dur",
		"status":        "error",
	}, 1) {
		t.Fatalf("expected function execution counter with negative duration")
	}
}

func TestRecordServiceStart(t *testing.T) {
	RecordServiceStart("greeter-svc", "started")
	if !metricCounterGreaterOrEqual(t, "nanoedgert_services_starts_total", map[string]string{
		"service_name": "greeter-svc",
		"outcome":      "started",
	}, 1) {
		t.Fatalf("expected service start counter to increase")
	}

	RecordServiceStart("", "error")
	if !metricCounterGreaterOrEqual(t, "nanoedgert_services_starts_total", map[string]string{
		"service_name": "unknown",
		"outcome":      "error",
	}, 1) {
		t.Fatalf("expected unknown service name to be used")
	}
}

func TestRecordQueueClaimAndTask(t *testing.T) {
	RecordQueueClaim("claimed")
	if !metricCounterGreaterOrEqual(t, "nanoedgert_queue_claims_total", map[string]string{
		"outcome": "claimed",
	}, 1) {
		t.Fatalf("expected queue claim counter to increase")
	}

	RecordQueueClaim("")
	if !metricCounterGreaterOrEqual(t, "nanoedgert_queue_claims_total", map[string]string{
		"outcome": "unknown",
	}, 1) {
		t.Fatalf("expected unknown outcome to be recorded")
	}

	RecordQueueTask("succeeded", 120*time.Millisecond)
	if !metricHistogramCountGreaterOrEqual(t, "nanoedgert_queue_task_duration_seconds", map[string]string{
		"status": "succeeded",
	}, 1) {
		t.Fatalf("expected queue task duration histogram to record")
	}

	RecordQueueTask("", 0)
	if !metricHistogramCountGreaterOrEqual(t, "nanoedgert_queue_task_duration_seconds", map[string]string{
		"status": "unknown",
	}, 1) {
		t.Fatalf("expected unknown status histogram sample")
	}
}

func metricCounterGreaterOrEqual(t *testing.T, name string, labels map[string]string, min float64) bool {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) && metric.GetCounter() != nil {
				return metric.GetCounter().GetValue() >= min
			}
		}
	}
	return false
}

func metricGaugeEquals(t *testing.T, name string, labels map[string]string, expected float64) bool {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) && metric.GetGauge() != nil {
				return metric.GetGauge().GetValue() == expected
			}
		}
	}
	return false
}

func metricHistogramCountGreaterOrEqual(t *testing.T, name string, labels map[string]string, min uint64) bool {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) && metric.GetHistogram() != nil {
				return metric.GetHistogram().GetSampleCount() >= min
			}
		}
	}
	return false
}

func labelsMatch(metric *io_prometheus_client.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	matched := 0
	for _, lbl := range metric.GetLabel() {
		if val, ok := labels[lbl.GetName()]; ok && val == lbl.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/", "/"},
		{"//", "/"},
		{"/health", "/health"},
		{"/status", "/status"},
		{"/metrics", "/metrics"},
		{"/api/greeter", "/api/:service"},
		{"/api/greeter/widgets", "/api/:service"},
		{"/functions/hello", "/functions/:function"},
		{"/admin-api/services", "/admin-api/services"},
		{"/admin-api/services/greeter", "/admin-api/services/:name"},
		{"/admin-api/functions/hello", "/admin-api/functions/:name"},
		{"admin-api/tokens", "/admin-api/tokens"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := canonicalPath(tt.input)
			if result != tt.expected {
				t.Errorf("canonicalPath(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	sr.WriteHeader(http.StatusNotFound)
	if sr.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", sr.status)
	}

	rec2 := httptest.NewRecorder()
	sr2 := &statusRecorder{ResponseWriter: rec2, status: 0}
	n, err := sr2.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 bytes written, got %d", n)
	}
	if sr2.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", sr2.status)
	}

	rec3 := httptest.NewRecorder()
	sr3 := &statusRecorder{ResponseWriter: rec3, status: http.StatusCreated}
	sr3.Write([]byte("test"))
	if sr3.status != http.StatusCreated {
		t.Errorf("expected status 201 preserved, got %d", sr3.status)
	}
}

func TestMetaLabel(t *testing.T) {
	tests := []struct {
		name     string
		meta     map[string]string
		expected string
	}{
		{"nil map", nil, "unknown"},
		{"empty map", map[string]string{}, "unknown"},
		{"resource key", map[string]string{"resource": "res-1"}, "res-1"},
		{"service_name key", map[string]string{"service_name": "svc-1"}, "svc-1"},
		{"function_name key", map[string]string{"function_name": "fn-1"}, "fn-1"},
		{"queue_id key", map[string]string{"queue_id": "q-1"}, "q-1"},
		{"resource takes precedence", map[string]string{"resource": "res-1", "service_name": "svc-1"}, "res-1"},
		{"empty resource falls through", map[string]string{"resource": "", "service_name": "svc-1"}, "svc-1"},
		{"all empty returns unknown", map[string]string{"resource": "", "service_name": ""}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := metaLabel(tt.meta)
			if result != tt.expected {
				t.Errorf("metaLabel(%v) = %q, want %q", tt.meta, result, tt.expected)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	h := Handler()
	if h == nil {
		t.Fatal("Handler() should return non-nil handler")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected non-empty metrics response")
	}
}

func TestInstrumentHandlerMetricsPathPassthrough(t *testing.T) {
	called := false
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("expected /metrics path to pass through to handler")
	}
}

func TestObservationHooks(t *testing.T) {
	hooks := ObservationHooks("test_ns", "test_sub", "test_op")

	if hooks.OnStart == nil {
		t.Fatal("OnStart should not be nil")
	}
	if hooks.OnComplete == nil {
		t.Fatal("OnComplete should not be nil")
	}

	hooks.OnStart(nil, map[string]string{"resource": "test-res"})
	hooks.OnComplete(nil, map[string]string{"resource": "test-res"}, nil, 100*time.Millisecond)
	hooks.OnComplete(nil, map[string]string{"resource": "test-res"}, fmt.Errorf("test error"), 50*time.Millisecond)

	hooks2 := ObservationHooks("test_ns", "test_sub", "test_op")
	if hooks2.OnStart == nil || hooks2.OnComplete == nil {
		t.Fatal("cached hooks should be valid")
	}
}

func TestSpecificHookFactories(t *testing.T) {
	tests := []struct {
		name  string
		hooks func() interface{}
	}{
		{"SandboxHooks", func() interface{} { return SandboxHooks() }},
		{"ServiceManagerHooks", func() interface{} { return ServiceManagerHooks() }},
		{"QueueExecutorHooks", func() interface{} { return QueueExecutorHooks() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.hooks()
			if result == nil {
				t.Errorf("%s() returned nil", tt.name)
			}
		})
	}
}
