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

	req := httptest.NewRequest(http.MethodGet, "/projects/demo/versions/latest", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	if !metricCounterGreaterOrEqual(t, "controlplane_http_requests_total", map[string]string{
		"method": "GET",
		"path":   "/projects/:project/versions/:version",
		"status": "202",
	}, 1) {
		t.Fatalf("expected http request counter to increment")
	}

	if !metricHistogramCountGreaterOrEqual(t, "controlplane_http_request_duration_seconds", map[string]string{
		"method": "GET",
		"path":   "/projects/:project/versions/:version",
	}, 1) {
		t.Fatalf("expected http duration histogram to record samples")
	}
}

func TestRecordReconcilerTick(t *testing.T) {
	RecordReconcilerTick(5*time.Millisecond, nil)
	if !metricCounterGreaterOrEqual(t, "controlplane_reconciler_ticks_total", map[string]string{"result": "ok"}, 1) {
		t.Fatalf("expected ok tick counter to increment")
	}

	RecordReconcilerTick(5*time.Millisecond, fmt.Errorf("boom"))
	if !metricCounterGreaterOrEqual(t, "controlplane_reconciler_ticks_total", map[string]string{"result": "error"}, 1) {
		t.Fatalf("expected error tick counter to increment")
	}
}

func TestRecordExecutionOutcome(t *testing.T) {
	RecordExecutionOutcome("SUCCEEDED")
	if !metricCounterGreaterOrEqual(t, "controlplane_executions_outcomes_total", map[string]string{"outcome": "SUCCEEDED"}, 1) {
		t.Fatalf("expected outcome counter to increment")
	}

	RecordExecutionOutcome("")
	if !metricCounterGreaterOrEqual(t, "controlplane_executions_outcomes_total", map[string]string{"outcome": "unknown"}, 1) {
		t.Fatalf("expected empty outcome to fall back to unknown")
	}
}

func TestRecordProvisionerCall(t *testing.T) {
	RecordProvisionerCall("provision_worker", nil)
	if !metricCounterGreaterOrEqual(t, "controlplane_provisioner_calls_total", map[string]string{
		"operation": "provision_worker", "result": "ok",
	}, 1) {
		t.Fatalf("expected provisioner call counter to increment")
	}

	RecordProvisionerCall("provision_worker", fmt.Errorf("transient"))
	if !metricCounterGreaterOrEqual(t, "controlplane_provisioner_calls_total", map[string]string{
		"operation": "provision_worker", "result": "error",
	}, 1) {
		t.Fatalf("expected provisioner error counter to increment")
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
		{"/healthz", "/healthz"},
		{"/projects", "/projects"},
		{"/projects/", "/projects"},
		{"/projects/demo", "/projects/:project"},
		{"/projects/demo/versions", "/projects/:project/versions"},
		{"/projects/demo/versions/v1", "/projects/:project/versions/:version"},
		{"/projects/demo/versions/v1/functions/fn/invocations/inv-1", "/projects/:project/versions/:version/functions/:function/invocations/:invocation"},
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
}

func TestMetaLabel(t *testing.T) {
	tests := []struct {
		name     string
		meta     map[string]string
		expected string
	}{
		{"nil map", nil, "unknown"},
		{"empty map", map[string]string{}, "unknown"},
		{"function_id key", map[string]string{"function_id": "fn-1"}, "fn-1"},
		{"invocation_id key", map[string]string{"invocation_id": "inv-1"}, "inv-1"},
		{"execution_id key", map[string]string{"execution_id": "exe-1"}, "exe-1"},
		{"project key", map[string]string{"project": "demo"}, "demo"},
		{"function_id takes precedence", map[string]string{"function_id": "fn-1", "project": "demo"}, "fn-1"},
		{"empty function_id falls through", map[string]string{"function_id": "", "invocation_id": "inv-1"}, "inv-1"},
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

func TestInstrumentHandler_MetricsPathPassthrough(t *testing.T) {
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

	hooks.OnStart(nil, map[string]string{"function_id": "fn-test"})
	hooks.OnComplete(nil, map[string]string{"function_id": "fn-test"}, nil, 100*time.Millisecond)
	hooks.OnComplete(nil, map[string]string{"function_id": "fn-test"}, fmt.Errorf("test error"), 50*time.Millisecond)

	hooks2 := ObservationHooks("test_ns", "test_sub", "test_op")
	if hooks2.OnStart == nil || hooks2.OnComplete == nil {
		t.Fatal("cached hooks should be valid")
	}
}

func TestReconcilePhaseHooks(t *testing.T) {
	hooks := ReconcilePhaseHooks("functions_pass")
	if hooks.OnStart == nil || hooks.OnComplete == nil {
		t.Fatal("ReconcilePhaseHooks should return valid hooks")
	}
}
