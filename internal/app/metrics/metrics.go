// Package metrics exposes the control plane's Prometheus collectors: HTTP
// request instrumentation for the Request API and reconciler tick/execution
// outcome counters.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	core "github.com/fnplane/controlplane/internal/app/core/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "controlplane",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "controlplane",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "controlplane",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	reconcilerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "controlplane",
			Subsystem: "reconciler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one reconciler run_once pass.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	reconcilerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "controlplane",
			Subsystem: "reconciler",
			Name:      "ticks_total",
			Help:      "Total number of reconciler ticks, labelled by whether the tick returned an error.",
		},
		[]string{"result"},
	)

	executionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "controlplane",
			Subsystem: "executions",
			Name:      "outcomes_total",
			Help:      "Total number of executions reaching a terminal outcome, by outcome.",
		},
		[]string{"outcome"},
	)

	provisionerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "controlplane",
			Subsystem: "provisioner",
			Name:      "calls_total",
			Help:      "Total number of provisioner calls, labelled by operation and result.",
		},
		[]string{"operation", "result"},
	)

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		reconcilerTickDuration,
		reconcilerTicks,
		executionOutcomes,
		provisionerCalls,
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

// RecordReconcilerTick records the duration and result of one run_once pass.
func RecordReconcilerTick(duration time.Duration, err error) {
	reconcilerTickDuration.Observe(duration.Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	reconcilerTicks.WithLabelValues(result).Inc()
}

// RecordExecutionOutcome records a terminal execution outcome.
func RecordExecutionOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	executionOutcomes.WithLabelValues(outcome).Inc()
}

// RecordProvisionerCall records the result of one provisioner capability
// invocation, for dev/external backends alike.
func RecordProvisionerCall(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	provisionerCalls.WithLabelValues(operation, result).Inc()
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
	if id, ok := meta["function_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["invocation_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["execution_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["project"]; ok && id != "" {
		return id
	}
	return "unknown"
}

// ReconcilePhaseHooks captures per-phase timing within a reconciler tick.
func ReconcilePhaseHooks(phase string) core.ObservationHooks {
	return ObservationHooks("controlplane", "reconciler", phase)
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

// canonicalPath collapses path parameters into cardinality-safe labels,
// e.g. /projects/foo/versions/bar -> /projects/:project/versions/:version.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	static := map[string]bool{
		"projects": true, "versions": true, "functions": true,
		"invocations": true, "executions": true,
	}
	labels := map[string]string{
		"projects": ":project", "versions": ":version", "functions": ":function",
		"invocations": ":invocation", "executions": ":execution",
	}
	out := make([]string, 0, len(parts))
	var lastSegment string
	for _, p := range parts {
		if static[p] {
			out = append(out, p)
			lastSegment = p
			continue
		}
		if lastSegment != "" {
			out = append(out, labels[lastSegment])
			lastSegment = ""
			continue
		}
		out = append(out, p)
	}
	return "/" + strings.Join(out, "/")
}
