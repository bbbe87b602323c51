// Package metrics exposes the emulator's Prometheus registry: per-request
// HTTP instrumentation for every protocol adapter, plus a generic
// observation-hooks factory that reports in-flight counts and operation
// duration for background loops. The dispatch fabric's queue pollers use
// it; the stream-flush and scheduler-tick hooks are built here but the
// change-stream dispatcher and the event-bus scheduler do not call them.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	core "github.com/corestack-dev/corestack/internal/app/core/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "corestack",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corestack",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled, labeled by service.",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corestack",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"service", "method", "path"},
	)

	computeInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corestack",
			Subsystem: "compute",
			Name:      "invocations_total",
			Help:      "Total number of compute function invocations.",
		},
		[]string{"function", "status"},
	)

	computeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corestack",
			Subsystem: "compute",
			Name:      "invocation_duration_seconds",
			Help:      "Duration of compute function invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"function", "status"},
	)

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		computeInvocations,
		computeDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps a protocol adapter's handler with HTTP metrics
// collection, labeled by the owning service so each emulated dialect's
// traffic is distinguishable in the registry.
func InstrumentHandler(service string, next http.Handler) http.Handler {
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

		httpRequests.WithLabelValues(service, method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
	})
}

// RecordComputeInvocation records one compute-function invocation outcome.
func RecordComputeInvocation(function, status string, duration time.Duration) {
	if function == "" {
		function = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	computeInvocations.WithLabelValues(function, status).Inc()
	computeDuration.WithLabelValues(function, status).Observe(duration.Seconds())
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// ObservationHooks creates core observation hooks backed by Prometheus
// metrics, keyed by namespace/subsystem/name so repeated calls for the same
// background loop reuse one pair of collectors.
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
	for _, key := range []string{"queue", "table", "topic", "bus", "function", "resource"} {
		if id, ok := meta[key]; ok && id != "" {
			return id
		}
	}
	return "unknown"
}

// QueuePollerHooks captures per-poller in-flight/duration for the dispatch
// fabric's queue-to-compute event-source mappings.
func QueuePollerHooks() core.ObservationHooks {
	return ObservationHooks("corestack", "fabric", "queue_poll")
}

// StreamDispatchHooks returns hooks labelled for the table change-stream
// dispatcher's batch flushes; the dispatcher does not call them itself.
func StreamDispatchHooks() core.DispatchHooks {
	return ObservationHooks("corestack", "table", "stream_flush")
}

// SchedulerTickHooks returns hooks labelled for the event-bus scheduler's
// rule fires; the scheduler does not call them itself.
func SchedulerTickHooks() core.ObservationHooks {
	return ObservationHooks("corestack", "eventbus", "scheduler_tick")
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

// canonicalPath collapses a REST-over-path adapter's key segments into a
// fixed label so per-object-key cardinality never reaches Prometheus. The
// first segment is kept, e.g. "/my-bucket/deep/key.json" becomes
// "/my-bucket/*".
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) <= 1 {
		return "/" + parts[0]
	}
	return "/" + parts[0] + "/*"
}
