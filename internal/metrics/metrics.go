package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the decision engine's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "xai",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xai",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xai",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method", "path"},
	)

	// ModelInFlight counts model calls past the admission gate.
	ModelInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "xai",
			Subsystem: "model",
			Name:      "inflight_calls",
			Help:      "Current number of model calls holding a concurrency slot.",
		},
	)

	// ModelCalls counts finished model calls by outcome ("ok" or a failure kind).
	ModelCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xai",
			Subsystem: "model",
			Name:      "calls_total",
			Help:      "Total number of model calls by outcome.",
		},
		[]string{"backend", "outcome"},
	)

	modelDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xai",
			Subsystem: "model",
			Name:      "call_duration_seconds",
			Help:      "Duration of model calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		},
		[]string{"backend"},
	)

	// Decisions counts evaluations by resulting status and whether the
	// fallback verdict was used.
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xai",
			Subsystem: "decision",
			Name:      "evaluations_total",
			Help:      "Total number of evaluations by domain, status and fallback.",
		},
		[]string{"domain", "status", "fallback"},
	)

	// Reviews counts human reviews, split by override.
	Reviews = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xai",
			Subsystem: "review",
			Name:      "reviews_total",
			Help:      "Total number of human reviews by domain and override.",
		},
		[]string{"domain", "override"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ModelInFlight,
		ModelCalls,
		modelDuration,
		Decisions,
		Reviews,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordModelCall records one finished model call.
func RecordModelCall(backend, outcome string, duration time.Duration) {
	if backend == "" {
		backend = "unknown"
	}
	ModelCalls.WithLabelValues(backend, outcome).Inc()
	modelDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

func RecordDecision(domain, status string, fallback bool) {
	Decisions.WithLabelValues(domain, status, strconv.FormatBool(fallback)).Inc()
}

func RecordReview(domain string, override bool) {
	Reviews.WithLabelValues(domain, strconv.FormatBool(override)).Inc()
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

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath collapses ids so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "applications":
		switch len(parts) {
		case 1:
			return "/applications"
		case 2:
			return "/applications/:id"
		default:
			return "/applications/:id/" + parts[2]
		}
	case "policies":
		if len(parts) >= 2 && parts[1] == "upload" {
			return "/policies/upload"
		}
		if len(parts) >= 3 {
			return "/policies/:domain/:id"
		}
		return "/policies"
	}
	return "/" + strings.Join(parts, "/")
}
