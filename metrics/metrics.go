// Package metrics exposes Prometheus collectors for the HTTP layer and the
// allocation service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/housing-engine/allocation"
)

const namespace = "housing"

// Metrics owns a registry and every collector registered on it. Each
// instance is independent, so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	operations     *prometheus.CounterVec
	availableUnits *prometheus.GaugeVec
	refreshRuns    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"method", "route"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "operations_total",
			Help:      "Allocation operations by outcome (ok, refused, error).",
		}, []string{"op", "outcome"}),
		availableUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "available_units",
			Help:      "Units still available per project and flat type.",
		}, []string{"project", "flat_type"}),
		refreshRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "refresh_runs_total",
			Help:      "Scheduled inventory refresh runs.",
		}, []string{"success"}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.operations,
		m.availableUnits,
		m.refreshRuns,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with request counting and timing. Requests
// are labelled by chi route pattern, not raw path, to bound cardinality.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordRefresh counts one scheduled inventory refresh.
func (m *Metrics) RecordRefresh(success bool) {
	m.refreshRuns.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// =============================================================================
// ALLOCATION RECORDER
// =============================================================================

// Recorder adapts Metrics to allocation.Recorder.
type Recorder struct {
	m *Metrics
}

func (m *Metrics) Recorder() Recorder {
	return Recorder{m: m}
}

func (r Recorder) Outcome(op allocation.Op, outcome string) {
	r.m.operations.WithLabelValues(string(op), outcome).Inc()
}

func (r Recorder) AvailableUnits(projectID allocation.ProjectID, ft allocation.FlatType, n int) {
	r.m.availableUnits.WithLabelValues(string(projectID), string(ft)).Set(float64(n))
}

var _ allocation.Recorder = Recorder{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
