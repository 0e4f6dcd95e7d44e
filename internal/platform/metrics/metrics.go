package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry. All methods are safe on a nil receiver so
// services can run without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	authzDecisions    *prometheus.CounterVec
	invitations       *prometheus.CounterVec
	contextCache      *prometheus.CounterVec
	permissionChanges *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orgdesk_http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orgdesk_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orgdesk_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		authzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orgdesk_authz_decisions_total",
			Help: "Authorization decisions by operation and outcome.",
		}, []string{"operation", "outcome"}),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orgdesk_invitations_total",
			Help: "Invitation lifecycle events.",
		}, []string{"event"}),
		contextCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orgdesk_user_context_cache_total",
			Help: "User context cache lookups.",
		}, []string{"result"}),
		permissionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orgdesk_permission_changes_total",
			Help: "Applied permission grants and revocations.",
		}, []string{"action"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.authzDecisions, m.invitations, m.contextCache, m.permissionChanges,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument records count, latency and in-flight gauge for one route. The
// route is the router pattern, not the raw path, to bound label cardinality.
func (m *Metrics) Instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	}
}

func (m *Metrics) AuthzDecision(operation string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.authzDecisions.WithLabelValues(operation, outcome).Inc()
}

// Invitation records issued, redeemed or rejected.
func (m *Metrics) Invitation(event string) {
	if m == nil {
		return
	}
	m.invitations.WithLabelValues(event).Inc()
}

func (m *Metrics) ContextCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.contextCache.WithLabelValues(result).Inc()
}

func (m *Metrics) PermissionChange(action string) {
	if m == nil {
		return
	}
	m.permissionChanges.WithLabelValues(action).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
