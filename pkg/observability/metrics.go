package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication and authorization
	AuthAttemptsTotal      *prometheus.CounterVec
	AuthzDecisionsTotal    *prometheus.CounterVec
	SessionCheckDuration   *prometheus.HistogramVec
	RateLimitRejectedTotal *prometheus.CounterVec

	// Role management
	RoleOperationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grc_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grc_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grc_auth_attempts_total",
				Help: "Credential resolution attempts by credential kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grc_authz_decisions_total",
				Help: "Authorization guard decisions by mode and decision",
			},
			[]string{"mode", "decision"},
		),
		SessionCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grc_session_check_duration_seconds",
				Help:    "Latency of the external session permission check",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"outcome"},
		),
		RateLimitRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grc_rate_limit_rejected_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"backend"},
		),
		RoleOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grc_role_operations_total",
				Help: "Custom role management operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthAttemptsTotal,
		m.AuthzDecisionsTotal,
		m.SessionCheckDuration,
		m.RateLimitRejectedTotal,
		m.RoleOperationsTotal,
	)

	return m
}

// The Record* helpers are no-ops on a nil *Metrics so callers can run
// without a registry.

// RecordAuthentication counts one credential resolution attempt.
func (m *Metrics) RecordAuthentication(kind, outcome string) {
	if m == nil {
		return
	}
	m.AuthAttemptsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordAuthzDecision counts one guard decision.
func (m *Metrics) RecordAuthzDecision(mode, decision string) {
	if m == nil {
		return
	}
	m.AuthzDecisionsTotal.WithLabelValues(mode, decision).Inc()
}

// ObserveSessionCheck records the latency of one external permission check.
func (m *Metrics) ObserveSessionCheck(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SessionCheckDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordRateLimited counts one rejected request.
func (m *Metrics) RecordRateLimited(backend string) {
	if m == nil {
		return
	}
	m.RateLimitRejectedTotal.WithLabelValues(backend).Inc()
}

// RecordRoleOperation counts one role management operation.
func (m *Metrics) RecordRoleOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.RoleOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel prefers the mux route template over the raw path to keep
// label cardinality bounded.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
