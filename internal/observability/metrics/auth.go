package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	obserrors "github.com/northwind-consulting/portal/internal/observability/errors"
)

// Result constants for metric labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// AuthMetric captures one auth operation for metric emission.
type AuthMetric struct {
	Operation string
	Result    string
	Duration  time.Duration
	Err       error
}

// Metrics holds the portal's Prometheus collectors. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	authOps        *prometheus.CounterVec
	authDuration   *prometheus.HistogramVec
	routeDecisions *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	profileCache   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		authOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_auth_operations_total",
				Help: "Auth operations by operation, result and error class",
			},
			[]string{"operation", "result", "error_class"},
		),
		authDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_auth_operation_duration_seconds",
				Help:    "Auth operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		routeDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_route_decisions_total",
				Help: "Protected route decisions by outcome",
			},
			[]string{"outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		profileCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_profile_cache_lookups_total",
				Help: "Profile cache lookups by outcome",
			},
			[]string{"outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.authOps, m.authDuration, m.routeDecisions, m.httpRequests, m.httpDuration, m.profileCache)
	}
	return m
}

// EmitAuthOperation records an auth operation outcome.
func (m *Metrics) EmitAuthOperation(in AuthMetric) {
	if m == nil {
		return
	}
	result := in.Result
	if result == "" {
		result = ResultSuccess
		if in.Err != nil {
			result = ResultError
		}
	}
	class := ""
	if in.Err != nil && result == ResultError {
		class = obserrors.Classify(in.Err)
	}
	m.authOps.WithLabelValues(in.Operation, result, class).Inc()
	if in.Duration > 0 {
		m.authDuration.WithLabelValues(in.Operation).Observe(in.Duration.Seconds())
	}
}

// RouteDecision counts a protected route outcome.
func (m *Metrics) RouteDecision(outcome string) {
	if m == nil {
		return
	}
	m.routeDecisions.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records a served request. route must be a pattern, not a raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ProfileCacheLookup counts a cache hit or miss.
func (m *Metrics) ProfileCacheLookup(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.profileCache.WithLabelValues(outcome).Inc()
}
