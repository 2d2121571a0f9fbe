package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the portal gateway.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	rateLimitDenials *prometheus.CounterVec
	lockoutsActive   prometheus.Gauge
	authResolutions  *prometheus.CounterVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	registry         *prometheus.Registry
}

// NewMetrics creates a new Metrics instance registered against a fresh
// registry. The namespace defaults to "portal" when empty.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "portal"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"method", "route", "status"},
	)

	m.rateLimitDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denials_total",
			Help:      "Total number of requests denied by the attempt limiter",
		},
		[]string{"route"},
	)

	m.lockoutsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lockouts_active",
			Help:      "Number of client identifiers currently locked out",
		},
	)

	m.authResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_resolutions_total",
			Help:      "Session resolution outcomes",
		},
		[]string{"kind", "outcome"},
	)

	m.upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of proxied upstream requests",
		},
		[]string{"target", "outcome"},
	)

	m.upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Upstream call duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"target"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.rateLimitDenials,
		m.lockoutsActive,
		m.authResolutions,
		m.upstreamRequests,
		m.upstreamDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records a completed HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	m.requestsTotal.WithLabelValues(method, route, status).Inc()
	m.requestDuration.WithLabelValues(method, route, status).Observe(seconds)
}

// IncRateLimitDenial records a request denied by the attempt limiter.
func (m *Metrics) IncRateLimitDenial(route string) {
	m.rateLimitDenials.WithLabelValues(route).Inc()
}

// SetLockoutsActive records the number of currently locked-out clients.
func (m *Metrics) SetLockoutsActive(n int) {
	m.lockoutsActive.Set(float64(n))
}

// IncAuthResolution records a session resolution outcome.
// kind is "user" or "admin"; outcome is "ok", "expired", "missing".
func (m *Metrics) IncAuthResolution(kind, outcome string) {
	m.authResolutions.WithLabelValues(kind, outcome).Inc()
}

// ObserveUpstream records a proxied upstream call.
// outcome is "relayed", "unreachable", or "error".
func (m *Metrics) ObserveUpstream(target, outcome string, seconds float64) {
	m.upstreamRequests.WithLabelValues(target, outcome).Inc()
	m.upstreamDuration.WithLabelValues(target).Observe(seconds)
}
