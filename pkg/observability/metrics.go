package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup outcomes recorded by the org context cache
const (
	CacheResultHit   = "hit"
	CacheResultMiss  = "miss"
	CacheResultStale = "stale"
)

// Metrics holds all Prometheus metrics. Every method is safe on a nil receiver
// so components can run without metrics in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	RoleMutationsTotal  *prometheus.CounterVec

	// Org context cache metrics
	OrgContextCacheTotal         *prometheus.CounterVec
	OrgContextInvalidationsTotal prometheus.Counter
	OrgContextResolveDuration    prometheus.Histogram
	OrgContextResolveErrorsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBConnectionsWait   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewform_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crewform_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewform_authz_decisions_total",
				Help: "Permission checks by permission and result",
			},
			[]string{"permission", "result"},
		),
		RoleMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewform_role_mutations_total",
				Help: "Authorization data mutations by operation and status",
			},
			[]string{"operation", "status"},
		),

		OrgContextCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewform_orgcontext_cache_total",
				Help: "Org context cache lookups by result",
			},
			[]string{"result"},
		),
		OrgContextInvalidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crewform_orgcontext_invalidations_total",
				Help: "Tenant invalidations of the org context cache",
			},
		),
		OrgContextResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crewform_orgcontext_resolve_duration_seconds",
				Help:    "Time spent rebuilding an org context from the store",
				Buckets: prometheus.DefBuckets,
			},
		),
		OrgContextResolveErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewform_orgcontext_resolve_errors_total",
				Help: "Org context resolution failures by reason",
			},
			[]string{"reason"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crewform_db_connections_active",
				Help: "Number of in-use database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crewform_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWait: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crewform_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.RoleMutationsTotal,
		m.OrgContextCacheTotal,
		m.OrgContextInvalidationsTotal,
		m.OrgContextResolveDuration,
		m.OrgContextResolveErrorsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWait,
	)

	return m
}

// RecordAuthzDecision counts one permission check
func (m *Metrics) RecordAuthzDecision(permission string, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.AuthzDecisionsTotal.WithLabelValues(permission, result).Inc()
}

// RecordRoleMutation counts one coordinator write
func (m *Metrics) RecordRoleMutation(operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RoleMutationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordCacheResult counts one org context cache lookup
func (m *Metrics) RecordCacheResult(result string) {
	if m == nil {
		return
	}
	m.OrgContextCacheTotal.WithLabelValues(result).Inc()
}

// RecordInvalidation counts one tenant invalidation
func (m *Metrics) RecordInvalidation() {
	if m == nil {
		return
	}
	m.OrgContextInvalidationsTotal.Inc()
}

// ObserveResolve records the duration of one org context rebuild
func (m *Metrics) ObserveResolve(d time.Duration) {
	if m == nil {
		return
	}
	m.OrgContextResolveDuration.Observe(d.Seconds())
}

// RecordResolveError counts one org context resolution failure
func (m *Metrics) RecordResolveError(reason string) {
	if m == nil {
		return
	}
	m.OrgContextResolveErrorsTotal.WithLabelValues(reason).Inc()
}

// UpdateDBStats copies connection pool statistics into the gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWait.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// routeName maps a request to a low-cardinality route label.
func HTTPMetricsMiddleware(metrics *Metrics, routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if routeName != nil {
				route = routeName(r)
			}
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
