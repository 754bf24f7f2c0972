package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
//
// Metrics are registered on an injected registry so tests can create
// isolated instances; there is no package-level default.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthAttemptsTotal  *prometheus.CounterVec // labels: method, status
	LoginsTotal        *prometheus.CounterVec // labels: status
	RateLimitedTotal   prometheus.Counter
	SessionsRotated    prometheus.Counter
	SessionsSwept      prometheus.Counter
	APIKeysVerified    *prometheus.CounterVec // labels: status

	// Cache metrics
	CacheHitsTotal    *prometheus.CounterVec // labels: cache
	CacheMissesTotal  *prometheus.CounterVec // labels: cache
	CacheLoadsTotal   *prometheus.CounterVec // labels: cache
	CacheLockTimeouts prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics on the registry
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgrid_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authgrid_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgrid_auth_attempts_total",
				Help: "Authentication attempts by method and outcome",
			},
			[]string{"method", "status"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgrid_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"status"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authgrid_rate_limited_total",
				Help: "Requests rejected by the login rate limiter",
			},
		),
		SessionsRotated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authgrid_sessions_rotated_total",
				Help: "Refresh token rotations performed",
			},
		),
		SessionsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authgrid_sessions_swept_total",
				Help: "Expired sessions removed by the sweeper",
			},
		),
		APIKeysVerified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgrid_api_keys_verified_total",
				Help: "API key verifications by outcome",
			},
			[]string{"status"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgrid_cache_hits_total",
				Help: "Cache hits by cache name",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgrid_cache_misses_total",
				Help: "Cache misses by cache name",
			},
			[]string{"cache"},
		),
		CacheLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgrid_cache_loads_total",
				Help: "Backing store loads by cache name",
			},
			[]string{"cache"},
		),
		CacheLockTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authgrid_cache_lock_timeouts_total",
				Help: "Cache-aside lock acquisitions that exceeded the retry bound",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthAttemptsTotal,
		m.LoginsTotal,
		m.RateLimitedTotal,
		m.SessionsRotated,
		m.SessionsSwept,
		m.APIKeysVerified,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheLoadsTotal,
		m.CacheLockTimeouts,
	)

	return m
}

// Handler returns the Prometheus metrics HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware instruments every matched route with request count and
// duration. The path label is the mux route template, not the raw URL,
// so IDs in the path do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if template, err := route.GetPathTemplate(); err == nil {
				path = template
			}
		}
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
