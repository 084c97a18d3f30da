package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Credential lifecycle metrics
	LoginAttemptsTotal  *prometheus.CounterVec
	TokensIssuedTotal   *prometheus.CounterVec
	TokenRotationsTotal *prometheus.CounterVec
	AuthFailuresTotal   *prometheus.CounterVec
	RateLimitedTotal    *prometheus.CounterVec

	// Store metrics
	StoreOperationsTotal     *prometheus.CounterVec
	StoreOperationDuration   *prometheus.HistogramVec
	CredentialsSweptTotal    prometheus.Counter
	ActiveRefreshTokensGauge prometheus.Gauge
	ActiveAPIKeysGauge       prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all collectors on the given
// registry (a fresh one when nil).
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metricat_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metricat_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metricat_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"result"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metricat_tokens_issued_total",
				Help: "Signed tokens issued by kind",
			},
			[]string{"kind"},
		),
		TokenRotationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metricat_token_rotations_total",
				Help: "Refresh-token rotations by outcome",
			},
			[]string{"result"},
		),
		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metricat_auth_failures_total",
				Help: "Request authentication failures by credential kind",
			},
			[]string{"credential"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metricat_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"endpoint"},
		),
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metricat_store_operations_total",
				Help: "Credential store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metricat_store_operation_duration_seconds",
				Help:    "Credential store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		CredentialsSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "metricat_credentials_swept_total",
				Help: "Expired credential rows removed by the cleanup sweep",
			},
		),
		ActiveRefreshTokensGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "metricat_active_refresh_tokens",
				Help: "Refresh-token records currently usable",
			},
		),
		ActiveAPIKeysGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "metricat_active_api_keys",
				Help: "API keys currently usable",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginAttemptsTotal,
		m.TokensIssuedTotal,
		m.TokenRotationsTotal,
		m.AuthFailuresTotal,
		m.RateLimitedTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.CredentialsSweptTotal,
		m.ActiveRefreshTokensGauge,
		m.ActiveAPIKeysGauge,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStoreOperation records one store call.
func (m *Metrics) ObserveStoreOperation(operation, backend string, err error, elapsed time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation, backend).Observe(elapsed.Seconds())
}

// HTTPMiddleware instruments a handler with request count and duration.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(elapsed.Seconds())
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
