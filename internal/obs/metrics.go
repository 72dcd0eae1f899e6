package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors the engine reports. A nil *Metrics is a
// valid no-op so services can be built without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	AuthzDecisions  *prometheus.CounterVec
	TokenOperations *prometheus.CounterVec
	RefreshReplays  prometheus.Counter
	PurgedTokens    prometheus.Counter
	PasswordChecks  *prometheus.HistogramVec

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AuthzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capgate_authz_decisions_total",
			Help: "Permission checks by outcome.",
		}, []string{"outcome"}),
		TokenOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capgate_token_operations_total",
			Help: "Token service operations by result.",
		}, []string{"operation", "result"}),
		RefreshReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capgate_refresh_replays_total",
			Help: "Refresh tokens presented after they were rotated or revoked.",
		}),
		PurgedTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capgate_refresh_tokens_purged_total",
			Help: "Expired refresh-token records removed by the sweeper.",
		}),
		PasswordChecks: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capgate_password_check_seconds",
			Help:    "Time spent verifying passwords, including pool wait.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5},
		}, []string{"result"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}

	m.registry.MustRegister(
		m.AuthzDecisions,
		m.TokenOperations,
		m.RefreshReplays,
		m.PurgedTokens,
		m.PasswordChecks,
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Decision(allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.AuthzDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TokenOp(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TokenOperations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) Replay() {
	if m == nil {
		return
	}
	m.RefreshReplays.Inc()
}

func (m *Metrics) Purged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.PurgedTokens.Add(float64(n))
}

func (m *Metrics) PasswordCheck(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "mismatch"
	if ok {
		result = "match"
	}
	m.PasswordChecks.WithLabelValues(result).Observe(d.Seconds())
}

// Instrument records request counts and latency. Paths are left out of the
// labels to keep cardinality bounded.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
