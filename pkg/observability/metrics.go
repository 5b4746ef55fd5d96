package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Identity metrics
	SignInsTotal       *prometheus.CounterVec
	SessionsActive     prometheus.Gauge
	SessionsCreated    prometheus.Counter
	SessionsRevoked    *prometheus.CounterVec
	AuthDenialsTotal   *prometheus.CounterVec
	TokenFailuresTotal prometheus.Counter

	// Tenancy metrics
	AccountsTotal           prometheus.Gauge
	MembershipChangesTotal  *prometheus.CounterVec
	AccountConversionsTotal *prometheus.CounterVec
	InvitationsTotal        *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saaskit_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "saaskit_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		SignInsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saaskit_sign_ins_total",
				Help: "Sign-in attempts by outcome",
			},
			[]string{"outcome"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "saaskit_sessions_active",
				Help: "Number of live sessions",
			},
		),
		SessionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "saaskit_sessions_created_total",
				Help: "Sessions created",
			},
		),
		SessionsRevoked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saaskit_sessions_revoked_total",
				Help: "Sessions revoked by cause",
			},
			[]string{"cause"},
		),
		AuthDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saaskit_auth_denials_total",
				Help: "Authorization denials by gate",
			},
			[]string{"gate"},
		),
		TokenFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "saaskit_token_failures_total",
				Help: "Signed token verification failures",
			},
		),
		AccountsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "saaskit_accounts_total",
				Help: "Number of accounts",
			},
		),
		MembershipChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saaskit_membership_changes_total",
				Help: "Membership ledger changes by operation",
			},
			[]string{"op"},
		),
		AccountConversionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saaskit_account_conversions_total",
				Help: "Account conversions by direction",
			},
			[]string{"direction"},
		),
		InvitationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saaskit_invitations_total",
				Help: "Invitation lifecycle events",
			},
			[]string{"event"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "saaskit_db_connections_active",
				Help: "Open database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "saaskit_db_connections_idle",
				Help: "Idle database connections",
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saaskit_cache_hits_total",
				Help: "Cache hits by layer",
			},
			[]string{"layer"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saaskit_cache_misses_total",
				Help: "Cache misses by layer",
			},
			[]string{"layer"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SignInsTotal,
		m.SessionsActive,
		m.SessionsCreated,
		m.SessionsRevoked,
		m.AuthDenialsTotal,
		m.TokenFailuresTotal,
		m.AccountsTotal,
		m.MembershipChangesTotal,
		m.AccountConversionsTotal,
		m.InvitationsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler for a registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request counting and latency
// observation. The path label is the mux route template, not the raw URL, to
// keep cardinality bounded.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
