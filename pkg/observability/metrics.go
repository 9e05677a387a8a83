// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring a crane server.
package observability

import "github.com/prometheus/client_golang/prometheus"

// RequestBuckets defines histogram buckets for request latencies, from 1ms
// to 10s.
var RequestBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// AcquireBuckets defines histogram buckets for connection acquisition waits.
var AcquireBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3}

// Transaction outcomes used as the "outcome" label of TransactionsTotal.
const (
	OutcomeCommitted    = "committed"
	OutcomeRolledBack   = "rolled_back"
	OutcomeCommitFailed = "commit_failed"
)

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crane_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crane_request_duration_seconds",
			Help:    "Request duration",
			Buckets: RequestBuckets,
		},
		[]string{"method"},
	)

	// RequestsInFlight tracks the number of requests currently being served.
	RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crane_requests_in_flight",
			Help: "Requests in flight",
		},
	)

	// ConnectionsInUse tracks database connections checked out by requests.
	ConnectionsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crane_connections_in_use",
			Help: "Connections checked out from the pool",
		},
	)

	// ConnectionAcquireDuration records how long requests waited for a connection.
	ConnectionAcquireDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crane_connection_acquire_duration_seconds",
			Help:    "Connection acquire wait",
			Buckets: AcquireBuckets,
		},
	)

	// ConnectionAcquireErrorsTotal counts failed connection acquisitions.
	ConnectionAcquireErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crane_connection_acquire_errors_total",
			Help: "Connection acquire failures",
		},
	)

	// TransactionsTotal counts finished transactional scopes by outcome.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crane_transactions_total",
			Help: "Transactions",
		},
		[]string{"outcome"},
	)

	// CleanupErrorsTotal counts rollback and release failures. These never
	// replace the error that triggered the cleanup.
	CleanupErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crane_cleanup_errors_total",
			Help: "Rollback and release failures",
		},
		[]string{"op"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crane_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		RequestsInFlight,
		ConnectionsInUse,
		ConnectionAcquireDuration,
		ConnectionAcquireErrorsTotal,
		TransactionsTotal,
		CleanupErrorsTotal,
		RateLimitRejectedTotal,
	)
}
