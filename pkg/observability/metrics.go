// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring principal resolution.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ResolutionBuckets covers local lookups (sub-millisecond) up to slow
// remote authorities (10s).
var ResolutionBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "principal_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "principal_request_duration_seconds",
			Help:    "Request duration",
			Buckets: ResolutionBuckets,
		},
		[]string{"method"},
	)

	// ResolutionsTotal counts resolution attempts by strategy and outcome.
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "principal_resolutions_total",
			Help: "Principal resolutions",
		},
		[]string{"strategy", "outcome"},
	)

	// ResolutionDuration records how long a resolution took by strategy.
	ResolutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "principal_resolution_duration_seconds",
			Help:    "Resolution duration",
			Buckets: ResolutionBuckets,
		},
		[]string{"strategy"},
	)

	// CheckTokenRequestsTotal counts calls to the remote check-token
	// endpoint by HTTP status code ("error" when no response arrived).
	CheckTokenRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "principal_check_token_requests_total",
			Help: "Remote check-token requests",
		},
		[]string{"status"},
	)

	// TrustCacheLookupsTotal counts trust-store cache lookups by result
	// ("hit", "miss" or "stale").
	TrustCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "principal_trust_cache_lookups_total",
			Help: "Trust store cache lookups",
		},
		[]string{"result"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "principal_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ResolutionsTotal,
		ResolutionDuration,
		CheckTokenRequestsTotal,
		TrustCacheLookupsTotal,
		RateLimitRejectedTotal,
	)
}
