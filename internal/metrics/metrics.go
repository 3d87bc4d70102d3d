// Package metrics registers the Prometheus metrics used by the gateway.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level counters and histograms.
var (
	// SelectionsTotal counts model selections labelled by provider, model,
	// and the priority the requirements asked for.
	SelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_model_selections_total",
			Help: "Total number of model selections made by the gateway.",
		},
		[]string{"provider", "model", "priority"},
	)

	// AttemptsTotal counts executor attempts labelled by provider, model, and
	// outcome ("success", "error", "rejected"). Rejected attempts were
	// stopped by an open circuit without reaching the provider.
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_attempts_total",
			Help: "Total executor attempts made during failover execution.",
		},
		[]string{"provider", "model", "status"},
	)

	// AttemptDuration observes per-attempt latency in seconds.
	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_attempt_duration_seconds",
			Help:    "Per-attempt executor duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	// FailoversTotal counts requests that fell back past the primary target.
	FailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_failovers_total",
			Help: "Total requests that used at least one fallback target.",
		},
		[]string{"primary_provider"},
	)

	// TokensInput counts total prompt tokens sent to providers.
	TokensInput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_input_total",
			Help: "Total prompt tokens sent to providers.",
		},
		[]string{"provider", "model"},
	)

	// TokensOutput counts total completion tokens received from providers.
	TokensOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_output_total",
			Help: "Total completion tokens received from providers.",
		},
		[]string{"provider", "model"},
	)

	// RequestCostUSD accumulates estimated request cost in USD.
	RequestCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_request_cost_usd_total",
			Help: "Estimated cumulative request cost in USD.",
		},
		[]string{"provider", "model"},
	)

	// CircuitBreakerState tracks per-model-key circuit breaker state as a
	// gauge: 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state per model key (0=closed 1=open 2=half_open).",
		},
		[]string{"model_key"},
	)

	// CacheEvents counts response-cache lookups by result ("hit", "miss").
	CacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_events_total",
			Help: "Response cache lookups by result.",
		},
		[]string{"result"},
	)

	// DiscoveryProbes counts discovery health probes by provider and outcome.
	DiscoveryProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_discovery_probes_total",
			Help: "Discovery health probes by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// RateLimitRejections counts requests rejected by the HTTP rate limiter.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting.",
		},
		[]string{"key_type"},
	)
)
