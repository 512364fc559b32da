package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects runtime metrics via Prometheus.
//
// Tracked series:
//   - Tool execution counts and latencies
//   - Tool-result cache hits and misses
//   - Provider request counts, retries, and rate-limit waits
//   - Circuit breaker trips
type Metrics struct {
	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error|cache_hit)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// CacheHits counts tool-result cache lookups.
	// Labels: outcome (hit|miss)
	CacheHits *prometheus.CounterVec

	// ProviderRequests counts provider calls.
	// Labels: provider, status (success|error)
	ProviderRequests *prometheus.CounterVec

	// ProviderRetries counts retry attempts against providers.
	// Labels: provider
	ProviderRetries *prometheus.CounterVec

	// RateLimitWaits counts calls that found the token bucket empty.
	// Labels: provider
	RateLimitWaits *prometheus.CounterVec

	// CircuitTrips counts circuit breaker opens.
	// Labels: provider
	CircuitTrips *prometheus.CounterVec
}

// NewMetrics creates and registers metrics on the given registerer.
// Passing nil registers on the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_tool_executions_total",
			Help: "Total tool invocations by tool and status.",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_tool_duration_seconds",
			Help:    "Tool execution latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_tool_cache_total",
			Help: "Tool-result cache lookups by outcome.",
		}, []string{"outcome"}),

		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_provider_requests_total",
			Help: "Provider requests by provider and status.",
		}, []string{"provider", "status"}),

		ProviderRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_provider_retries_total",
			Help: "Retry attempts against providers.",
		}, []string{"provider"}),

		RateLimitWaits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_provider_ratelimit_waits_total",
			Help: "Provider calls that waited on the rate limiter.",
		}, []string{"provider"}),

		CircuitTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_provider_circuit_trips_total",
			Help: "Circuit breaker opens per provider.",
		}, []string{"provider"}),
	}
}
