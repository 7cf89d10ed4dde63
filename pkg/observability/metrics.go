// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the weiche gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weiche_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weiche_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// InFlightRequests tracks HTTP requests currently being served.
	InFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weiche_http_requests_in_flight",
			Help: "HTTP requests in flight",
		},
	)

	// DispatchTotal counts dispatches by final vendor, model and outcome.
	// The outcome is "success" or the error kind.
	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weiche_dispatch_total",
			Help: "Dispatches by outcome",
		},
		[]string{"vendor", "model", "outcome"},
	)

	// DispatchDuration records end-to-end dispatch latency in seconds.
	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weiche_dispatch_duration_seconds",
			Help:    "Dispatch latency",
			Buckets: LLMBuckets,
		},
		[]string{"vendor", "model"},
	)

	// ProviderTokensTotal counts tokens by direction (input/output/reasoning).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weiche_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"vendor", "model", "direction"},
	)

	// GroundingTotal counts grounded dispatches by mode and whether
	// grounding was effective.
	GroundingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weiche_grounding_total",
			Help: "Grounded dispatches",
		},
		[]string{"vendor", "mode", "effective"},
	)

	// CitationsTotal counts returned citations by kind.
	CitationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weiche_citations_total",
			Help: "Citations returned",
		},
		[]string{"vendor", "kind"},
	)

	// FailoverTotal counts vendor failovers.
	FailoverTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weiche_failover_total",
			Help: "Vendor failovers",
		},
		[]string{"from", "to"},
	)

	// RetriesTotal counts recovery steps by kind: transport, empty_output,
	// provoker, synthesis.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weiche_retries_total",
			Help: "Recovery steps",
		},
		[]string{"vendor", "kind"},
	)

	// RateLimitBackoffsTotal counts backoffs after provider rate limiting.
	RateLimitBackoffsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weiche_rate_limit_backoffs_total",
			Help: "Rate limit backoffs",
		},
		[]string{"vendor"},
	)

	// DroppedKnobsTotal counts caller knobs removed by capability gating.
	DroppedKnobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weiche_dropped_knobs_total",
			Help: "Dropped caller knobs",
		},
		[]string{"vendor", "knob"},
	)

	// CircuitState is 0 (closed), 1 (half_open) or 2 (open) per vendor.
	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weiche_circuit_state",
			Help: "Circuit breaker state",
		},
		[]string{"vendor"},
	)

	// CircuitTransitionsTotal counts breaker transitions.
	CircuitTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weiche_circuit_transitions_total",
			Help: "Circuit breaker transitions",
		},
		[]string{"vendor", "to"},
	)

	// RateLimitRejectedTotal counts HTTP requests rejected by the caller
	// rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weiche_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InFlightRequests,
		DispatchTotal,
		DispatchDuration,
		ProviderTokensTotal,
		GroundingTotal,
		CitationsTotal,
		FailoverTotal,
		RetriesTotal,
		RateLimitBackoffsTotal,
		DroppedKnobsTotal,
		CircuitState,
		CircuitTransitionsTotal,
		RateLimitRejectedTotal,
	)
}
