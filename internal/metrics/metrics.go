// Package metrics exposes Prometheus collectors for the relay.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// LatencyBuckets spans 50ms to 120s, which covers both fast cached answers
// and long generations.
var LatencyBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts HTTP requests by route pattern and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LatencyBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks SSE responses currently being written.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// CompletionsTotal counts chat completions by provider, conversation mode,
	// delivery and outcome (ok, invalid, upstream_error, client_gone).
	CompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_completions_total",
			Help: "Chat completions handled",
		},
		[]string{"provider", "mode", "stream", "outcome"},
	)

	// ProviderLatency records time spent waiting on the upstream provider.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LatencyBuckets,
		},
		[]string{"provider", "model"},
	)

	// StreamChunksTotal counts data chunks relayed to clients.
	StreamChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_stream_chunks_total",
			Help: "Stream chunks written",
		},
		[]string{"provider"},
	)

	// MalformedStreamLines counts upstream SSE lines dropped because their
	// payload was not valid JSON.
	MalformedStreamLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_stream_malformed_lines_total",
			Help: "Upstream stream lines skipped",
		},
		[]string{"provider"},
	)

	// ExchangeLogWrites counts exchange log appends by sink and outcome.
	ExchangeLogWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_exchange_log_writes_total",
			Help: "Exchange log appends",
		},
		[]string{"sink", "outcome"},
	)

	// BreakerState reports the upstream circuit breaker state per provider
	// (0 closed, 1 half-open, 2 open).
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_breaker_state",
			Help: "Upstream circuit breaker state",
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		CompletionsTotal,
		ProviderLatency,
		StreamChunksTotal,
		MalformedStreamLines,
		ExchangeLogWrites,
		BreakerState,
	)
}
