package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "tickflow"

var (
	RateLimitBlockTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_block_total",
			Help:      "Total number of rate limit blocks.",
		},
		[]string{"service", "method", "reason"},
	)

	CBRejectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_reject_total",
			Help:      "Total number of circuit breaker rejections.",
		},
		[]string{"service", "method", "reason"},
	)

	CBState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0/1).",
		},
		[]string{"service", "method", "state"}, // state: closed/open/half_open
	)

	TicksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_ingested_total",
			Help:      "Ticks persisted, by ingest path.",
		},
		[]string{"source"}, // poll/stream/backfill/api
	)

	IngestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_errors_total",
			Help:      "Ingest failures, by path and stage.",
		},
		[]string{"source", "stage"}, // stage: fetch/decode/store/publish/dial
	)

	StreamState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_state",
			Help:      "1 for the streaming ingestor's current state.",
		},
		[]string{"state"},
	)

	BackfillChunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_chunks_total",
			Help:      "Backfill chunk requests, by source and result.",
		},
		[]string{"source", "result"}, // ok/retry/failed
	)
)

func MustRegister() {
	prometheus.MustRegister(
		RateLimitBlockTotal, CBRejectTotal, CBState,
		TicksIngested, IngestErrors, StreamState, BackfillChunks,
	)
}
