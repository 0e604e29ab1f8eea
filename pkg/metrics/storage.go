package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pool and query metrics of the tick store backends. Registered on import.
var (
	// DbPool is the database/sql pool by state: open/idle/inuse.
	DbPool = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_pool_conns",
		Help:      "database/sql pool connections by state.",
	}, []string{"state"})
	DbPoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "db_pool_wait_total",
		Help:      "Connections waited for.",
	})
	DbPoolWaitSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "db_pool_wait_seconds_total",
		Help:      "Time spent waiting for a connection.",
	})

	RedisPool = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "redis_pool_conns",
		Help:      "go-redis pool connections by state.",
	}, []string{"state"})
	// go-redis reports these cumulatively
	RedisPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "redis_pool_wait_count",
	})
	RedisPoolWaitSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "redis_pool_wait_seconds",
	})

	DbQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "db_query_duration_seconds",
		Help:      "Tick store query latency.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms ~ 16s
	}, []string{"query", "status"})

	RedisCmdDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "redis_cmd_duration_seconds",
		Help:      "Redis command latency.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"cmd", "status"})
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "redis_errors_total",
		Help:      "Redis command failures.",
	}, []string{"cmd"})
)
