// Package wsmetrics instruments the live price feed: connections, hub
// membership and frame writes.
package wsmetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const ns = "tickflow"

var (
	Conns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "conns",
		Help:      "Open /ws/prices connections.",
	})
	ConnOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "conn_open_total",
		Help:      "Accepted /ws/prices upgrades.",
	})
	ConnCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "conn_close_total",
		Help:      "Closed connections by close code and reason.",
	}, []string{"code", "reason"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "hub_subscribers",
		Help:      "Subscribers registered with the hub.",
	})
	SubOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "sub_ops_total",
		Help:      "Hub register/unregister calls.",
	}, []string{"op"})

	MsgsOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "msgs_out_total",
		Help:      "Frames delivered, one per subscriber per broadcast.",
	})
	BytesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "bytes_out_total",
		Help:      "Payload bytes written.",
	})
	WriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "write_errors_total",
		Help:      "Failed frame writes.",
	})
	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "dropped_total",
		Help:      "Subscribers removed after a failed send.",
	}, []string{"why"})

	PingSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "ping_sent_total",
		Help:      "Pings written.",
	})
	PingErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "ping_errors_total",
		Help:      "Failed ping writes.",
	})
	PongRecvTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "pong_recv_total",
		Help:      "Pongs received.",
	})
	PongTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "pong_timeout_total",
		Help:      "Connections closed for a missing pong.",
	})

	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "write_duration_seconds",
		Help:      "Time to write one frame.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms -> ~4s
	})
	FanoutSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Subsystem: "ws",
		Name:      "fanout_size",
		Help:      "Subscribers targeted by one broadcast.",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512},
	})
)

func OnOpen() {
	Conns.Inc()
	ConnOpenTotal.Inc()
}

func OnClose(code int, reason string) {
	Conns.Dec()
	ConnCloseTotal.WithLabelValues(strconv.Itoa(code), reason).Inc()
}

func OnRegister(n int) {
	SubOpsTotal.WithLabelValues("register").Inc()
	Subscribers.Set(float64(n))
}

func OnUnregister(n int) {
	SubOpsTotal.WithLabelValues("unregister").Inc()
	Subscribers.Set(float64(n))
}

func ObserveWrite(bytes int, dur time.Duration, err error) {
	WriteDuration.Observe(dur.Seconds())
	if err != nil {
		WriteErrorsTotal.Inc()
		return
	}
	BytesOutTotal.Add(float64(bytes))
}
