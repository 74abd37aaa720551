package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's instrumentation. All collectors are registered
// against the injected Registerer so tests can use isolated registries.
type Metrics struct {
	swapDuration  *prometheus.HistogramVec
	swapsTotal    *prometheus.CounterVec
	ticksCrossed  prometheus.Histogram
	poolsActive   prometheus.Gauge
	positionCount *prometheus.GaugeVec
	feePips       *prometheus.GaugeVec
	opErrors      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		swapDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clmm",
			Subsystem: "engine",
			Name:      "swap_duration_seconds",
			Help:      "Wall time spent executing a swap.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"pool"}),
		swapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clmm",
			Subsystem: "engine",
			Name:      "swaps_total",
			Help:      "Completed swaps by pool and direction.",
		}, []string{"pool", "direction"}),
		ticksCrossed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clmm",
			Subsystem: "engine",
			Name:      "swap_ticks_crossed",
			Help:      "Initialized tick boundaries crossed per swap.",
			Buckets:   prometheus.LinearBuckets(0, 2, 12),
		}),
		poolsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clmm",
			Subsystem: "engine",
			Name:      "pools_active",
			Help:      "Number of initialized pools.",
		}),
		positionCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clmm",
			Subsystem: "engine",
			Name:      "positions",
			Help:      "Live positions per pool.",
		}, []string{"pool"}),
		feePips: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clmm",
			Subsystem: "engine",
			Name:      "fee_pips",
			Help:      "Swap fee currently in force per pool, in pips.",
		}, []string{"pool"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clmm",
			Subsystem: "engine",
			Name:      "operation_errors_total",
			Help:      "Failed operations by kind.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.swapDuration, m.swapsTotal, m.ticksCrossed, m.poolsActive, m.positionCount, m.feePips, m.opErrors)
	return m
}
