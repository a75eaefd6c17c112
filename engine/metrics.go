package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's instrumentation. Collectors are registered on
// construction against the caller-provided registerer.
type Metrics struct {
	swapsTotal     *prometheus.CounterVec
	swapDuration   *prometheus.HistogramVec
	swapErrors     *prometheus.CounterVec
	ticksCrossed   prometheus.Counter
	jitActivations *prometheus.CounterVec
	jitConsumed    *prometheus.CounterVec
}

// NewMetrics creates and registers the engine collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		swapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clmm",
			Subsystem: "engine",
			Name:      "swaps_total",
			Help:      "Completed swaps by market and direction.",
		}, []string{"market", "direction"}),
		swapDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clmm",
			Subsystem: "engine",
			Name:      "swap_duration_seconds",
			Help:      "Wall time of a full multi-step swap.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"market"}),
		swapErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clmm",
			Subsystem: "engine",
			Name:      "swap_errors_total",
			Help:      "Swaps aborted by an error, by market.",
		}, []string{"market"}),
		ticksCrossed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clmm",
			Subsystem: "engine",
			Name:      "ticks_crossed_total",
			Help:      "Initialized ticks crossed across all swaps.",
		}),
		jitActivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clmm",
			Subsystem: "jit",
			Name:      "activations_total",
			Help:      "Swaps in which the liquidity overlay activated.",
		}, []string{"market"}),
		jitConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clmm",
			Subsystem: "jit",
			Name:      "consumed_units_total",
			Help:      "Buffer units consumed by the overlay.",
		}, []string{"market"}),
	}

	reg.MustRegister(
		m.swapsTotal,
		m.swapDuration,
		m.swapErrors,
		m.ticksCrossed,
		m.jitActivations,
		m.jitConsumed,
	)
	return m
}
