package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics records pool engine activity: action outcomes, handler
// latency and auction fills.
type PoolMetrics struct {
	actions  *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	auctions *prometheus.CounterVec
}

var (
	poolMetricsOnce sync.Once
	poolRegistry    *PoolMetrics
)

// Pool returns the lazily-initialised pool metrics registry.
func Pool() *PoolMetrics {
	poolMetricsOnce.Do(func() {
		poolRegistry = &PoolMetrics{
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basalt",
				Subsystem: "pool",
				Name:      "actions_total",
				Help:      "Total pool actions segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basalt",
				Subsystem: "pool",
				Name:      "errors_total",
				Help:      "Total pool action failures segmented by action.",
			}, []string{"action"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "basalt",
				Subsystem: "pool",
				Name:      "action_duration_seconds",
				Help:      "Latency distribution for pool action handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"}),
			auctions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basalt",
				Subsystem: "pool",
				Name:      "auction_events_total",
				Help:      "Auction lifecycle events segmented by variant and event.",
			}, []string{"variant", "event"}),
		}
		prometheus.MustRegister(
			poolRegistry.actions,
			poolRegistry.errors,
			poolRegistry.latency,
			poolRegistry.auctions,
		)
	})
	return poolRegistry
}

// ObserveAction records one pool action outcome and its duration.
func (m *PoolMetrics) ObserveAction(action string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(action).Inc()
	}
	m.actions.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// ObserveAuction records one auction lifecycle event.
func (m *PoolMetrics) ObserveAuction(variant, event string) {
	if m == nil {
		return
	}
	m.auctions.WithLabelValues(variant, event).Inc()
}
