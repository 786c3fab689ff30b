package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type SubscriptionMetrics struct {
	live       *prometheus.GaugeVec
	lapsed     *prometheus.GaugeVec
	cumulative prometheus.Gauge
	passes     *prometheus.CounterVec
}

var (
	subscriptionsOnce     sync.Once
	subscriptionsRegistry *SubscriptionMetrics
)

func Subscriptions() *SubscriptionMetrics {
	subscriptionsOnce.Do(func() {
		subscriptionsRegistry = &SubscriptionMetrics{
			live: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "spacegate_subscriptions_live",
				Help: "Subscriptions inside their paid window at the last reconciliation, per space.",
			}, []string{"space"}),
			lapsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "spacegate_subscriptions_lapsed",
				Help: "Registered subscriptions whose window has ended, per space.",
			}, []string{"space"}),
			cumulative: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "spacegate_subscriptions_granted_total",
				Help: "Cumulative grants recorded by the registry counter.",
			}),
			passes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "spacegate_reconciler_passes_total",
				Help: "Reconciliation passes by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			subscriptionsRegistry.live,
			subscriptionsRegistry.lapsed,
			subscriptionsRegistry.cumulative,
			subscriptionsRegistry.passes,
		)
	})
	return subscriptionsRegistry
}

func (m *SubscriptionMetrics) SetSpace(space string, live, lapsed int) {
	if m == nil {
		return
	}
	if space == "" {
		space = "unknown"
	}
	m.live.WithLabelValues(space).Set(float64(live))
	m.lapsed.WithLabelValues(space).Set(float64(lapsed))
}

func (m *SubscriptionMetrics) SetCumulative(total uint64) {
	if m == nil {
		return
	}
	m.cumulative.Set(float64(total))
}

func (m *SubscriptionMetrics) ObservePass(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.passes.WithLabelValues(outcome).Inc()
}

// Live exposes the live gauge vector for assertions.
func (m *SubscriptionMetrics) Live() *prometheus.GaugeVec {
	return m.live
}
