package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	chainMetricsOnce sync.Once
	chainRegistry    *ChainMetrics

	gateMetricsOnce sync.Once
	gateRegistry    *GateMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spacegate",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spacegate",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "spacegate",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spacegate",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// ChainMetrics tracks block production on the node.
type ChainMetrics struct {
	transactions *prometheus.CounterVec
	heartbeats   prometheus.Counter
	height       prometheus.Gauge
	applyLatency prometheus.Histogram
}

// Chain returns the singleton chain metrics registry.
func Chain() *ChainMetrics {
	chainMetricsOnce.Do(func() {
		chainRegistry = &ChainMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spacegate",
				Subsystem: "chain",
				Name:      "transactions_total",
				Help:      "Transactions processed segmented by type and outcome.",
			}, []string{"type", "outcome"}),
			heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "spacegate",
				Subsystem: "chain",
				Name:      "heartbeat_blocks_total",
				Help:      "Empty blocks sealed to keep the head clock fresh.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "spacegate",
				Subsystem: "chain",
				Name:      "head_height",
				Help:      "Height of the latest committed block.",
			}),
			applyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "spacegate",
				Subsystem: "chain",
				Name:      "apply_duration_seconds",
				Help:      "Time spent applying and committing one transaction.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			chainRegistry.transactions,
			chainRegistry.heartbeats,
			chainRegistry.height,
			chainRegistry.applyLatency,
		)
	})
	return chainRegistry
}

// RecordTransaction counts one processed transaction.
func (m *ChainMetrics) RecordTransaction(txType string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "applied"
	if err != nil {
		outcome = "rejected"
	}
	m.transactions.WithLabelValues(txType, outcome).Inc()
	m.applyLatency.Observe(duration.Seconds())
}

// RecordBlock updates the head gauge. Heartbeat blocks are counted separately.
func (m *ChainMetrics) RecordBlock(height uint64, heartbeat bool) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
	if heartbeat {
		m.heartbeats.Inc()
	}
}

// GateMetrics tracks key-holder authorization decisions.
type GateMetrics struct {
	decisions *prometheus.CounterVec
	shares    prometheus.Counter
	staleness prometheus.Histogram
}

// Gate returns the singleton gate metrics registry.
func Gate() *GateMetrics {
	gateMetricsOnce.Do(func() {
		gateRegistry = &GateMetrics{
			decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spacegate",
				Subsystem: "gate",
				Name:      "decisions_total",
				Help:      "Gate evaluations segmented by path, outcome and local reason.",
			}, []string{"path", "outcome", "reason"}),
			shares: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "spacegate",
				Subsystem: "gate",
				Name:      "shares_released_total",
				Help:      "Key shares handed to authorized requesters.",
			}),
			staleness: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "spacegate",
				Subsystem: "gate",
				Name:      "snapshot_age_seconds",
				Help:      "Age of the chain snapshot a decision was evaluated against.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			}),
		}
		prometheus.MustRegister(gateRegistry.decisions, gateRegistry.shares, gateRegistry.staleness)
	})
	return gateRegistry
}

// RecordDecision counts one gate evaluation. A grant has an empty reason.
func (m *GateMetrics) RecordDecision(path string, granted bool, reason string, snapshotAge time.Duration) {
	if m == nil {
		return
	}
	outcome := "denied"
	if granted {
		outcome = "granted"
		reason = ""
		m.shares.Inc()
	}
	if reason == "" && !granted {
		reason = "unspecified"
	}
	m.decisions.WithLabelValues(path, outcome, reason).Inc()
	if snapshotAge >= 0 {
		m.staleness.Observe(snapshotAge.Seconds())
	}
}
