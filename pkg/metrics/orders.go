package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orderdesk"

// Callback results recorded by OrderMetrics.ObserveCallback.
const (
	CallbackApplied            = "applied"
	CallbackAlreadyApplied     = "already_applied"
	CallbackVerificationFailed = "verification_failed"
	CallbackRejected           = "rejected"
	CallbackError              = "error"
)

// OrderMetrics tracks lifecycle activity for the API process.
type OrderMetrics struct {
	transitions *prometheus.CounterVec
	conflicts   prometheus.Counter
	callbacks   *prometheus.CounterVec
	subscribers prometheus.Gauge
	lagged      prometheus.Counter
}

// NewOrderMetrics registers the order metrics on reg. A nil registerer yields a
// no-op recorder, which is what unit tests use.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	m := &OrderMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Committed order status changes.",
		}, []string{"from", "to", "role"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "version_conflicts_total",
			Help:      "Conditional writes that lost a version race.",
		}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "callbacks_total",
			Help:      "Gateway callbacks by outcome.",
		}, []string{"result"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "subscribers",
			Help:      "Open change feed subscriptions.",
		}),
		lagged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "lagged_total",
			Help:      "Subscriptions closed because their buffer overflowed.",
		}),
	}
	reg.MustRegister(m.transitions, m.conflicts, m.callbacks, m.subscribers, m.lagged)
	return m
}

// ObserveTransition counts one committed status change.
func (m *OrderMetrics) ObserveTransition(from, to, role string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to), normalizeLabel(role)).Inc()
}

// IncConflict counts a lost optimistic-concurrency race.
func (m *OrderMetrics) IncConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}

// ObserveCallback counts a gateway callback outcome.
func (m *OrderMetrics) ObserveCallback(result string) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(normalizeLabel(result)).Inc()
}

// SubscriberOpened bumps the live subscription gauge.
func (m *OrderMetrics) SubscriberOpened() {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Inc()
}

// SubscriberClosed lowers the live subscription gauge.
func (m *OrderMetrics) SubscriberClosed() {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Dec()
}

// IncLagged counts a subscription dropped for falling behind.
func (m *OrderMetrics) IncLagged() {
	if m == nil || m.lagged == nil {
		return
	}
	m.lagged.Inc()
}
