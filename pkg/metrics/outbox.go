package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox dispatch outcomes.
const (
	OutboxPublished    = "published"
	OutboxRetried      = "retried"
	OutboxHeld         = "held"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks what the outbox publisher does with each row.
type OutboxMetrics struct {
	dispatched *prometheus.CounterVec
	latency    prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox rows handled by the publisher, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_lag_seconds",
			Help:      "Time between an outbox row being written and its publish being acknowledged.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
	}
	reg.MustRegister(m.dispatched, m.latency)
	return m
}

func (m *OutboxMetrics) Observe(eventType, outcome string) {
	if m == nil || m.dispatched == nil {
		return
	}
	m.dispatched.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

// ObserveLag records how long a published row sat in the outbox.
func (m *OutboxMetrics) ObserveLag(createdAt, publishedAt time.Time) {
	if m == nil || m.latency == nil || createdAt.IsZero() {
		return
	}
	lag := publishedAt.Sub(createdAt)
	if lag < 0 {
		lag = 0
	}
	m.latency.Observe(lag.Seconds())
}
