package metrics

import "github.com/prometheus/client_golang/prometheus"

// Publish outcomes recorded by OutboxMetrics.
const (
	PublishSucceeded = "published"
	PublishRetried   = "retried"
	PublishParked    = "dead_lettered"
)

// OutboxMetrics counts outbox publish attempts per topic and outcome.
type OutboxMetrics struct {
	publishes *prometheus.CounterVec
	pending   prometheus.Gauge
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_total",
			Help:      "Outbox publish attempts by topic and outcome.",
		}, []string{"topic", "outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "last_batch_size",
			Help:      "Rows claimed by the most recent publish batch.",
		}),
	}
	reg.MustRegister(m.publishes, m.pending)
	return m
}

func (m *OutboxMetrics) IncPublish(topic, outcome string) {
	if m == nil || m.publishes == nil {
		return
	}
	m.publishes.WithLabelValues(normalizeLabel(topic), normalizeLabel(outcome)).Inc()
}

func (m *OutboxMetrics) SetBatchSize(n int) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Set(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
