package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "bookswap"

// Refund outcomes recorded by SagaMetrics.IncRefund.
const (
	RefundSucceeded = "succeeded"
	RefundFailed    = "failed"
)

// SagaMetrics counts the degraded paths of the fulfillment saga: simulated
// quotes and shipments, compensations and refund outcomes.
type SagaMetrics struct {
	quoteFallbacks     prometheus.Counter
	simulatedShipments prometheus.Counter
	compensations      *prometheus.CounterVec
	refunds            *prometheus.CounterVec
}

// NewSagaMetrics registers the saga counters. A nil registerer yields a
// no-op recorder.
func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	if reg == nil {
		return &SagaMetrics{}
	}
	m := &SagaMetrics{
		quoteFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_fallback_total",
			Help:      "Quote requests answered with the simulated fallback rate.",
		}),
		simulatedShipments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shipments_simulated_total",
			Help:      "Shipments recorded with a simulated tracking number.",
		}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_compensations_total",
			Help:      "Compensating actions run by the order saga, by step.",
		}, []string{"step"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Refund attempts by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.quoteFallbacks, m.simulatedShipments, m.compensations, m.refunds)
	return m
}

func (m *SagaMetrics) IncQuoteFallback() {
	if m == nil || m.quoteFallbacks == nil {
		return
	}
	m.quoteFallbacks.Inc()
}

func (m *SagaMetrics) IncSimulatedShipment() {
	if m == nil || m.simulatedShipments == nil {
		return
	}
	m.simulatedShipments.Inc()
}

func (m *SagaMetrics) IncCompensation(step string) {
	if m == nil || m.compensations == nil {
		return
	}
	m.compensations.WithLabelValues(normalizeLabel(step)).Inc()
}

func (m *SagaMetrics) IncRefund(outcome string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(outcome)).Inc()
}
