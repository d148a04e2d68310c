package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestSagaMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSagaMetrics(reg)

	m.IncQuoteFallback()
	m.IncQuoteFallback()
	m.IncSimulatedShipment()
	m.IncCompensation("inventory_release")
	m.IncRefund(RefundFailed)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	fallback := findMetricFamily(mfs, "bookswap_quotes_fallback_total")
	require.NotNil(t, fallback)
	require.Equal(t, float64(2), fallback.GetMetric()[0].GetCounter().GetValue())

	got, err := fetchCounterValue(mfs, "bookswap_saga_compensations_total", "step", "inventory_release")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	got, err = fetchCounterValue(mfs, "bookswap_refunds_total", "outcome", RefundFailed)
	require.NoError(t, err)
	require.Equal(t, float64(1), got)
}

func TestNilSagaMetricsIsNoop(t *testing.T) {
	var m *SagaMetrics
	m.IncQuoteFallback()
	m.IncCompensation("x")

	NewSagaMetrics(nil).IncRefund(RefundSucceeded)
}
