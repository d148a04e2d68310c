package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	job := "pending_order_expiry"
	finished := time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)

	m.Observe(job, 250*time.Millisecond, finished, nil)
	m.Observe(job, time.Second, finished.Add(time.Hour), errors.New("db down"))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	success, err := findMetric(mfs, "bookswap_cron_job_runs_total", map[string]string{"job": job, "result": "success"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), success.GetCounter().GetValue())

	failure, err := findMetric(mfs, "bookswap_cron_job_runs_total", map[string]string{"job": job, "result": "failure"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), failure.GetCounter().GetValue())

	hist, err := findMetric(mfs, "bookswap_cron_job_duration_seconds", map[string]string{"job": job})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), hist.GetHistogram().GetSampleCount())
	assert.InDelta(t, 1.25, hist.GetHistogram().GetSampleSum(), 1e-9)

	last, err := findMetric(mfs, "bookswap_cron_job_last_success_timestamp_seconds", map[string]string{"job": job})
	require.NoError(t, err)
	assert.Equal(t, float64(finished.Unix()), last.GetGauge().GetValue(), "failed runs leave the last success alone")
}

func TestNilCronJobMetricsIsNoop(t *testing.T) {
	assert.Nil(t, NewCronJobMetrics(nil))
	var m *CronJobMetrics
	m.Observe("x", time.Second, time.Now(), nil)
}
