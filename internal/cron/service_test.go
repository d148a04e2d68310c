package cron

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	released int
	err      error
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.released++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: &bytes.Buffer{}})
}

func TestRunOnceRunsAllJobsAndCombinesErrors(t *testing.T) {
	ok := &testJob{name: "ok"}
	failA := &testJob{name: "fail_a", err: errors.New("boom")}
	failB := &testJob{name: "fail_b", err: errors.New("bang")}
	registry, err := NewRegistry(failA, ok, failB)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	jobMetrics := metrics.NewCronJobMetrics(reg)
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{Logger: testLogger(), Registry: registry, Lock: lock, Metrics: jobMetrics})
	require.NoError(t, err)

	err = service.RunOnce(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorContains(t, err, "fail_a: boom")
	assert.ErrorContains(t, err, "fail_b: bang")

	assert.Equal(t, 1, ok.runs)
	assert.Equal(t, 1, failA.runs)
	assert.Equal(t, 1, failB.runs)
	assert.Equal(t, 1, lock.released)
	assert.False(t, lock.held)

	runs, err := testutil.GatherAndCount(reg, "bookswap_cron_job_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 3, runs, "one series per job and result")
	succeeded, err := testutil.GatherAndCount(reg, "bookswap_cron_job_last_success_timestamp_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, succeeded)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "job"}
	registry, err := NewRegistry(job)
	require.NoError(t, err)
	lock := &fakeLock{held: true}
	service, err := NewService(ServiceParams{Logger: testLogger(), Registry: registry, Lock: lock})
	require.NoError(t, err)

	require.NoError(t, service.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
	assert.Zero(t, lock.released)
}

func TestRunOnceLockError(t *testing.T) {
	service, err := NewService(ServiceParams{Logger: testLogger(), Lock: &fakeLock{err: errors.New("redis down")}})
	require.NoError(t, err)
	require.ErrorContains(t, service.RunOnce(context.Background()), "lock acquire")
}

type signalJob struct {
	ran chan struct{}
}

func (s *signalJob) Name() string { return "signal" }

func (s *signalJob) Run(context.Context) error {
	s.ran <- struct{}{}
	return nil
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &signalJob{ran: make(chan struct{}, 1)}
	registry, err := NewRegistry(job)
	require.NoError(t, err)
	service, err := NewService(ServiceParams{Logger: testLogger(), Registry: registry, Lock: &fakeLock{}, Interval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()
	select {
	case <-job.ran:
	case <-time.After(time.Second):
		t.Fatal("first cycle did not run")
	}
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
