package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/clock"
	"github.com/smallbiznis/luc/internal/lock"
	obsmetrics "github.com/smallbiznis/luc/internal/observability/metrics"
)

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "luc",
		Environment: "test",
	})

	s := &Scheduler{log: zap.NewNop(), genID: testNode(t), clock: clock.NewFakeClock(time.Time{})}
	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "luc",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "luc_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "luc",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "luc_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobWrapsHardErrors(t *testing.T) {
	restore := swapPrometheusRegistry(prometheus.NewRegistry())
	defer restore()

	s := &Scheduler{log: zap.NewNop(), genID: testNode(t), clock: clock.NewFakeClock(time.Time{})}
	err := s.runJob(context.Background(), "broken", 0, time.Second, func(context.Context) error {
		return domain.ErrStorage
	})
	require.ErrorIs(t, err, domain.ErrStorage)
	require.Contains(t, err.Error(), "broken")
}

func TestResetCyclesJobDrainsFullBatches(t *testing.T) {
	restore := swapPrometheusRegistry(prometheus.NewRegistry())
	defer restore()

	accounts := &resetStub{results: []resetResult{{n: 2}, {n: 2}, {n: 1}, {n: 2}}}
	s := newTestScheduler(t, accounts, Config{BatchSize: 2, MaxBatches: 10})

	require.NoError(t, s.ResetCyclesJob(context.Background()))
	require.Equal(t, 3, accounts.calls)
	require.Equal(t, 5.0, counterSum(t, "luc_billing_cycle_resets_total"))
}

func TestResetCyclesJobStopsAtMaxBatches(t *testing.T) {
	restore := swapPrometheusRegistry(prometheus.NewRegistry())
	defer restore()

	accounts := &resetStub{results: []resetResult{{n: 2}, {n: 2}, {n: 2}, {n: 2}}}
	s := newTestScheduler(t, accounts, Config{BatchSize: 2, MaxBatches: 2})

	require.NoError(t, s.ResetCyclesJob(context.Background()))
	require.Equal(t, 2, accounts.calls)
}

func TestResetCyclesJobDefersOnLockTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	accounts := &resetStub{results: []resetResult{{n: 1, err: errors.Join(lock.ErrLockTimeout)}, {n: 2}}}
	s := newTestScheduler(t, accounts, Config{BatchSize: 2, MaxBatches: 5})

	require.NoError(t, s.ResetCyclesJob(context.Background()))
	require.Equal(t, 1, accounts.calls)

	labels := map[string]string{
		"service": "luc",
		"env":     "unknown",
		"job":     JobResetCycles,
		"reason":  obsmetrics.SchedulerBatchDeferredReasonLockBusy,
	}
	require.Equal(t, 1.0, getCounterValue(t, registry, "luc_scheduler_batch_deferred_total", labels))
}

func TestRunOnceSkipsDisabledJobs(t *testing.T) {
	restore := swapPrometheusRegistry(prometheus.NewRegistry())
	defer restore()

	accounts := &resetStub{}
	s := newTestScheduler(t, accounts, Config{EnabledJobs: []string{"something_else"}})

	require.NoError(t, s.RunOnce(context.Background()))
	require.Zero(t, accounts.calls)

	s.cfg.EnabledJobs = []string{"RESET_CYCLES"}
	require.NoError(t, s.RunOnce(context.Background()))
	require.Equal(t, 1, accounts.calls)
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	_, err := New(Params{
		Log:      zap.NewNop(),
		Accounts: &resetStub{},
		GenID:    testNode(t),
		Clock:    clock.NewFakeClock(time.Time{}),
		Config:   Config{Schedule: "every now and then"},
	})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Params{Log: zap.NewNop()})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunForeverStopsWithContext(t *testing.T) {
	restore := swapPrometheusRegistry(prometheus.NewRegistry())
	defer restore()

	s := newTestScheduler(t, &resetStub{}, Config{Schedule: "@every 1h"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunForever(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not stop")
	}
}

type resetResult struct {
	n   int
	err error
}

// resetStub answers ResetDueCycles from a script; nothing else is called.
type resetStub struct {
	domain.Service
	results []resetResult
	calls   int
}

func (s *resetStub) ResetDueCycles(_ context.Context, _ time.Time, _ int) (int, error) {
	s.calls++
	if len(s.results) == 0 {
		return 0, nil
	}
	next := s.results[0]
	s.results = s.results[1:]
	return next.n, next.err
}

func newTestScheduler(t *testing.T, accounts domain.Service, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(Params{
		Log:      zap.NewNop(),
		Accounts: accounts,
		GenID:    testNode(t),
		Clock:    clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Config:   cfg,
	})
	require.NoError(t, err)
	return s
}

func testNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	obsmetrics.ResetSchedulerMetricsForTest()
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func counterSum(t *testing.T, name string) float64 {
	t.Helper()
	metricFamilies, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
