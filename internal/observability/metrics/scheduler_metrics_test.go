package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/lock"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "account_lock",
			err:  fmt.Errorf("reset: %w", lock.ErrLockTimeout),
			want: SchedulerJobReasonLockTimeout,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "storage",
			err:  domain.WrapStorage("list_due", errors.New("disk full")),
			want: SchedulerJobReasonStorage,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	if !IsSchedulerErrorRetryable(lock.ErrLockTimeout) {
		t.Fatalf("lock timeouts should be retryable")
	}
	if IsSchedulerErrorRetryable(errors.New("boom")) {
		t.Fatalf("unknown errors should not be retryable")
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "luc",
		Environment: "test",
	})

	metrics.AddBatchProcessed("reset_cycles", ResourceAccounts, 3)
	metrics.AddCycleResets(2)
	metrics.AddCycleResets(0)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("reset_cycles", ResourceAccounts))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.cycleResets); got != 2 {
		t.Fatalf("expected 2 resets, got %v", got)
	}
}
