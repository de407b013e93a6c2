package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	obscontext "github.com/smallbiznis/luc/internal/observability/context"
	obslogger "github.com/smallbiznis/luc/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/luc/internal/observability/metrics"
)

// jobRun accumulates per-run counters for the finish log line.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time

	processed int
	deferred  int
	errors    int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r != nil && count > 0 {
		r.processed += count
	}
}

func (r *jobRun) IncDeferred() {
	if r != nil {
		r.deferred++
	}
}

func (r *jobRun) IncError() {
	if r != nil {
		r.errors++
	}
}

// ensureJobRun attaches a run to ctx unless one is already there. The run id
// doubles as the request id so store and manager logs correlate with it.
func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	return obscontext.WithRequestID(ctx, run.runID), run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	level := zap.InfoLevel
	if run.errors > 0 || run.deferred > 0 {
		level = zap.WarnLevel
	}
	s.logger(ctx).Log(level, "scheduler.job.finish",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processed),
		zap.Int("deferred_count", run.deferred),
		zap.Int("error_count", run.errors),
	)
}

// logSchedulerError logs retryable failures at warn; the next tick picks
// the same accounts up again.
func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()

	retryable := obsmetrics.IsSchedulerErrorRetryable(err)
	level := zapcore.ErrorLevel
	if retryable {
		level = zapcore.WarnLevel
	}
	base := []zap.Field{
		zap.String("job", run.job),
		zap.String("error_type", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Error(err),
		zap.Bool("retryable", retryable),
	}
	s.logger(ctx).Log(level, msg, append(base, fields...)...)
}
