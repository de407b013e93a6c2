// Package scheduler drives billing-cycle resets from outside the engine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/clock"
	"github.com/smallbiznis/luc/internal/lock"
	obsmetrics "github.com/smallbiznis/luc/internal/observability/metrics"
)

const JobResetCycles = "reset_cycles"

type Params struct {
	fx.In

	Log      *zap.Logger
	Accounts domain.Service
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   Config `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	accounts domain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Accounts == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %v", ErrInvalidConfig, cfg.Schedule, err)
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      cfg,
		genID:    p.GenID,
		clock:    p.Clock,
		accounts: p.Accounts,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errors == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobResetCycles, s.isJobEnabled(JobResetCycles), func(ctx context.Context) error {
			return s.runJob(ctx, JobResetCycles, s.cfg.BatchSize, s.cfg.JobTimeout, s.ResetCyclesJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

// RunForever triggers RunOnce on the configured cron schedule until ctx
// is done. A tick that finds the previous run still going is skipped.
func (s *Scheduler) RunForever(ctx context.Context) error {
	schedule, err := cron.ParseStandard(s.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("%w: schedule %q: %v", ErrInvalidConfig, s.cfg.Schedule, err)
	}

	logger := cronLogger{log: s.log.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	schedMetrics := obsmetrics.Scheduler()

	var id cron.EntryID
	id = c.Schedule(schedule, cron.FuncJob(func() {
		if scheduled := c.Entry(id).Prev; !scheduled.IsZero() {
			schedMetrics.ObserveRunLoopLag(time.Since(scheduled))
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
	}))

	s.log.Info("scheduler started", zap.String("schedule", s.cfg.Schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty means every job runs
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ResetCyclesJob resets accounts whose billing cycle has ended, one batch
// at a time, until a batch comes back short or MaxBatches is reached.
func (s *Scheduler) ResetCyclesJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobResetCycles, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()
	now := s.clock.Now()

	for batch := 0; batch < s.cfg.MaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.accounts.ResetDueCycles(ctx, now, s.cfg.BatchSize)
		run.AddProcessed(n)
		schedMetrics.AddBatchProcessed(JobResetCycles, obsmetrics.ResourceAccounts, n)
		schedMetrics.AddCycleResets(n)
		if err != nil {
			if errors.Is(err, lock.ErrLockTimeout) {
				schedMetrics.IncBatchDeferred(JobResetCycles, obsmetrics.SchedulerBatchDeferredReasonLockBusy)
				run.IncDeferred()
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return err
			}
			s.logSchedulerError(ctx, run, "scheduler.reset_cycles.failed", err,
				zap.Int("batch", batch),
				zap.Int("reset_count", n),
			)
			// failed accounts stay due; retrying now would return them again
			return nil
		}
		if n < s.cfg.BatchSize {
			return nil
		}
	}
	s.logger(ctx).Info("scheduler.reset_cycles.batch_limit",
		zap.Int("max_batches", s.cfg.MaxBatches),
		zap.Int("processed_count", run.processed),
	)
	return nil
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
