package scheduler

import (
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/luc/internal/config"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Config controls the reset schedule and batch sizes.
type Config struct {
	Schedule    string
	BatchSize   int
	MaxBatches  int
	JobTimeout  time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Schedule:   "@every 1m",
		BatchSize:  100,
		MaxBatches: 50,
		JobTimeout: 30 * time.Second,
	}
}

// ProvideConfig derives the scheduler config from the app config.
// SCHEDULER_JOBS narrows the enabled jobs.
func ProvideConfig(cfg config.Config) Config {
	out := Config{
		Schedule:  cfg.ResetSchedule,
		BatchSize: cfg.ResetBatchSize,
	}
	for _, job := range strings.Split(cfg.SchedulerJobs, ",") {
		if job = strings.TrimSpace(job); job != "" {
			out.EnabledJobs = append(out.EnabledJobs, job)
		}
	}
	return out.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = defaults.Schedule
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = defaults.MaxBatches
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
