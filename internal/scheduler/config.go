package scheduler

import (
	"time"

	"github.com/smallbiznis/sequencer/internal/config"
)

// Config controls scheduler intervals, batch sizes and concurrency.
type Config struct {
	RunInterval     time.Duration
	BatchSize       int
	Workers         int
	LeaseDuration   time.Duration
	JobTimeout      time.Duration
	MaxBatches      int
	ScoreRefreshAge time.Duration
	ScoreBatchSize  int
	EnabledJobs     []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     30 * time.Second,
		BatchSize:       100,
		Workers:         8,
		LeaseDuration:   2 * time.Minute,
		JobTimeout:      time.Minute,
		MaxBatches:      10,
		ScoreRefreshAge: 24 * time.Hour,
		ScoreBatchSize:  200,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = defaults.LeaseDuration
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = defaults.MaxBatches
	}
	if c.ScoreRefreshAge <= 0 {
		c.ScoreRefreshAge = defaults.ScoreRefreshAge
	}
	if c.ScoreBatchSize <= 0 {
		c.ScoreBatchSize = defaults.ScoreBatchSize
	}
	return c
}

// ProvideConfig maps the process configuration onto scheduler settings.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:   cfg.Scheduler.RunInterval,
		BatchSize:     cfg.Scheduler.BatchSize,
		Workers:       cfg.Scheduler.Workers,
		LeaseDuration: cfg.Scheduler.LeaseDuration,
		EnabledJobs:   cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}
