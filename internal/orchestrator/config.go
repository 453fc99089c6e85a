package orchestrator

import (
	"time"

	"github.com/smallbiznis/procura/internal/config"
)

// Config controls the loop interval, batch sizes and worker fan-out.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	Workers     int
	BatchSize   int
	JobTimeout  time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: 5 * time.Second,
		Workers:     4,
		BatchSize:   50,
		JobTimeout:  2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Orchestrator.Enabled,
		RunInterval: cfg.Orchestrator.PollInterval,
		Workers:     cfg.Orchestrator.Workers,
		BatchSize:   cfg.Orchestrator.BatchSize,
		JobTimeout:  cfg.Orchestrator.JobTimeout,
	}
}
