package config

import "time"

// Limits are the operational guardrails around the generator client and a
// single production run.
type Limits struct {
	MaxRequestsPerMinute int           `yaml:"max_requests_per_minute" validate:"required,min=1,max=1000"`
	BurstSize            int           `yaml:"burst_size" validate:"required,min=1,max=100"`
	MaxRetries           int           `yaml:"max_retries" validate:"min=0,max=10"`
	RunTimeout           time.Duration `yaml:"run_timeout" validate:"required,min=1m,max=6h"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxRequestsPerMinute: 30,
		BurstSize:            5,
		MaxRetries:           3,
		RunTimeout:           30 * time.Minute,
	}
}
