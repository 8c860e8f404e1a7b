// Package worker runs background coverage sweeps over the location catalog.
package worker

import "time"

// SweepConfig holds configuration for the coverage sweep.
type SweepConfig struct {
	// Concurrency is the number of locations queried at once.
	// Default: 4
	Concurrency int

	// Timeout bounds the query for a single location.
	// Default: 10 seconds
	Timeout time.Duration

	// Interval is how often the scheduler runs a sweep.
	// Default: 15 minutes
	Interval time.Duration
}

// DefaultSweepConfig returns the default sweep configuration.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Concurrency: 4,
		Timeout:     10 * time.Second,
		Interval:    15 * time.Minute,
	}
}

func (c SweepConfig) withDefaults() SweepConfig {
	def := DefaultSweepConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	return c
}
