package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/callback"
	"github.com/roach88/cadence/internal/tracker"
)

// DefaultPollInterval is how often a runner reads the clock.
const DefaultPollInterval = 50 * time.Millisecond

// Config holds the timing of every container in a population.
type Config struct {
	// PollInterval is the runner's idle sleep between loop iterations.
	PollInterval time.Duration

	// SweepInterval is the callback registry's tick interval.
	SweepInterval time.Duration

	// Tracker configures each entity's change tracker.
	Tracker tracker.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:  DefaultPollInterval,
		SweepInterval: callback.DefaultSweepInterval,
		Tracker:       tracker.DefaultConfig(),
	}
}

// Validate checks the config for values no population can run with.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep_interval must be positive")
	}
	if err := c.Tracker.Validate(); err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	return nil
}
