package tracker

import (
	"errors"
	"fmt"
	"time"
)

// CalendarRule schedules a reminder at a wall-clock minute.
type CalendarRule struct {
	Name string

	// DayOfMonth is 1-31, or 0 for every day.
	DayOfMonth int

	Hour   int
	Minute int
}

// Matches reports whether t (already in the rule's location) falls in the
// rule's minute.
func (r CalendarRule) Matches(t time.Time) bool {
	if r.DayOfMonth != 0 && t.Day() != r.DayOfMonth {
		return false
	}
	return t.Hour() == r.Hour && t.Minute() == r.Minute
}

// Validate checks field ranges.
func (r CalendarRule) Validate() error {
	switch {
	case r.Name == "":
		return errors.New("reminder rule has no name")
	case r.DayOfMonth < 0 || r.DayOfMonth > 31:
		return fmt.Errorf("reminder %q: day_of_month %d out of range 0-31", r.Name, r.DayOfMonth)
	case r.Hour < 0 || r.Hour > 23:
		return fmt.Errorf("reminder %q: hour %d out of range 0-23", r.Name, r.Hour)
	case r.Minute < 0 || r.Minute > 59:
		return fmt.Errorf("reminder %q: minute %d out of range 0-59", r.Name, r.Minute)
	}
	return nil
}

// Config holds the tracker's timing policy.
type Config struct {
	// Interval is the tracker's tick spacing (its MinInterval).
	Interval time.Duration

	// FetchInterval is the minimum spacing between two fetches.
	FetchInterval time.Duration

	// QuietPeriod is how long a burst must stay pending before it flushes.
	QuietPeriod time.Duration

	// ReminderCooldown is the minimum spacing between two firings of the
	// same reminder rule.
	ReminderCooldown time.Duration

	// StartupFreeze suppresses all reminders for this long after start.
	StartupFreeze time.Duration

	Rules []CalendarRule

	// Location is the zone rules are evaluated in. Nil means UTC.
	Location *time.Location
}

// DefaultConfig returns the stock policy with no reminder rules.
func DefaultConfig() Config {
	return Config{
		Interval:         time.Second,
		FetchInterval:    5 * time.Second,
		QuietPeriod:      10 * time.Second,
		ReminderCooldown: time.Hour,
		StartupFreeze:    2 * time.Minute,
		Location:         time.UTC,
	}
}

// Validate performs the coarse consistency checks.
func (c Config) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"interval", c.Interval},
		{"fetch_interval", c.FetchInterval},
		{"quiet_period", c.QuietPeriod},
		{"reminder_cooldown", c.ReminderCooldown},
	}
	for _, f := range durations {
		if f.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", f.name, f.d)
		}
	}
	if c.StartupFreeze < 0 {
		return fmt.Errorf("startup_freeze must not be negative, got %s", c.StartupFreeze)
	}
	if c.FetchInterval >= c.QuietPeriod {
		return fmt.Errorf("fetch_interval (%s) must be shorter than quiet_period (%s)", c.FetchInterval, c.QuietPeriod)
	}
	if c.Interval > c.FetchInterval {
		return fmt.Errorf("interval (%s) must not exceed fetch_interval (%s)", c.Interval, c.FetchInterval)
	}

	seen := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate reminder rule %q", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
