package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time for FakeClock: a fixed instant so traces
// and golden files never depend on when the tests ran.
var Epoch = time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC)

// FakeClock is a manually advanced clock for tests.
//
// It satisfies engine.Clock. Time only moves when the test calls Advance or
// Set, so debounce windows and callback expiry can be crossed exactly.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock reading start. A zero start means Epoch.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
// Negative durations are ignored: the clock is monotonic.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Set moves the clock to t if t is not before the current time.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}
