package engine

import "time"

// Clock is the tick source for the whole core.
//
// Implementations must be monotonically non-decreasing; the debounce and
// expiry logic downstream compares timestamps from successive calls.
//
// Thread-safety: implementations must be safe for concurrent use, since
// every runner reads the same clock from its own goroutine.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
//
// time.Now carries a monotonic reading, so comparisons between values it
// returns are immune to wall-clock steps.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}
