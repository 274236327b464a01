package engine

import (
	"context"
	"time"

	"github.com/roach88/cadence/internal/ir"
)

// Unit is a schedulable unit of work.
//
// Tick is only invoked when the unit is due (see Gate) and never
// concurrently with itself. It may block on external I/O; the runner that
// owns the unit waits for it.
type Unit interface {
	// MinInterval is the minimum spacing between two ticks.
	MinInterval() time.Duration

	// Tick performs the unit's work at now and returns any events produced.
	// An error does not stop scheduling; the next due tick runs as usual.
	Tick(ctx context.Context, now time.Time) ([]ir.Event, error)
}

// Gate enforces a unit's minimum interval.
//
// INVARIANTS:
//   - Fire(now) succeeds only when now >= nextDue
//   - after a successful Fire, nextDue advances by interval from the
//     previous nextDue, not from now, so the schedule never drifts
//   - if the unit fell more than one interval behind, missed slots are
//     skipped in whole intervals instead of being replayed back to back
//
// A zero Gate value with a zero nextDue is due immediately.
//
// Thread-safety: none. A gate belongs to the goroutine that ticks its unit.
type Gate struct {
	interval time.Duration
	nextDue  time.Time
}

// NewGate creates a gate that is due immediately.
func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}

// Ready reports whether the gate would fire at now.
func (g *Gate) Ready(now time.Time) bool {
	return !now.Before(g.nextDue)
}

// Fire reports whether the unit may tick at now, advancing the schedule
// when it may.
func (g *Gate) Fire(now time.Time) bool {
	if !g.Ready(now) {
		return false
	}
	if g.interval <= 0 {
		g.nextDue = now
		return true
	}
	if g.nextDue.IsZero() {
		g.nextDue = now
	}
	next := g.nextDue.Add(g.interval)
	if !next.After(now) {
		missed := now.Sub(g.nextDue) / g.interval
		next = g.nextDue.Add((missed + 1) * g.interval)
	}
	g.nextDue = next
	return true
}

// NextDue returns the earliest time the gate fires again.
func (g *Gate) NextDue() time.Time {
	return g.nextDue
}

// Interval returns the gate's minimum spacing.
func (g *Gate) Interval() time.Duration {
	return g.interval
}

// Reset makes the gate due immediately.
func (g *Gate) Reset() {
	g.nextDue = time.Time{}
}
