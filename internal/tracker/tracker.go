// Package tracker turns periodically fetched resource snapshots into
// debounced change events, and layers calendar reminders on the same tick.
//
// Debounce state machine:
//
//	Idle    --first fetch-->              Synced   (no event)
//	Synced  --non-empty diff-->           Pending  (baseline stashed)
//	Pending --non-empty diff-->           Pending  (last accepted updated)
//	Pending --quiet period, net diff-->   Synced   (one ChangeEvent)
//	Pending --quiet period, no net diff-> Synced   (nothing)
//
// A burst of edits therefore produces one event carrying the diff between
// the snapshot before the burst and the last snapshot within it.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/ir"
)

// State is the tracker's debounce state.
type State int

const (
	// Idle means nothing has been fetched yet.
	Idle State = iota
	// Synced means a baseline exists and nothing is pending.
	Synced
	// Pending means a burst is in progress and waiting for its quiet period.
	Pending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Synced:
		return "synced"
	case Pending:
		return "pending"
	default:
		return "unknown"
	}
}

// Tracker watches one entity's external resource.
//
// INVARIANTS:
//   - pendingSince is set iff stashed is set
//   - an empty diff against lastAccepted never touches pendingSince
//   - at most one ChangeEvent per burst
//
// Thread-safety: Tick is called by the owning container only, never
// concurrently with itself. The fetch runs without holding mu; readers
// (State, Durable, LastAccepted) may be called from any goroutine.
type Tracker struct {
	entityID string
	source   DataSource
	cfg      Config
	loc      *time.Location

	// fetchGate is touched only from Tick.
	fetchGate *engine.Gate
	failures  atomic.Uint64

	mu           sync.Mutex
	started      time.Time
	lastAccepted ir.IRObject
	pendingSince time.Time
	stashed      ir.IRObject
	reminders    map[string]time.Time // rule name -> last fired
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStartTime sets the instant the startup freeze counts from. Without it
// the first tick's time is used.
func WithStartTime(t time.Time) Option {
	return func(tr *Tracker) {
		tr.started = t
	}
}

// New creates an Idle tracker for entityID. cfg should already be
// validated.
func New(entityID string, source DataSource, cfg Config, opts ...Option) *Tracker {
	t := &Tracker{
		entityID:  entityID,
		source:    source,
		cfg:       cfg,
		loc:       cfg.location(),
		fetchGate: engine.NewGate(cfg.FetchInterval),
		reminders: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ engine.Unit = (*Tracker)(nil)

// MinInterval returns the configured tick interval.
func (t *Tracker) MinInterval() time.Duration {
	return t.cfg.Interval
}

// Tick fetches when the fetch interval allows, advances the debounce state
// machine, flushes a burst whose quiet period has elapsed and evaluates the
// reminder rules.
//
// A failed fetch is logged (rate limited) and leaves the state untouched;
// it never fails the tick. Flush and reminders still run, since neither
// depends on the fetch.
func (t *Tracker) Tick(ctx context.Context, now time.Time) ([]ir.Event, error) {
	t.mu.Lock()
	if t.started.IsZero() {
		t.started = now
	}
	t.mu.Unlock()

	if t.fetchGate.Fire(now) {
		snap, err := t.source.Fetch(ctx, t.entityID)
		if err != nil {
			n := t.failures.Add(1)
			logFetchFailure(t.entityID, n, err)
		} else {
			t.mu.Lock()
			t.acceptLocked(snap, now)
			t.mu.Unlock()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var events []ir.Event
	if ev, ok := t.flushLocked(now); ok {
		events = append(events, ev)
	}
	events = append(events, t.remindersLocked(now)...)
	return events, nil
}

func (t *Tracker) acceptLocked(snap ir.IRObject, now time.Time) {
	if snap == nil {
		snap = ir.IRObject{}
	}
	if t.lastAccepted == nil {
		t.lastAccepted = snap.Clone()
		slog.Debug("tracker synced", "entity", t.entityID)
		return
	}

	changes := ir.Diff(t.lastAccepted, snap)
	if changes.Empty() {
		return
	}
	if t.stashed == nil {
		t.stashed = t.lastAccepted
		t.pendingSince = now
		slog.Debug("change detected, debouncing",
			"entity", t.entityID,
			"paths", changes.Paths(),
			"quiet_period", t.cfg.QuietPeriod,
		)
	}
	t.lastAccepted = snap.Clone()
}

func (t *Tracker) flushLocked(now time.Time) (ir.Event, bool) {
	if t.stashed == nil || now.Sub(t.pendingSince) < t.cfg.QuietPeriod {
		return nil, false
	}

	changes := ir.Diff(t.stashed, t.lastAccepted)
	detected := t.pendingSince
	t.stashed = nil
	t.pendingSince = time.Time{}

	if changes.Empty() {
		slog.Debug("burst cancelled out", "entity", t.entityID)
		return nil, false
	}
	slog.Debug("flushing change",
		"entity", t.entityID,
		"paths", changes.Paths(),
		"pending_for", now.Sub(detected),
	)
	return ir.ChangeEvent{
		EntityID:   t.entityID,
		Changes:    changes,
		DetectedAt: detected,
		FlushedAt:  now,
	}, true
}

// State reports the debounce state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.lastAccepted == nil:
		return Idle
	case t.stashed != nil:
		return Pending
	default:
		return Synced
	}
}

// PendingSince returns when the current burst was first detected, or the
// zero time when nothing is pending.
func (t *Tracker) PendingSince() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingSince
}

// LastAccepted returns a copy of the most recently accepted snapshot, or nil
// while Idle.
func (t *Tracker) LastAccepted() ir.IRObject {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastAccepted.Clone()
}

// FetchFailures returns how many fetches have failed.
func (t *Tracker) FetchFailures() uint64 {
	return t.failures.Load()
}
