// Package callback binds short-lived interactive tokens to actions.
//
// A Registry owns a table of keyed actions with optional expiry. Keys are
// handed to users (embedded in buttons, links, messages); when a user comes
// back with a key, Invoke runs the bound action. The registry is also an
// engine.Unit: its Tick sweeps expired entries.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/ir"
)

// Defaults for a new Registry.
const (
	DefaultSweepInterval    = 100 * time.Millisecond
	DefaultRetiredRetention = 24 * time.Hour
	DefaultMaxKeyAttempts   = 8
)

// Action is the work bound to a callback key.
type Action func(ctx context.Context) error

// AddOptions configures a new entry. The zero value is a non-expiring,
// reusable, unlabelled entry.
type AddOptions struct {
	// TTL makes the entry expire at now+TTL. Zero means never.
	TTL time.Duration

	// SingleShot removes the entry on its first invocation, whatever the
	// outcome.
	SingleShot bool

	// Label names the entry in logs and in ActionError.
	Label string
}

// Entry describes a registered callback.
type Entry struct {
	Key        string
	Label      string
	CreatedAt  time.Time
	ValidUntil time.Time // zero means never
	SingleShot bool

	action Action
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ValidUntil.IsZero() && !now.Before(e.ValidUntil)
}

// Registry is a keyed table of pending actions.
//
// INVARIANTS:
//   - a key, once removed, is never handed out again while it is retired
//   - an entry is expired at now >= ValidUntil; Invoke never runs an
//     expired action, even before the sweep has removed it
//   - a single-shot entry runs at most once
//
// Thread-safety: one mutex covers Add, Invoke, Remove and the sweep.
// Actions run outside the lock, so an action may call back into the
// registry.
type Registry struct {
	name        string
	clock       engine.Clock
	keys        KeySource
	sweep       time.Duration
	retention   time.Duration
	maxAttempts int

	mu      sync.Mutex
	entries map[string]*Entry
	retired map[string]time.Time // key -> removal time
}

// Option configures a Registry.
type Option func(*Registry)

// WithName sets the name used in logs (usually the entity id).
func WithName(name string) Option {
	return func(r *Registry) {
		r.name = name
	}
}

// WithKeySource replaces the random key source. Tests use it to force
// collisions.
func WithKeySource(src KeySource) Option {
	return func(r *Registry) {
		if src != nil {
			r.keys = src
		}
	}
}

// WithSweepInterval sets the minimum spacing between expiry sweeps.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sweep = d
		}
	}
}

// WithRetiredRetention sets how long removed keys stay blocked from reuse.
func WithRetiredRetention(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithMaxKeyAttempts bounds the number of key draws per Add.
func WithMaxKeyAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// New creates an empty registry reading time from clock.
func New(clock engine.Clock, opts ...Option) *Registry {
	r := &Registry{
		clock:       clock,
		keys:        UUIDKeySource{},
		sweep:       DefaultSweepInterval,
		retention:   DefaultRetiredRetention,
		maxAttempts: DefaultMaxKeyAttempts,
		entries:     make(map[string]*Entry),
		retired:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ engine.Unit = (*Registry)(nil)

// Add registers action and returns its freshly drawn key.
//
// The key is never one that is live or recently removed. Returns
// ErrKeySpaceExhausted if no such key was drawn within the attempt bound.
func (r *Registry) Add(action Action, opts AddOptions) (string, error) {
	if action == nil {
		return "", errors.New("callback: nil action")
	}
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		key := r.keys.Draw() + r.keys.Draw()
		if r.takenLocked(key) {
			slog.Debug("callback key collision, re-drawing",
				"registry", r.name,
				"attempt", attempt,
			)
			continue
		}

		entry := &Entry{
			Key:        key,
			Label:      opts.Label,
			CreatedAt:  now,
			SingleShot: opts.SingleShot,
			action:     action,
		}
		if opts.TTL > 0 {
			entry.ValidUntil = now.Add(opts.TTL)
		}
		r.entries[key] = entry
		return key, nil
	}

	slog.Error("callback key space exhausted",
		"registry", r.name,
		"attempts", r.maxAttempts,
		"label", opts.Label,
	)
	return "", fmt.Errorf("%w after %d attempts", ErrKeySpaceExhausted, r.maxAttempts)
}

func (r *Registry) takenLocked(key string) bool {
	if key == "" {
		return true
	}
	if _, ok := r.entries[key]; ok {
		return true
	}
	_, ok := r.retired[key]
	return ok
}

// Invoke runs the action bound to key.
//
// Returns an error wrapping ErrNotFound if the key is unknown or expired,
// and an *ActionError if the action failed or panicked (the entry is removed
// in that case). A single-shot entry is claimed before its action runs, so
// concurrent invokes of the same key succeed at most once.
func (r *Registry) Invoke(ctx context.Context, key string) error {
	now := r.clock.Now()

	r.mu.Lock()
	entry, ok := r.entries[key]
	if ok && entry.expired(now) {
		r.removeLocked(key, now)
		ok = false
	}
	if !ok {
		r.mu.Unlock()
		slog.Info("stale callback", "registry", r.name, "key", key)
		return fmt.Errorf("callback %s: %w", key, ErrNotFound)
	}
	if entry.SingleShot {
		r.removeLocked(key, now)
	}
	r.mu.Unlock()

	if err := runAction(ctx, entry.action); err != nil {
		r.Remove(key)
		slog.Warn("callback action failed",
			"registry", r.name,
			"key", key,
			"label", entry.Label,
			"error", err,
		)
		return &ActionError{Key: key, Label: entry.Label, Err: err}
	}
	return nil
}

func runAction(ctx context.Context, action Action) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return action(ctx)
}

// Remove deletes the entry for key. Returns false if there was none.
func (r *Registry) Remove(key string) bool {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; !ok {
		return false
	}
	r.removeLocked(key, now)
	return true
}

func (r *Registry) removeLocked(key string, now time.Time) {
	delete(r.entries, key)
	r.retired[key] = now
}

// MinInterval returns the sweep interval.
func (r *Registry) MinInterval() time.Duration {
	return r.sweep
}

// Tick sweeps expired entries and forgets retired keys older than the
// retention window. It never emits events.
func (r *Registry) Tick(_ context.Context, now time.Time) ([]ir.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	swept := 0
	for key, entry := range r.entries {
		if entry.expired(now) {
			r.removeLocked(key, now)
			swept++
		}
	}
	for key, at := range r.retired {
		if now.Sub(at) >= r.retention {
			delete(r.retired, key)
		}
	}

	if swept > 0 {
		slog.Debug("swept expired callbacks", "registry", r.name, "count", swept)
	}
	return nil, nil
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns the live keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Lookup returns a copy of the entry for key.
func (r *Registry) Lookup(key string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return Entry{}, false
	}
	out := *entry
	out.action = nil
	return out, true
}

// Retired returns how many removed keys are still blocked from reuse.
func (r *Registry) Retired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.retired)
}
