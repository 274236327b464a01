package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/cadence/internal/ir"
)

// DefaultPollInterval is the idle sleep between two loop iterations.
const DefaultPollInterval = 50 * time.Millisecond

// Runner drives exactly one Unit in its own loop.
//
// Thread-safety model:
//   - Run(): at most one active call; a second concurrent call fails with
//     ErrAlreadyRunning
//   - Stop(): safe from any goroutine, any number of times, before or
//     during Run
//   - Running()/Ticks(): safe from any goroutine
//
// INVARIANTS:
//   - ticks of the unit are strictly sequential
//   - the unit is only ticked when its Gate says it is due
//   - a failed tick never ends the loop
type Runner struct {
	name  string
	unit  Unit
	gate  *Gate
	clock Clock
	poll  time.Duration

	sink    func([]ir.Event)
	onError func(error)

	mu       sync.Mutex
	running  bool
	stopping bool
	done     chan struct{} // closed when the active Run returns
	wake     chan struct{} // interrupts the idle sleep on Stop

	ticks atomic.Uint64
}

// RunnerOption allows configuration of runner parameters.
type RunnerOption func(*Runner)

// WithPollInterval sets the idle sleep between loop iterations.
//
// Default: 50ms (DefaultPollInterval). This is the scheduling granularity;
// a unit with a shorter MinInterval is still ticked at most once per poll.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithEventSink sets the function that receives each tick's events.
// It is called on the runner's goroutine, after the tick returns.
func WithEventSink(sink func([]ir.Event)) RunnerOption {
	return func(r *Runner) {
		r.sink = sink
	}
}

// WithErrorHandler sets the function that receives failed ticks.
// Errors are always logged; the handler is for callers that also count or
// surface them.
func WithErrorHandler(fn func(error)) RunnerOption {
	return func(r *Runner) {
		r.onError = fn
	}
}

// NewRunner creates a runner for unit. name identifies the runner in logs.
func NewRunner(name string, unit Unit, clock Clock, opts ...RunnerOption) *Runner {
	r := &Runner{
		name:  name,
		unit:  unit,
		gate:  NewGate(unit.MinInterval()),
		clock: clock,
		poll:  DefaultPollInterval,
		wake:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the runner's name.
func (r *Runner) Name() string {
	return r.name
}

// Run loops until Stop is requested or ctx is cancelled.
//
// Each iteration reads the clock, ticks the unit if its gate is due, hands
// any events to the sink and then sleeps one poll interval. Returns nil
// after a requested stop, ctx.Err() after cancellation, and
// ErrAlreadyRunning without side effects if another Run is active.
//
// After Run returns the runner can be started again.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	done := make(chan struct{})
	r.done = done
	select {
	case <-r.wake:
	default:
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.stopping = false
		r.done = nil
		r.mu.Unlock()
		close(done)
	}()

	slog.Debug("runner starting", "unit", r.name, "poll", r.poll, "interval", r.gate.Interval())

	timer := time.NewTimer(r.poll)
	defer timer.Stop()

	for {
		if r.stopRequested() {
			slog.Debug("runner stopping: stop requested", "unit", r.name, "ticks", r.ticks.Load())
			return nil
		}
		if err := ctx.Err(); err != nil {
			slog.Debug("runner stopping: context cancelled", "unit", r.name)
			return err
		}

		now := r.clock.Now()
		if r.gate.Fire(now) {
			r.tick(ctx, now)
		}

		timer.Reset(r.poll)
		select {
		case <-ctx.Done():
			slog.Debug("runner stopping: context cancelled", "unit", r.name)
			return ctx.Err()
		case <-r.wake:
		case <-timer.C:
		}
	}
}

// tick runs one unit tick, converting failures and panics into
// RuntimeErrors that are logged and handed to the error handler.
func (r *Runner) tick(ctx context.Context, now time.Time) {
	n := r.ticks.Add(1)

	events, err := r.safeTick(ctx, now, n)
	if err != nil {
		slog.Warn("tick failed",
			"unit", r.name,
			"tick", n,
			"error", err,
		)
		if r.onError != nil {
			r.onError(err)
		}
	}

	// Events produced before a failure are still delivered.
	if len(events) > 0 && r.sink != nil {
		r.sink(events)
	}
}

func (r *Runner) safeTick(ctx context.Context, now time.Time, n uint64) (events []ir.Event, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &RuntimeError{
				Code: ErrCodeTickPanicked,
				Unit: r.name,
				Tick: n,
				Err:  fmt.Errorf("panic: %v", p),
			}
		}
	}()

	events, err = r.unit.Tick(ctx, now)
	if err != nil {
		err = &RuntimeError{Code: ErrCodeTickFailed, Unit: r.name, Tick: n, Err: err}
	}
	return events, err
}

// Stop requests the loop to exit at its next boundary.
//
// Stop never interrupts an in-flight tick. The returned channel closes once
// the active Run has returned; if no Run is active the channel is already
// closed and the flag stays armed, so the next Run exits at its first check.
func (r *Runner) Stop() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopping = true
	select {
	case r.wake <- struct{}{}:
	default:
	}

	if r.done != nil {
		return r.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// StopAndWait requests a stop and blocks until the loop has returned or
// ctx is done.
func (r *Runner) StopAndWait(ctx context.Context) error {
	select {
	case <-r.Stop():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop runner %s: %w", r.name, ctx.Err())
	}
}

func (r *Runner) stopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

// Running reports whether a Run loop is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Ticks returns how many ticks the unit has received.
// Useful for monitoring and testing.
func (r *Runner) Ticks() uint64 {
	return r.ticks.Load()
}
