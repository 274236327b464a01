package engine

import (
	"context"
	"iter"
	"log/slog"
	"sync"

	"github.com/roach88/cadence/internal/ir"
)

// Outbox hands one entity's events to business logic.
//
// The outbox holds only the events of the most recent tick. Expire, called
// at the start of every tick, discards whatever the consumer did not drain
// in time; those events are counted but never re-delivered. Consumers must
// therefore drain fully between ticks.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the consumer (prevents goroutine hangs on context cancellation).
//
// Thread-safety: Publish/Expire come from the runner's goroutine, the
// consumer iterates from its own; all state is guarded by mu.
type Outbox struct {
	name    string
	mu      sync.Mutex
	events  []ir.Event
	closed  bool
	claimed bool
	dropped uint64
	signal  chan struct{} // buffered, size 1
}

// NewOutbox creates an empty outbox. name identifies it in logs.
func NewOutbox(name string) *Outbox {
	return &Outbox{
		name:   name,
		signal: make(chan struct{}, 1),
	}
}

// Publish appends a tick's events and wakes the consumer.
// Returns ErrOutboxClosed once Close has been called.
func (o *Outbox) Publish(batch []ir.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrOutboxClosed
	}
	if len(batch) == 0 {
		return nil
	}
	o.events = append(o.events, batch...)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case o.signal <- struct{}{}:
	default:
	}
	return nil
}

// Expire drops undrained events from the previous tick.
// Returns how many were dropped.
func (o *Outbox) Expire() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := len(o.events)
	if n == 0 {
		return 0
	}
	o.dropped += uint64(n)
	clear(o.events)
	o.events = o.events[:0]

	slog.Debug("dropped undrained events", "entity", o.name, "count", n)
	return n
}

// TryNext removes and returns the oldest pending event without blocking.
func (o *Outbox) TryNext() (ir.Event, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.events) == 0 {
		return nil, false
	}
	ev := o.events[0]
	o.events[0] = nil // release for GC
	if len(o.events) == 1 {
		o.events = o.events[:0]
	} else {
		o.events = o.events[1:]
	}
	return ev, true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed by Close.
func (o *Outbox) Wait() <-chan struct{} {
	return o.signal
}

// Seq returns the outbox's event stream.
//
// The sequence is infinite: it blocks for new events and only ends when ctx
// is done, the outbox is closed and empty, or the consumer stops iterating.
// It is not restartable; the outbox has a single consumer, and any later
// call to Seq yields nothing.
func (o *Outbox) Seq(ctx context.Context) iter.Seq[ir.Event] {
	o.mu.Lock()
	first := !o.claimed
	o.claimed = true
	o.mu.Unlock()

	return func(yield func(ir.Event) bool) {
		if !first {
			return
		}
		for {
			if ev, ok := o.TryNext(); ok {
				if !yield(ev) {
					return
				}
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-o.signal:
				if o.Closed() && o.Len() == 0 {
					return
				}
			}
		}
	}
}

// Len returns the number of undrained events.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.events)
}

// Dropped returns how many events expired undrained.
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Closed reports whether Close has been called.
func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Close ends the stream. Pending events can still be drained.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	close(o.signal)
}
