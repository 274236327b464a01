package entity

import (
	"context"
	"iter"
	"time"

	"github.com/roach88/cadence/internal/callback"
	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/tracker"
)

// Handle is business logic's view of one entity. All methods are safe
// from any goroutine.
type Handle struct {
	c *Container
}

// ID returns the entity id.
func (h *Handle) ID() string {
	return h.c.id
}

// CreatedAt returns when the entity was first registered.
func (h *Handle) CreatedAt() time.Time {
	return h.c.created()
}

// AddCallback registers action under a fresh key and returns the key.
// A zero ttl never expires; a single-shot callback is removed by its
// first invocation.
func (h *Handle) AddCallback(action callback.Action, ttl time.Duration, singleShot bool, label string) (string, error) {
	return h.c.registry.Add(action, callback.AddOptions{
		TTL:        ttl,
		SingleShot: singleShot,
		Label:      label,
	})
}

// InvokeCallback runs the callback stored under key.
// Unknown or expired keys return an error matching callback.IsNotFound.
func (h *Handle) InvokeCallback(ctx context.Context, key string) error {
	return h.c.registry.Invoke(ctx, key)
}

// RemoveCallback drops key. Returns false if it was not live.
func (h *Handle) RemoveCallback(key string) bool {
	return h.c.registry.Remove(key)
}

// Callbacks returns the live callback keys, sorted.
func (h *Handle) Callbacks() []string {
	return h.c.registry.Keys()
}

// Events returns the entity's event stream. See engine.Outbox.Seq: the
// stream has a single consumer and events not drained before the next
// tick are lost. It ends when ctx is done or when Restore replaces the
// entity.
func (h *Handle) Events(ctx context.Context) iter.Seq[ir.Event] {
	return h.c.outbox.Seq(ctx)
}

// SetAttr sets a durable business attribute. A nil value deletes it.
func (h *Handle) SetAttr(key string, v ir.IRValue) {
	h.c.setAttr(key, v)
}

// Attrs returns a copy of the durable business attributes.
func (h *Handle) Attrs() ir.IRObject {
	return h.c.attrsCopy()
}

// Attach adds an agent ticked after the registry and the tracker.
// name labels its failures; empty picks one.
func (h *Handle) Attach(name string, agent engine.Unit) {
	h.c.attach(name, agent)
}

// TrackerState returns the debounce state of the entity's tracker.
func (h *Handle) TrackerState() tracker.State {
	return h.c.tracker.State()
}

// DroppedEvents returns how many events expired undrained.
func (h *Handle) DroppedEvents() uint64 {
	return h.c.outbox.Dropped()
}
