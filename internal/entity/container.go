package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/cadence/internal/callback"
	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/snapshot"
	"github.com/roach88/cadence/internal/tracker"
)

// slot is one sub-unit of a container with its own schedule.
type slot struct {
	name string
	unit engine.Unit
	gate *engine.Gate // touched only from Container.Tick
}

// Container holds everything one entity owns.
//
// Thread-safety model:
//   - Tick: called only by the container's runner, never concurrently
//   - Attach, SetAttr, Attrs, record: safe from any goroutine
//   - the registry and tracker guard their own state
//
// INVARIANTS:
//   - sub-units tick in order registry, tracker, agents (attach order)
//   - no sub-unit ticks before its own MinInterval has elapsed
//   - events left undrained from the previous tick are expired before the
//     next tick publishes
type Container struct {
	id        string
	createdAt time.Time
	interval  time.Duration

	registry *callback.Registry
	tracker  *tracker.Tracker
	outbox   *engine.Outbox

	mu     sync.Mutex
	attrs  ir.IRObject
	agents []*slot
	fixed  [2]*slot
}

func newContainer(id string, createdAt time.Time, reg *callback.Registry, tr *tracker.Tracker) *Container {
	c := &Container{
		id:        id,
		createdAt: createdAt,
		registry:  reg,
		tracker:   tr,
		outbox:    engine.NewOutbox(id),
		attrs:     ir.IRObject{},
	}
	c.fixed = [2]*slot{
		{name: "registry", unit: reg, gate: engine.NewGate(reg.MinInterval())},
		{name: "tracker", unit: tr, gate: engine.NewGate(tr.MinInterval())},
	}
	c.interval = min(reg.MinInterval(), tr.MinInterval())
	return c
}

var _ engine.Unit = (*Container)(nil)

// ID returns the entity id.
func (c *Container) ID() string {
	return c.id
}

// MinInterval is the shortest interval of the registry and tracker.
// Agents with a shorter interval are ticked at this pace.
func (c *Container) MinInterval() time.Duration {
	return c.interval
}

// Tick runs every due sub-unit in order and publishes their events.
//
// A failing or panicking sub-unit does not prevent the ones after it from
// running; all failures are joined into the returned error.
func (c *Container) Tick(ctx context.Context, now time.Time) ([]ir.Event, error) {
	c.outbox.Expire()

	c.mu.Lock()
	slots := make([]*slot, 0, len(c.fixed)+len(c.agents))
	slots = append(slots, c.fixed[:]...)
	slots = append(slots, c.agents...)
	c.mu.Unlock()

	var events []ir.Event
	var errs []error
	for _, s := range slots {
		if !s.gate.Fire(now) {
			continue
		}
		evs, err := tickSlot(ctx, s, now)
		events = append(events, evs...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}

	if err := c.outbox.Publish(events); err != nil {
		errs = append(errs, err)
	}
	return events, errors.Join(errs...)
}

func tickSlot(ctx context.Context, s *slot, now time.Time) (events []ir.Event, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return s.unit.Tick(ctx, now)
}

// attach adds an agent after the existing ones.
func (c *Container) attach(name string, agent engine.Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("agent-%d", len(c.agents))
	}
	c.agents = append(c.agents, &slot{
		name: name,
		unit: agent,
		gate: engine.NewGate(agent.MinInterval()),
	})
}

func (c *Container) setAttr(key string, v ir.IRValue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v == nil {
		delete(c.attrs, key)
		return
	}
	c.attrs[key] = v
}

func (c *Container) attrsCopy() ir.IRObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attrs.Clone()
}

func (c *Container) created() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createdAt
}

// record captures the durable state of the container.
func (c *Container) record() snapshot.EntityRecord {
	durable := c.tracker.Durable()
	reminders := make(map[string]int64, len(durable.Reminders))
	for name, at := range durable.Reminders {
		reminders[name] = at.UnixMilli()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot.EntityRecord{
		ID:        c.id,
		CreatedAt: c.createdAt.UnixMilli(),
		Attrs:     c.attrs.Clone(),
		Tracker:   snapshot.TrackerRecord{Reminders: reminders},
	}
}

// restore loads durable state from rec. The tracker's transient debounce
// state is not part of a snapshot and starts out Idle.
func (c *Container) restore(rec snapshot.EntityRecord) {
	reminders := make(map[string]time.Time, len(rec.Tracker.Reminders))
	for name, ms := range rec.Tracker.Reminders {
		reminders[name] = time.UnixMilli(ms).UTC()
	}
	c.tracker.RestoreDurable(tracker.Durable{Reminders: reminders})

	c.mu.Lock()
	c.createdAt = time.UnixMilli(rec.CreatedAt).UTC()
	c.attrs = rec.Attrs.Clone()
	if c.attrs == nil {
		c.attrs = ir.IRObject{}
	}
	c.mu.Unlock()
}
