package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/callback"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/snapshot"
	"github.com/roach88/cadence/internal/testutil"
	"github.com/roach88/cadence/internal/tracker"
)

func newTestContainer(t *testing.T, src tracker.DataSource, cfg tracker.Config) *Container {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	reg := callback.New(clock, callback.WithName("u1"), callback.WithSweepInterval(time.Second))
	return newContainer("u1", clock.Now(), reg, tracker.New("u1", src, cfg))
}

func trackerConfig() tracker.Config {
	return testConfig().Tracker
}

func TestContainer_MinInterval(t *testing.T) {
	cfg := trackerConfig()
	cfg.Interval = 500 * time.Millisecond
	c := newTestContainer(t, newMapSource(), cfg)

	assert.Equal(t, 500*time.Millisecond, c.MinInterval())
}

func TestContainer_TickOrder(t *testing.T) {
	src := newMapSource()
	src.set("u1", ir.IRObject{"n": ir.IRInt(1)})
	c := newTestContainer(t, src, trackerConfig())

	var order []string
	for _, name := range []string{"first", "second"} {
		c.attach(name, &agent{
			interval: time.Second,
			tick: func(now time.Time) ([]ir.Event, error) {
				order = append(order, name)
				return []ir.Event{ir.ReminderEvent{EntityID: "u1", Rule: name, Due: now}}, nil
			},
		})
	}

	t0 := testutil.Epoch
	_, err := c.Tick(context.Background(), t0)
	require.NoError(t, err)

	// Open a burst, then let it flush; the tracker's change must come
	// before the agents' events.
	src.set("u1", ir.IRObject{"n": ir.IRInt(2)})
	_, err = c.Tick(context.Background(), t0.Add(time.Second))
	require.NoError(t, err)

	events, err := c.Tick(context.Background(), t0.Add(4*time.Second))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, ir.KindChange, events[0].Kind())
	assert.Equal(t, "first", events[1].(ir.ReminderEvent).Rule)
	assert.Equal(t, "second", events[2].(ir.ReminderEvent).Rule)
	assert.Equal(t, []string{"first", "second", "first", "second", "first", "second"}, order)
}

func TestContainer_FailuresDoNotStopLaterUnits(t *testing.T) {
	c := newTestContainer(t, newMapSource(), trackerConfig())

	boom := errors.New("boom")
	c.attach("failing", &agent{interval: time.Second, tick: func(time.Time) ([]ir.Event, error) {
		return nil, boom
	}})
	c.attach("panicking", &agent{interval: time.Second, tick: func(time.Time) ([]ir.Event, error) {
		panic("kaboom")
	}})
	last := &agent{interval: time.Second}
	c.attach("last", last)

	_, err := c.Tick(context.Background(), testutil.Epoch)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing: boom")
	assert.Contains(t, err.Error(), "panicking: panic: kaboom")
	assert.Len(t, last.ticks(), 1)
}

func TestContainer_SubUnitGates(t *testing.T) {
	c := newTestContainer(t, newMapSource(), trackerConfig())
	slow := &agent{interval: 5 * time.Second}
	c.attach("", slow)

	t0 := testutil.Epoch
	for s := 0; s <= 10; s++ {
		_, _ = c.Tick(context.Background(), t0.Add(time.Duration(s)*time.Second))
	}

	assert.Equal(t, []time.Time{t0, t0.Add(5 * time.Second), t0.Add(10 * time.Second)}, slow.ticks())
}

func TestContainer_RegistrySweptOnTick(t *testing.T) {
	c := newTestContainer(t, newMapSource(), trackerConfig())
	_, err := c.registry.Add(func(context.Context) error { return nil }, callback.AddOptions{TTL: time.Second})
	require.NoError(t, err)

	_, _ = c.Tick(context.Background(), testutil.Epoch.Add(time.Second))
	assert.Equal(t, 0, c.registry.Len())
}

func TestContainer_ExpiresUndrainedEvents(t *testing.T) {
	c := newTestContainer(t, newMapSource(), trackerConfig())
	c.attach("emitter", &agent{interval: time.Second, tick: func(now time.Time) ([]ir.Event, error) {
		return []ir.Event{ir.ReminderEvent{EntityID: "u1", Rule: "r", Due: now}}, nil
	}})

	t0 := testutil.Epoch
	_, _ = c.Tick(context.Background(), t0)
	assert.Equal(t, 1, c.outbox.Len())

	_, _ = c.Tick(context.Background(), t0.Add(time.Second))
	assert.Equal(t, 1, c.outbox.Len(), "only the latest tick's events are held")
	assert.Equal(t, uint64(1), c.outbox.Dropped())

	ev, ok := c.outbox.TryNext()
	require.True(t, ok)
	assert.True(t, t0.Add(time.Second).Equal(ev.(ir.ReminderEvent).Due))
}

func TestContainer_RecordAndRestore(t *testing.T) {
	cfg := trackerConfig()
	cfg.Rules = []tracker.CalendarRule{{Name: "checkin", Hour: 8, Minute: 0}}

	src := newMapSource()
	src.set("u1", ir.IRObject{})
	c := newTestContainer(t, src, cfg)
	c.setAttr("role", ir.IRString("admin"))
	c.setAttr("gone", ir.IRBool(true))
	c.setAttr("gone", nil)

	events, err := c.Tick(context.Background(), testutil.Epoch)
	require.NoError(t, err)
	require.Len(t, events, 1, "08:00 reminder")

	rec := c.record()
	assert.Equal(t, snapshot.EntityRecord{
		ID:        "u1",
		CreatedAt: testutil.Epoch.UnixMilli(),
		Attrs:     ir.IRObject{"role": ir.IRString("admin")},
		Tracker:   snapshot.TrackerRecord{Reminders: map[string]int64{"checkin": testutil.Epoch.UnixMilli()}},
	}, rec)

	restored := newTestContainer(t, src, cfg)
	restored.restore(snapshot.EntityRecord{
		ID:        "u1",
		CreatedAt: 1000,
		Attrs:     rec.Attrs,
		Tracker:   rec.Tracker,
	})
	assert.True(t, time.UnixMilli(1000).Equal(restored.created()))
	assert.Equal(t, rec.Attrs, restored.attrsCopy())

	// The restored stamp keeps the same slot from firing twice.
	events, err = restored.Tick(context.Background(), testutil.Epoch.Add(30*time.Second))
	require.NoError(t, err)
	assert.Empty(t, events)

	// Restored attrs are not aliased.
	rec.Attrs["role"] = ir.IRString("member")
	assert.Equal(t, ir.IRString("admin"), restored.attrsCopy()["role"])
}
