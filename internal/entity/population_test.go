package entity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/callback"
	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/snapshot"
	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/testutil"
	"github.com/roach88/cadence/internal/tracker"
)

const (
	waitFor = 5 * time.Second
	pollFor = 5 * time.Millisecond
)

func newTestPopulation(t *testing.T, opts ...PopulationOption) (*Population, *testutil.FakeClock, *mapSource) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	src := newMapSource()
	p := NewPopulation(src, clock, testConfig(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p, clock, src
}

func stop(t *testing.T, p *Population) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}

func TestPopulation_Register(t *testing.T) {
	p, _, _ := newTestPopulation(t)

	a, err := p.Register("bob")
	require.NoError(t, err)
	_, err = p.Register("alice")
	require.NoError(t, err)
	again, err := p.Register("bob")
	require.NoError(t, err)

	assert.Same(t, a.c, again.c, "registration is idempotent")
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, []string{"alice", "bob"}, p.IDs())

	h, ok := p.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "alice", h.ID())
	assert.True(t, testutil.Epoch.Equal(h.CreatedAt()))

	_, ok = p.Lookup("carol")
	assert.False(t, ok)
}

func TestPopulation_RegisterInvalidID(t *testing.T) {
	p, _, _ := newTestPopulation(t)

	for _, id := range []string{"", "..", "a/b", "tab\there", string(make([]byte, 129))} {
		_, err := p.Register(id)
		assert.ErrorIs(t, err, ErrInvalidID, "id %q", id)
	}
	assert.Equal(t, 0, p.Len())
}

func TestPopulation_StartTwice(t *testing.T) {
	p, _, _ := newTestPopulation(t)

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), engine.ErrAlreadyRunning)
	assert.True(t, p.Running())

	stop(t, p)
	assert.False(t, p.Running())
	stop(t, p)
}

func TestPopulation_RunnersSweepCallbacks(t *testing.T) {
	p, clock, _ := newTestPopulation(t)
	early, err := p.Register("early")
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))

	late, err := p.Register("late")
	require.NoError(t, err)

	noop := func(context.Context) error { return nil }
	for _, h := range []*Handle{early, late} {
		_, err := h.AddCallback(noop, time.Second, false, "ping")
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return len(early.Callbacks()) == 0 && len(late.Callbacks()) == 0
	}, waitFor, pollFor, "both runners sweep, including the one registered late")

	stop(t, p)
}

func TestPopulation_EventsReachHandle(t *testing.T) {
	p, clock, src := newTestPopulation(t)
	src.set("u1", ir.IRObject{"tier": ir.IRString("free")})
	h, err := p.Register("u1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan ir.Event, 16)
	go func() {
		for ev := range h.Events(ctx) {
			got <- ev
		}
	}()

	require.NoError(t, p.Start(ctx))

	require.Eventually(t, func() bool {
		return h.TrackerState() == tracker.Synced
	}, waitFor, pollFor)

	src.set("u1", ir.IRObject{"tier": ir.IRString("paid")})

	var change ir.ChangeEvent
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		select {
		case ev := <-got:
			c, ok := ev.(ir.ChangeEvent)
			change = c
			return ok
		default:
			return false
		}
	}, waitFor, pollFor)

	assert.Equal(t, "u1", change.EntityID)
	assert.Equal(t, []string{"tier"}, change.Changes.Paths())

	stop(t, p)
}

func TestPopulation_EventSinkAndErrorHandler(t *testing.T) {
	var mu sync.Mutex
	var sunk []ir.Event
	var failures []error

	p, clock, _ := newTestPopulation(t,
		WithEventSink(func(evs []ir.Event) {
			mu.Lock()
			defer mu.Unlock()
			sunk = append(sunk, evs...)
		}),
		WithErrorHandler(func(err error) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, err)
		}),
	)
	h, err := p.Register("u1")
	require.NoError(t, err)
	h.Attach("flaky", &agent{interval: time.Second, tick: func(now time.Time) ([]ir.Event, error) {
		return []ir.Event{ir.ReminderEvent{EntityID: "u1", Rule: "agent", Due: now}}, assert.AnError
	}})

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		mu.Lock()
		defer mu.Unlock()
		return len(sunk) > 0 && len(failures) > 0
	}, waitFor, pollFor)
	stop(t, p)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, engine.IsTickError(failures[0]))
	assert.ErrorIs(t, failures[0], assert.AnError)
	assert.Equal(t, "agent", sunk[0].(ir.ReminderEvent).Rule)
}

func TestPopulation_StopBoundedByContext(t *testing.T) {
	p, _, _ := newTestPopulation(t)
	h, err := p.Register("u1")
	require.NoError(t, err)

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	h.Attach("blocking", &agent{interval: time.Second, tick: func(time.Time) ([]ir.Event, error) {
		once.Do(func() { close(entered) })
		<-release
		return nil, nil
	}})

	require.NoError(t, p.Start(context.Background()))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)

	close(release)
}

func TestPopulation_RestartAfterTimedOutStop(t *testing.T) {
	p, clock, src := newTestPopulation(t)
	src.set("slow", ir.IRObject{})
	src.set("healthy", ir.IRObject{})

	slow, err := p.Register("slow")
	require.NoError(t, err)
	healthy, err := p.Register("healthy")
	require.NoError(t, err)

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	slow.Attach("blocking", &agent{interval: time.Second, tick: func(time.Time) ([]ir.Event, error) {
		once.Do(func() { close(entered) })
		<-release
		return nil, nil
	}})
	counter := &agent{interval: time.Second}
	healthy.Attach("counter", counter)

	require.NoError(t, p.Start(context.Background()))
	<-entered
	require.Eventually(t, func() bool { return len(counter.ticks()) >= 1 }, waitFor, pollFor)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
	assert.False(t, p.Running())

	err = p.Start(context.Background())
	require.ErrorIs(t, err, ErrRunnersStopping)
	assert.Contains(t, err.Error(), "slow")
	assert.NotContains(t, err.Error(), "healthy")
	assert.False(t, p.Running())

	close(release)
	require.Eventually(t, func() bool {
		return p.Start(context.Background()) == nil
	}, waitFor, pollFor)
	assert.True(t, p.Running())

	before := len(counter.ticks())
	for range 20 {
		clock.Advance(time.Second)
		time.Sleep(2 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return len(counter.ticks()) > before }, waitFor, pollFor,
		"healthy entity keeps ticking after the restart")

	late, err := p.Register("late")
	require.NoError(t, err)
	lateCounter := &agent{interval: time.Second}
	late.Attach("counter", lateCounter)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return len(lateCounter.ticks()) > 0 }, waitFor, pollFor)
}

func TestPopulation_RunnerFailureIsIsolated(t *testing.T) {
	p, clock, _ := newTestPopulation(t)
	a, err := p.Register("a")
	require.NoError(t, err)
	b, err := p.Register("b")
	require.NoError(t, err)

	a.Attach("broken", &agent{interval: time.Second, tick: func(time.Time) ([]ir.Event, error) {
		panic("boom")
	}})
	counter := &agent{interval: time.Second}
	b.Attach("counter", counter)

	require.NoError(t, p.Start(context.Background()))
	for range 5 {
		clock.Advance(time.Second)
		time.Sleep(2 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return len(counter.ticks()) >= 3 }, waitFor, pollFor)
	assert.True(t, p.Running())
}

func TestPopulation_RestoreEndsEventStreams(t *testing.T) {
	p, _, _ := newTestPopulation(t, WithSnapshotStore(snapshot.NewStore(store.NewMemorySink())))
	h, err := p.Register("old")
	require.NoError(t, err)

	ended := make(chan struct{})
	go func() {
		for range h.Events(context.Background()) {
		}
		close(ended)
	}()

	_, _, err = p.Restore(context.Background(), []byte(`{"entities":[],"version":3}`))
	require.NoError(t, err)

	select {
	case <-ended:
	case <-time.After(waitFor):
		t.Fatal("event stream of a replaced entity did not end")
	}
}

func TestPopulation_SnapshotNow(t *testing.T) {
	t.Run("no store", func(t *testing.T) {
		p, _, _ := newTestPopulation(t)
		_, err := p.SnapshotNow(context.Background())
		assert.ErrorIs(t, err, ErrNoSnapshotStore)
	})

	t.Run("writes only changes", func(t *testing.T) {
		sink := store.NewMemorySink()
		p, _, _ := newTestPopulation(t, WithSnapshotStore(snapshot.NewStore(sink)))
		h, err := p.Register("u1")
		require.NoError(t, err)

		first, err := p.SnapshotNow(context.Background())
		require.NoError(t, err)
		second, err := p.SnapshotNow(context.Background())
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, sink.Writes())

		h.SetAttr("role", ir.IRString("admin"))
		third, err := p.SnapshotNow(context.Background())
		require.NoError(t, err)
		assert.NotEqual(t, first, third)
		assert.Equal(t, 2, sink.Writes())
	})

	t.Run("concurrent calls", func(t *testing.T) {
		sink := store.NewMemorySink()
		p, _, _ := newTestPopulation(t, WithSnapshotStore(snapshot.NewStore(sink)))
		_, err := p.Register("u1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		hashes := make([]string, 8)
		for i := range hashes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h, err := p.SnapshotNow(context.Background())
				assert.NoError(t, err)
				hashes[i] = h
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, sink.Writes())
		for _, h := range hashes {
			assert.Equal(t, hashes[0], h)
		}
	})
}

func TestPopulation_Restore(t *testing.T) {
	sink := store.NewMemorySink()
	src, clock, _ := newTestPopulation(t, WithSnapshotStore(snapshot.NewStore(sink)))
	for _, id := range []string{"alice", "bob"} {
		h, err := src.Register(id)
		require.NoError(t, err)
		h.SetAttr("role", ir.IRString(id+"-role"))
	}
	_, err := src.SnapshotNow(context.Background())
	require.NoError(t, err)
	data := sink.Records()[0].Content

	clock.Advance(time.Hour)
	fresh := store.NewMemorySink()
	dst, _, _ := newTestPopulation(t, WithSnapshotStore(snapshot.NewStore(fresh)))
	_, err = dst.Register("stale")
	require.NoError(t, err)

	n, warnings, err := dst.Restore(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, warnings)
	assert.Equal(t, []string{"alice", "bob"}, dst.IDs(), "restore replaces the population")

	bob, ok := dst.Lookup("bob")
	require.True(t, ok)
	assert.Equal(t, ir.IRObject{"role": ir.IRString("bob-role")}, bob.Attrs())
	assert.True(t, testutil.Epoch.Equal(bob.CreatedAt()))

	_, err = dst.SnapshotNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Writes(), "an unchanged restored population is not rewritten")
}

func TestPopulation_RestoreOldVersionWithBadEntities(t *testing.T) {
	p, _, _ := newTestPopulation(t, WithSnapshotStore(snapshot.NewStore(store.NewMemorySink())))

	data := []byte(`{"version":1,"entities":[
		{"id":"alice","created":10,"role":"admin"},
		{"id":"a/b","created":10},
		{"id":"","created":10}
	]}`)

	n, warnings, err := p.Restore(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, warnings, 2)
	assert.Equal(t, "a/b", warnings[0].EntityID)
	assert.Contains(t, warnings[0].Reason, "rejected")

	alice, ok := p.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, ir.IRObject{"role": ir.IRString("admin")}, alice.Attrs())
	assert.True(t, time.UnixMilli(10_000).Equal(alice.CreatedAt()))
}

func TestPopulation_RestoreErrors(t *testing.T) {
	t.Run("no store", func(t *testing.T) {
		p, _, _ := newTestPopulation(t)
		_, _, err := p.Restore(context.Background(), []byte(`{}`))
		assert.ErrorIs(t, err, ErrNoSnapshotStore)
	})

	t.Run("running", func(t *testing.T) {
		p, _, _ := newTestPopulation(t, WithSnapshotStore(snapshot.NewStore(store.NewMemorySink())))
		require.NoError(t, p.Start(context.Background()))
		_, _, err := p.Restore(context.Background(), []byte(`{"version":3,"entities":[]}`))
		assert.ErrorIs(t, err, ErrPopulationRunning)
		stop(t, p)
	})

	t.Run("corrupt keeps population", func(t *testing.T) {
		p, _, _ := newTestPopulation(t, WithSnapshotStore(snapshot.NewStore(store.NewMemorySink())))
		_, err := p.Register("keep")
		require.NoError(t, err)

		_, _, err = p.Restore(context.Background(), []byte(`not json`))
		assert.True(t, snapshot.IsCorrupt(err))
		assert.Equal(t, []string{"keep"}, p.IDs())
	})

	t.Run("empty sink", func(t *testing.T) {
		p, _, _ := newTestPopulation(t, WithSnapshotStore(snapshot.NewStore(store.NewMemorySink())))
		_, _, err := p.RestoreLatest(context.Background())
		assert.ErrorIs(t, err, snapshot.ErrNoSnapshot)
	})
}

func TestPopulation_RestoreLatest(t *testing.T) {
	sink := store.NewMemorySink()
	first, _, _ := newTestPopulation(t, WithSnapshotStore(snapshot.NewStore(sink)))
	_, err := first.Register("u1")
	require.NoError(t, err)
	_, err = first.SnapshotNow(context.Background())
	require.NoError(t, err)

	second, _, _ := newTestPopulation(t, WithSnapshotStore(snapshot.NewStore(sink)))
	n, _, err := second.RestoreLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"u1"}, second.IDs())
}

func TestHandle_Callbacks(t *testing.T) {
	p, _, _ := newTestPopulation(t, WithKeySource(testutil.NewSeqKeySource("k1", "k2", "k3", "k4")))
	h, err := p.Register("u1")
	require.NoError(t, err)

	calls := 0
	key, err := h.AddCallback(func(context.Context) error {
		calls++
		return nil
	}, 0, true, "confirm")
	require.NoError(t, err)
	assert.Equal(t, "k1k2", key)

	require.NoError(t, h.InvokeCallback(context.Background(), key))
	assert.Equal(t, 1, calls)
	assert.True(t, callback.IsNotFound(h.InvokeCallback(context.Background(), key)), "single shot")

	key, err = h.AddCallback(func(context.Context) error { return nil }, 0, false, "")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, h.Callbacks())
	assert.True(t, h.RemoveCallback(key))
	assert.False(t, h.RemoveCallback(key))
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("user-42"))
	assert.NoError(t, ValidateID("\u00e9mile"))
	assert.ErrorIs(t, ValidateID("a\\b"), ErrInvalidID)
	assert.ErrorIs(t, ValidateID("nul\x00"), ErrInvalidID)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.PollInterval = 0
	assert.ErrorContains(t, cfg.Validate(), "poll_interval")

	cfg = DefaultConfig()
	cfg.SweepInterval = -1
	assert.ErrorContains(t, cfg.Validate(), "sweep_interval")

	cfg = DefaultConfig()
	cfg.Tracker.Interval = 0
	assert.ErrorContains(t, cfg.Validate(), "tracker:")
}
