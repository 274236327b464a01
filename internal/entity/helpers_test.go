package entity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/tracker"
)

// mapSource serves per-entity resources from a map.
type mapSource struct {
	mu   sync.Mutex
	data map[string]ir.IRObject
}

func newMapSource() *mapSource {
	return &mapSource{data: make(map[string]ir.IRObject)}
}

func (s *mapSource) set(id string, obj ir.IRObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = obj
}

func (s *mapSource) Fetch(_ context.Context, id string) (ir.IRObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.data[id]
	if !ok {
		return nil, errors.New("no such entity")
	}
	return obj.Clone(), nil
}

var _ tracker.DataSource = (*mapSource)(nil)

// testConfig ticks everything once a second and debounces for three.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.SweepInterval = time.Second
	cfg.Tracker.Interval = time.Second
	cfg.Tracker.FetchInterval = time.Second
	cfg.Tracker.QuietPeriod = 3 * time.Second
	cfg.Tracker.StartupFreeze = 0
	return cfg
}

// agent is a scripted sub-unit.
type agent struct {
	interval time.Duration
	tick     func(now time.Time) ([]ir.Event, error)

	mu    sync.Mutex
	times []time.Time
}

func (a *agent) MinInterval() time.Duration { return a.interval }

func (a *agent) Tick(_ context.Context, now time.Time) ([]ir.Event, error) {
	a.mu.Lock()
	a.times = append(a.times, now)
	a.mu.Unlock()
	if a.tick == nil {
		return nil, nil
	}
	return a.tick(now)
}

func (a *agent) ticks() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Time(nil), a.times...)
}
