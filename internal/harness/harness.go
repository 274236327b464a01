package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cadence/internal/config"
	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/testutil"
	"github.com/roach88/cadence/internal/tracker"
)

// DefaultEntity is the entity id of scenarios that do not name one.
const DefaultEntity = "u1"

// errSourceDown is what the timeline source returns during an outage.
var errSourceDown = errors.New("source unavailable")

// plan is a scenario with every field parsed.
type plan struct {
	entity   string
	start    time.Time
	duration time.Duration
	tick     time.Duration
	cfg      tracker.Config
	steps    []step
}

type step struct {
	at       time.Duration
	resource ir.IRObject
	fail     bool
}

// timelineSource serves whatever the timeline says at the current offset.
type timelineSource struct {
	mu       sync.Mutex
	resource ir.IRObject
	fail     bool
}

func (s *timelineSource) apply(st step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = st.fail
	if !st.fail {
		s.resource = st.resource
	}
}

func (s *timelineSource) Fetch(context.Context, string) (ir.IRObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errSourceDown
	}
	return s.resource.Clone(), nil
}

// Run executes a scenario and returns the result.
//
// The tracker is ticked at start, start+tick, ... up to start+duration,
// each tick gated by the tracker's own minimum interval. Before a tick
// every timeline step whose offset has been reached is applied.
func Run(scenario *Scenario) (*Result, error) {
	p, err := compile(scenario)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	src := &timelineSource{}
	tr := tracker.New(p.entity, src, p.cfg, tracker.WithStartTime(p.start))
	gate := engine.NewGate(tr.MinInterval())

	result := NewResult()
	next := 0
	for offset := time.Duration(0); offset <= p.duration; offset += p.tick {
		for next < len(p.steps) && p.steps[next].at <= offset {
			src.apply(p.steps[next])
			next++
		}

		now := p.start.Add(offset)
		if !gate.Fire(now) {
			continue
		}
		result.State.Ticks++

		events, err := tr.Tick(ctx, now)
		if err != nil {
			return nil, fmt.Errorf("tick at %s: %w", offset, err)
		}
		for _, ev := range events {
			result.addEvent(offset.Milliseconds(), ev)
		}
	}

	result.State.Tracker = tr.State().String()
	result.State.FetchFailures = tr.FetchFailures()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, p.start) {
		result.AddError(msg)
	}
	return result, nil
}

// compile parses the scenario's timing, config and timeline.
func compile(s *Scenario) (*plan, error) {
	if err := validateScenario(s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	p := &plan{entity: s.Entity, start: testutil.Epoch}
	if p.entity == "" {
		p.entity = DefaultEntity
	}
	if s.Start != "" {
		start, _ := time.Parse(time.RFC3339, s.Start)
		p.start = start.UTC()
	}
	p.duration, _ = time.ParseDuration(s.Duration)

	cfg, err := scenarioConfig(s)
	if err != nil {
		return nil, err
	}
	p.cfg = cfg.Tracker()

	p.tick = p.cfg.Interval
	if s.Tick != "" {
		p.tick, _ = time.ParseDuration(s.Tick)
	}

	for i, st := range s.Timeline {
		at, _ := time.ParseDuration(st.At)
		out := step{at: at, fail: st.Fail}
		if !st.Fail {
			obj, err := ir.ObjectFromAny(st.Resource)
			if err != nil {
				return nil, fmt.Errorf("timeline[%d]: resource: %w", i, err)
			}
			out.resource = obj
		}
		p.steps = append(p.steps, out)
	}
	return p, nil
}

// scenarioConfig validates the config block like a configuration file.
func scenarioConfig(s *Scenario) (*config.Config, error) {
	if len(s.Config) == 0 {
		return config.Default()
	}
	data, err := yaml.Marshal(s.Config)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := config.Parse(data, s.Name+".yaml")
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
