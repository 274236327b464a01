package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cadence/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Entity       string       `json:"entity"`
	Trace        []TraceEvent `json:"trace"`
	Final        FinalState   `json:"final"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		traceList[i] = map[string]any{
			"seq":       event.Seq,
			"offset_ms": event.Offset,
			"kind":      event.Kind,
			"event":     event.Event,
		}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"entity":        s.Entity,
		"trace":         traceList,
		"final": map[string]any{
			"tracker":        s.Final.Tracker,
			"fetch_failures": s.Final.FetchFailures,
			"ticks":          s.Final.Ticks,
		},
	}
}

// NewTraceSnapshot captures result as a run of scenario.
func NewTraceSnapshot(scenario *Scenario, result *Result) *TraceSnapshot {
	entity := scenario.Entity
	if entity == "" {
		entity = DefaultEntity
	}
	return &TraceSnapshot{
		ScenarioName: scenario.Name,
		Entity:       entity,
		Trace:        result.Trace,
		Final:        result.State,
	}
}

// Marshal renders the snapshot as canonical JSON.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	snapshot := NewTraceSnapshot(scenario, result)
	if err := assertGolden(t, scenario.Name, snapshot.Entity, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()
	return assertGolden(t, scenarioName, DefaultEntity, result)
}

func assertGolden(t *testing.T, name, entity string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: name,
		Entity:       entity,
		Trace:        result.Trace,
		Final:        result.State,
	}
	traceJSON, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, traceJSON)
	return nil
}
