package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario for one entity's tracker.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Entity is the tracked entity id. Defaults to "u1".
	Entity string `yaml:"entity,omitempty"`

	// Start is the RFC 3339 time of the first tick. Defaults to
	// testutil.Epoch.
	Start string `yaml:"start,omitempty"`

	// Duration is how long the run lasts; the last tick is at
	// start+duration.
	Duration string `yaml:"duration"`

	// Tick is the spacing of the driving clock. Defaults to the tracker
	// interval.
	Tick string `yaml:"tick,omitempty"`

	// Config holds cadence configuration fields, e.g. quiet_period or
	// reminders. Unset fields keep their defaults.
	Config map[string]any `yaml:"config,omitempty"`

	// Timeline says what the data source returns from each offset on.
	// Offsets must not decrease.
	Timeline []Step `yaml:"timeline"`

	// Assertions validate the emitted events and the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step changes the data source at offset At.
type Step struct {
	// At is the offset from the start, as a Go duration.
	At string `yaml:"at"`

	// Resource is served from At on.
	Resource map[string]any `yaml:"resource,omitempty"`

	// Fail makes every fetch from At on fail, until a later step sets a
	// resource.
	Fail bool `yaml:"fail,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind filters events (event_count). Empty matches any kind.
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number of events (event_count).
	Count int `yaml:"count,omitempty"`

	// Paths is the exact set of changed paths (change_paths).
	Paths []string `yaml:"paths,omitempty"`

	// Rule is the reminder rule name (reminder_fired).
	Rule string `yaml:"rule,omitempty"`

	// At is the expected due offset of the reminder (reminder_fired).
	At string `yaml:"at,omitempty"`

	// Kinds is the expected order of event kinds (event_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// State is the expected tracker state (final_state).
	State string `yaml:"state,omitempty"`

	// FetchFailures is the expected failed fetch count (final_state).
	FetchFailures *uint64 `yaml:"fetch_failures,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount    = "event_count"
	AssertChangePaths   = "change_paths"
	AssertReminderFired = "reminder_fired"
	AssertEventOrder    = "event_order"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
// Config fields are checked when the scenario runs.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Start != "" {
		if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	if d, err := time.ParseDuration(s.Duration); err != nil || d < 0 {
		return fmt.Errorf("duration must be a non-negative Go duration, got %q", s.Duration)
	}
	if s.Tick != "" {
		if d, err := time.ParseDuration(s.Tick); err != nil || d <= 0 {
			return fmt.Errorf("tick must be a positive Go duration, got %q", s.Tick)
		}
	}
	if len(s.Timeline) == 0 {
		return fmt.Errorf("timeline list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	var prev time.Duration
	for i, step := range s.Timeline {
		at, err := time.ParseDuration(step.At)
		if err != nil {
			return fmt.Errorf("timeline[%d]: at: %w", i, err)
		}
		if at < prev {
			return fmt.Errorf("timeline[%d]: at %s is before the previous step", i, at)
		}
		prev = at
		if step.Fail == (step.Resource != nil) {
			return fmt.Errorf("timeline[%d]: exactly one of resource and fail is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertEventCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertChangePaths:
		if len(a.Paths) == 0 {
			return fmt.Errorf("assertions[%d]: paths list is required for change_paths", index)
		}
	case AssertReminderFired:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for reminder_fired", index)
		}
		if a.At != "" {
			if _, err := time.ParseDuration(a.At); err != nil {
				return fmt.Errorf("assertions[%d]: at: %w", index, err)
			}
		}
	case AssertEventOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for event_order", index)
		}
	case AssertFinalState:
		if a.State == "" && a.FetchFailures == nil {
			return fmt.Errorf("assertions[%d]: state or fetch_failures is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
