package harness

import "github.com/roach88/cadence/internal/ir"

// TraceEvent is one emitted event in a run.
type TraceEvent struct {
	// Seq numbers the events of a run from 1.
	Seq int64 `json:"seq"`

	// Offset is the tick time relative to the scenario start, in
	// milliseconds.
	Offset int64 `json:"offset_ms"`

	// Kind is the event kind ("change" or "reminder").
	Kind string `json:"kind"`

	// Event is the rendered event, see ir.EventToIR.
	Event ir.IRObject `json:"event"`

	// raw is the event itself, for assertions.
	raw ir.Event
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds the emitted events in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds the failed assertions. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the tracker's final state.
	State FinalState `json:"state"`
}

// FinalState describes the tracker after the last tick.
type FinalState struct {
	Tracker       string `json:"tracker"`
	FetchFailures uint64 `json:"fetch_failures"`
	Ticks         int    `json:"ticks"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failed assertion and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addEvent appends ev to the trace.
func (r *Result) addEvent(offsetMS int64, ev ir.Event) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    int64(len(r.Trace) + 1),
		Offset: offsetMS,
		Kind:   string(ev.Kind()),
		Event:  ir.EventToIR(ev),
		raw:    ev,
	})
}
