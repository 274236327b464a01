package harness

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/cadence/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] +%s %s %s\n", event.Seq, time.Duration(event.Offset)*time.Millisecond, event.Kind, describe(event.raw))
	}
	return buf.String()
}

func describe(ev ir.Event) string {
	switch e := ev.(type) {
	case ir.ChangeEvent:
		return strings.Join(e.Changes.Paths(), ",")
	case ir.ReminderEvent:
		return e.Rule
	default:
		return ""
	}
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. start anchors the offsets of reminder_fired.
func EvaluateAssertions(result *Result, assertions []Assertion, start time.Time) []string {
	var errs []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertEventCount:
			err = assertEventCount(result.Trace, a)
		case AssertChangePaths:
			err = assertChangePaths(result.Trace, a)
		case AssertReminderFired:
			err = assertReminderFired(result.Trace, a, start)
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertEventCount checks how many events of a kind were emitted.
func assertEventCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if a.Kind == "" || ev.Kind == a.Kind {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	kind := a.Kind
	if kind == "" {
		kind = "any"
	}
	return &AssertionError{
		Type:     AssertEventCount,
		Expected: fmt.Sprintf("%d %s events", a.Count, kind),
		Actual:   fmt.Sprintf("%d", n),
		Trace:    trace,
	}
}

// assertChangePaths checks that some change event touched exactly the
// given paths.
func assertChangePaths(trace []TraceEvent, a Assertion) error {
	want := slices.Sorted(slices.Values(a.Paths))
	for _, ev := range trace {
		change, ok := ev.raw.(ir.ChangeEvent)
		if ok && slices.Equal(change.Changes.Paths(), want) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertChangePaths,
		Expected: fmt.Sprintf("a change of %v", want),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertReminderFired checks that rule fired, at the given due offset if
// one is set.
func assertReminderFired(trace []TraceEvent, a Assertion, start time.Time) error {
	var due time.Time
	if a.At != "" {
		at, err := time.ParseDuration(a.At)
		if err != nil {
			return err
		}
		due = start.Add(at)
	}
	for _, ev := range trace {
		rem, ok := ev.raw.(ir.ReminderEvent)
		if !ok || rem.Rule != a.Rule {
			continue
		}
		if due.IsZero() || rem.Due.Equal(due) {
			return nil
		}
	}
	expected := fmt.Sprintf("reminder %s", a.Rule)
	if !due.IsZero() {
		expected += " due at +" + a.At
	}
	return &AssertionError{
		Type:     AssertReminderFired,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertEventOrder checks that kinds appear as a subsequence of the trace.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	i := 0
	for _, ev := range trace {
		if i < len(a.Kinds) && ev.Kind == a.Kinds[i] {
			i++
		}
	}
	if i == len(a.Kinds) {
		return nil
	}
	kinds := make([]string, len(trace))
	for j, ev := range trace {
		kinds[j] = ev.Kind
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: fmt.Sprintf("kinds in order %v", a.Kinds),
		Actual:   fmt.Sprintf("%v", kinds),
		Trace:    trace,
	}
}

// assertFinalState checks the tracker after the last tick.
func assertFinalState(result *Result, a Assertion) error {
	if a.State != "" && result.State.Tracker != a.State {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: "tracker " + a.State,
			Actual:   "tracker " + result.State.Tracker,
			Trace:    result.Trace,
		}
	}
	if a.FetchFailures != nil && result.State.FetchFailures != *a.FetchFailures {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d fetch failures", *a.FetchFailures),
			Actual:   fmt.Sprintf("%d", result.State.FetchFailures),
			Trace:    result.Trace,
		}
	}
	return nil
}
