package ir

import "time"

// EventKind names an Event variant.
type EventKind string

const (
	// KindChange is a debounced change of an entity's tracked resource.
	KindChange EventKind = "change"
	// KindReminder is a calendar reminder that came due.
	KindReminder EventKind = "reminder"
)

// Event is the closed set of things an entity tick can emit.
// Only ChangeEvent and ReminderEvent implement it; consumers switch on the
// concrete type and treat anything else as a programming error.
type Event interface {
	Entity() string
	Kind() EventKind
	event()
}

// ChangeEvent carries the net diff of one burst of edits to an entity's
// resource: the baseline from before the burst against the last snapshot
// accepted within it.
type ChangeEvent struct {
	EntityID   string    `json:"entity_id"`
	Changes    Changes   `json:"changes"`
	DetectedAt time.Time `json:"detected_at"`
	FlushedAt  time.Time `json:"flushed_at"`
}

func (e ChangeEvent) Entity() string  { return e.EntityID }
func (e ChangeEvent) Kind() EventKind { return KindChange }
func (ChangeEvent) event()            {}

// ReminderEvent is emitted when a calendar rule matches.
type ReminderEvent struct {
	EntityID string    `json:"entity_id"`
	Rule     string    `json:"rule"`
	Due      time.Time `json:"due"`
}

func (e ReminderEvent) Entity() string  { return e.EntityID }
func (e ReminderEvent) Kind() EventKind { return KindReminder }
func (ReminderEvent) event()            {}

// EventToIR renders an event for traces and CLI output.
// Timestamps are unix milliseconds.
func EventToIR(ev Event) IRObject {
	switch e := ev.(type) {
	case ChangeEvent:
		return IRObject{
			"kind":        IRString(KindChange),
			"entity":      IRString(e.EntityID),
			"changes":     e.Changes.ToIR(),
			"detected_at": IRInt(e.DetectedAt.UnixMilli()),
			"flushed_at":  IRInt(e.FlushedAt.UnixMilli()),
		}
	case ReminderEvent:
		return IRObject{
			"kind":   IRString(KindReminder),
			"entity": IRString(e.EntityID),
			"rule":   IRString(e.Rule),
			"due":    IRInt(e.Due.UnixMilli()),
		}
	default:
		panic("ir: unknown event type")
	}
}
