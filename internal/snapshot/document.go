// Package snapshot serializes the entity population into versioned,
// content-hashed documents and restores it, migrating older versions.
//
// Only durable state is packed: entity identity, business attributes and
// tracker reminder stamps. Callback entries and tracker baselines are
// transient and reset cleanly on restart.
//
// Wire format (canonical JSON, keys sorted):
//
//	{
//	  "entities": [
//	    {"attrs": {...}, "created_at": <unix ms>, "id": "...",
//	     "tracker": {"reminders": {"<rule>": <unix ms>}}}
//	  ],
//	  "version": 3
//	}
package snapshot

import (
	"cmp"
	"slices"

	"github.com/roach88/cadence/internal/ir"
)

// Document is one snapshot of the population.
type Document struct {
	Version  int
	Entities []EntityRecord
}

// EntityRecord is the durable state of one entity.
type EntityRecord struct {
	ID        string
	CreatedAt int64 // unix milliseconds
	Attrs     ir.IRObject
	Tracker   TrackerRecord
}

// TrackerRecord is the durable part of an entity's change tracker.
type TrackerRecord struct {
	// Reminders maps rule name to its last firing, in unix milliseconds.
	Reminders map[string]int64
}

// Pack builds a current-version document with entities sorted by ID.
// The input slice is not modified. Nil attribute and reminder maps are
// replaced by empty ones, matching what Decode returns.
func Pack(records []EntityRecord) Document {
	entities := slices.Clone(records)
	for i := range entities {
		entities[i] = entities[i].normalized()
	}
	slices.SortFunc(entities, func(a, b EntityRecord) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return Document{Version: ir.SchemaVersion, Entities: entities}
}

// ToIR renders the document as an IR tree.
func (d Document) ToIR() ir.IRObject {
	entities := make(ir.IRArray, len(d.Entities))
	for i, e := range d.Entities {
		entities[i] = e.toIR()
	}
	return ir.IRObject{
		"version":  ir.IRInt(d.Version),
		"entities": entities,
	}
}

func (e EntityRecord) normalized() EntityRecord {
	if e.Attrs == nil {
		e.Attrs = ir.IRObject{}
	}
	if e.Tracker.Reminders == nil {
		e.Tracker.Reminders = map[string]int64{}
	}
	return e
}

func (e EntityRecord) toIR() ir.IRObject {
	attrs := e.Attrs
	if attrs == nil {
		attrs = ir.IRObject{}
	}
	reminders := make(ir.IRObject, len(e.Tracker.Reminders))
	for name, at := range e.Tracker.Reminders {
		reminders[name] = ir.IRInt(at)
	}
	return ir.IRObject{
		"id":         ir.IRString(e.ID),
		"created_at": ir.IRInt(e.CreatedAt),
		"attrs":      attrs,
		"tracker": ir.IRObject{
			"reminders": reminders,
		},
	}
}

// Encode serializes the document as canonical JSON.
func Encode(d Document) ([]byte, error) {
	return ir.MarshalCanonical(d.ToIR())
}

// Hash returns the content hash of the document's canonical encoding.
func Hash(d Document) (string, []byte, error) {
	data, err := Encode(d)
	if err != nil {
		return "", nil, err
	}
	return ir.ContentHash(data), data, nil
}
