package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/cadence/internal/ir"
)

// DecodeOptions customizes entity reconstruction.
type DecodeOptions struct {
	// Validate rejects an otherwise well-formed entity; the entity is
	// dropped with a warning carrying the returned error.
	Validate func(EntityRecord) error
}

// Decode parses snapshot bytes of any supported version.
//
// Older versions are migrated first. Returns a *CorruptError when the bytes
// are not a snapshot at all and ErrUnsupportedVersion when they are newer
// than ir.SchemaVersion. An entity that cannot be reconstructed is dropped
// and reported as a Warning; the rest still load.
func Decode(data []byte, opts DecodeOptions) (Document, []Warning, error) {
	doc, version, err := parse(data)
	if err != nil {
		return Document{}, nil, err
	}
	if err := migrate(doc, version); err != nil {
		return Document{}, nil, corrupt("migration failed", err)
	}

	list, ok := doc["entities"].([]any)
	if !ok {
		return Document{}, nil, corrupt(fmt.Sprintf("entities is %T, want array", doc["entities"]), nil)
	}

	out := Document{Version: ir.SchemaVersion, Entities: make([]EntityRecord, 0, len(list))}
	var warnings []Warning
	seen := make(map[string]bool, len(list))

	for i, raw := range list {
		rec, err := decodeEntity(raw)
		if err == nil && seen[rec.ID] {
			err = errors.New("duplicate id")
		}
		if err == nil && opts.Validate != nil {
			if verr := opts.Validate(rec); verr != nil {
				err = fmt.Errorf("rejected: %w", verr)
			}
		}
		if err != nil {
			warnings = append(warnings, Warning{Index: i, EntityID: rec.ID, Reason: err.Error()})
			continue
		}
		seen[rec.ID] = true
		out.Entities = append(out.Entities, rec)
	}
	return out, warnings, nil
}

// parse decodes the generic tree and checks the version tag.
func parse(data []byte) (map[string]any, int, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, 0, corrupt("invalid JSON", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, 0, corrupt("trailing data after document", nil)
	}
	if doc == nil {
		return nil, 0, corrupt("document is null", nil)
	}

	raw, ok := doc["version"]
	if !ok {
		return nil, 0, corrupt("missing version", nil)
	}
	num, ok := raw.(json.Number)
	if !ok {
		return nil, 0, corrupt(fmt.Sprintf("version is %T, want integer", raw), nil)
	}
	v, err := num.Int64()
	if err != nil || v < 1 {
		return nil, 0, corrupt(fmt.Sprintf("invalid version %s", num), nil)
	}
	if v > int64(ir.SchemaVersion) {
		return nil, 0, fmt.Errorf("%w: %d (newest known is %d)", ErrUnsupportedVersion, v, ir.SchemaVersion)
	}
	return doc, int(v), nil
}

// decodeEntity reconstructs one entity from a current-version tree.
// On error the returned record carries the id when it could be read.
func decodeEntity(raw any) (EntityRecord, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return EntityRecord{}, fmt.Errorf("entity is %T, want object", raw)
	}

	id, _ := obj["id"].(string)
	rec := EntityRecord{ID: id}
	if id == "" {
		return rec, errors.New("missing or empty id")
	}

	created, err := nonNegativeInt(obj["created_at"])
	if err != nil {
		return rec, fmt.Errorf("created_at: %w", err)
	}
	rec.CreatedAt = created

	rec.Attrs = ir.IRObject{}
	if rawAttrs, ok := obj["attrs"]; ok {
		attrs, err := ir.ObjectFromAny(rawAttrs)
		if err != nil {
			return rec, fmt.Errorf("attrs: %w", err)
		}
		rec.Attrs = attrs
	}

	rec.Tracker.Reminders = map[string]int64{}
	if rawTracker, ok := obj["tracker"]; ok {
		tracker, ok := rawTracker.(map[string]any)
		if !ok {
			return rec, fmt.Errorf("tracker is %T, want object", rawTracker)
		}
		if rawRem, ok := tracker["reminders"]; ok {
			rem, ok := rawRem.(map[string]any)
			if !ok {
				return rec, fmt.Errorf("tracker.reminders is %T, want object", rawRem)
			}
			for name, v := range rem {
				at, err := nonNegativeInt(v)
				if err != nil {
					return rec, fmt.Errorf("tracker.reminders[%q]: %w", name, err)
				}
				rec.Tracker.Reminders[name] = at
			}
		}
	}
	return rec, nil
}

func nonNegativeInt(v any) (int64, error) {
	num, ok := v.(json.Number)
	if !ok {
		if v == nil {
			return 0, errors.New("missing")
		}
		return 0, fmt.Errorf("is %T, want integer", v)
	}
	n, err := num.Int64()
	if err != nil {
		return 0, fmt.Errorf("not an integer: %s", num)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative: %d", n)
	}
	return n, nil
}
