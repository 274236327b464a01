package snapshot

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/roach88/cadence/internal/ir"
)

// Migration upgrades a generic snapshot tree from version From to From+1.
//
// Apply works on the decoded JSON tree (objects are map[string]any, numbers
// are json.Number) and edits it in place. It must tolerate malformed
// entities by leaving them alone; Decode reports those as warnings.
type Migration struct {
	From  int
	Apply func(doc map[string]any) error
}

// Migrations is the ordered upgrade chain. Adding a schema version means
// appending one entry and bumping ir.SchemaVersion.
var Migrations = []Migration{
	{From: 1, Apply: migrateV1ToV2},
	{From: 2, Apply: migrateV2ToV3},
}

// migrate applies the chain from version from up to ir.SchemaVersion.
func migrate(doc map[string]any, from int) error {
	for v := from; v < ir.SchemaVersion; v++ {
		m, ok := migrationFrom(v)
		if !ok {
			return fmt.Errorf("no migration from version %d", v)
		}
		if err := m.Apply(doc); err != nil {
			return fmt.Errorf("migrate v%d to v%d: %w", v, v+1, err)
		}
		doc["version"] = json.Number(strconv.Itoa(v + 1))
	}
	return nil
}

func migrationFrom(v int) (Migration, bool) {
	for _, m := range Migrations {
		if m.From == v {
			return m, true
		}
	}
	return Migration{}, false
}

// eachEntity calls fn for every entity that is an object.
func eachEntity(doc map[string]any, fn func(e map[string]any)) error {
	list, ok := doc["entities"].([]any)
	if !ok {
		return fmt.Errorf("entities is %T, want array", doc["entities"])
	}
	for _, raw := range list {
		if e, ok := raw.(map[string]any); ok {
			fn(e)
		}
	}
	return nil
}

// v1 stored "created" in unix seconds and had no tracker section.
func migrateV1ToV2(doc map[string]any) error {
	return eachEntity(doc, func(e map[string]any) {
		if created, ok := e["created"]; ok {
			delete(e, "created")
			if n, ok := created.(json.Number); ok {
				if secs, err := n.Int64(); err == nil {
					created = json.Number(strconv.FormatInt(secs*1000, 10))
				}
			}
			e["created_at"] = created
		}
		if _, ok := e["tracker"]; !ok {
			e["tracker"] = map[string]any{"reminders": map[string]any{}}
		}
	})
}

// v2 kept the role at entity level; v3 treats it as a business attribute.
func migrateV2ToV3(doc map[string]any) error {
	return eachEntity(doc, func(e map[string]any) {
		role, ok := e["role"]
		if !ok {
			return
		}
		delete(e, "role")

		attrs, ok := e["attrs"].(map[string]any)
		if !ok {
			if _, present := e["attrs"]; present {
				// Malformed attrs: keep them malformed so Decode warns.
				return
			}
			attrs = map[string]any{}
			e["attrs"] = attrs
		}
		if _, exists := attrs["role"]; !exists {
			attrs["role"] = role
		}
	})
}

// MigrateBytes upgrades raw snapshot bytes to the current version and
// returns them as canonical JSON. Entities are not validated; a document
// already at the current version is only re-encoded.
func MigrateBytes(data []byte) ([]byte, error) {
	doc, version, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := migrate(doc, version); err != nil {
		return nil, corrupt("migration failed", err)
	}
	out, err := ir.MarshalCanonical(doc)
	if err != nil {
		return nil, corrupt("re-encode", err)
	}
	return out, nil
}
