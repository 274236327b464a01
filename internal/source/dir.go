// Package source provides tracker.DataSources.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cadence/internal/entity"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/tracker"
)

// ErrNotFound is returned when an entity has no resource file.
var ErrNotFound = errors.New("resource not found")

// extensions are tried in order for each entity.
var extensions = []string{".json", ".yaml", ".yml"}

// Dir serves each entity's resource from <root>/<id>.json, .yaml or .yml.
//
// Files are read on every fetch, so editing a file is how an operator
// changes a resource. Floats and nulls are rejected like anywhere else in
// the IR.
type Dir struct {
	root string
}

// NewDir creates a source rooted at root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

var _ tracker.DataSource = (*Dir)(nil)

// Root returns the directory.
func (d *Dir) Root() string {
	return d.root
}

// Fetch reads and converts the resource of entityID.
func (d *Dir) Fetch(ctx context.Context, entityID string) (ir.IRObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := entity.ValidateID(entityID); err != nil {
		return nil, err
	}

	for _, ext := range extensions {
		path := filepath.Join(d.root, entityID+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		obj, err := decode(data, ext)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return obj, nil
	}
	return nil, fmt.Errorf("%s in %s: %w", entityID, d.root, ErrNotFound)
}

// IDs lists the entities that have a resource file, sorted and without
// duplicates. Files whose name is not a valid entity id are skipped.
func (d *Dir) IDs() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.root, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !slices.Contains(extensions, ext) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ext)
		if entity.ValidateID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func decode(data []byte, ext string) (ir.IRObject, error) {
	var raw any
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	}
	obj, err := ir.ObjectFromAny(raw)
	if err != nil {
		return nil, err
	}
	return obj, nil
}
