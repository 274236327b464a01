package entity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrPopulationRunning is returned by operations that need the
	// population's runners to be stopped.
	ErrPopulationRunning = errors.New("population is running")

	// ErrRunnersStopping is returned by Start and Restore while runners from
	// a Stop that timed out are still finishing a tick.
	ErrRunnersStopping = errors.New("population runners still stopping")

	// ErrNoSnapshotStore is returned by snapshot operations on a population
	// built without WithSnapshotStore.
	ErrNoSnapshotStore = errors.New("population has no snapshot store")

	// ErrInvalidID is returned for entity ids that cannot be stored or used
	// as a file name.
	ErrInvalidID = errors.New("invalid entity id")
)

// maxIDLength bounds entity ids in bytes.
const maxIDLength = 128

// ValidateID reports whether id can name an entity.
//
// Ids must be non-empty, at most 128 bytes, contain no control characters
// or path separators and must not be "." or "..".
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case len(id) > maxIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, maxIDLength)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, id)
	case strings.ContainsFunc(id, unicode.IsControl):
		return fmt.Errorf("%w: %q contains a control character", ErrInvalidID, id)
	}
	return nil
}
