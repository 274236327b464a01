package snapshot

import (
	"errors"
	"fmt"
)

// ErrNoSnapshot is returned by a Sink that holds nothing yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// ErrUnsupportedVersion is returned when a snapshot is newer than this
// binary understands.
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

// CorruptError reports snapshot bytes that cannot be parsed at all.
// Callers usually fall back to an empty population.
type CorruptError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *CorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt snapshot: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt snapshot: %s", e.Reason)
}

// Unwrap returns the underlying parse error, if any.
func (e *CorruptError) Unwrap() error {
	return e.Err
}

// IsCorrupt returns true if err is a CorruptError.
// Uses errors.As to handle wrapped errors.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}

func corrupt(reason string, err error) error {
	return &CorruptError{Reason: reason, Err: err}
}

// Warning records one entity dropped during load.
type Warning struct {
	// Index is the entity's position in the stored list.
	Index int

	// EntityID is empty when the id itself was unreadable.
	EntityID string

	Reason string
}

// String renders the warning for logs.
func (w Warning) String() string {
	if w.EntityID == "" {
		return fmt.Sprintf("entity #%d: %s", w.Index, w.Reason)
	}
	return fmt.Sprintf("entity %q (#%d): %s", w.EntityID, w.Index, w.Reason)
}
