package callback

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Invoke when the key is unknown or expired.
//
// Under normal operation this means a user interacted with a stale element
// of an old message. Callers treat it as recoverable.
var ErrNotFound = errors.New("callback not found")

// ErrKeySpaceExhausted is returned by Add when no unused key could be drawn
// within the configured number of attempts. It indicates a broken KeySource
// and propagates to the caller.
var ErrKeySpaceExhausted = errors.New("callback key space exhausted")

// ActionError wraps a failure (error or panic) raised by a callback action.
// The entry has already been removed when this is returned.
type ActionError struct {
	Key   string
	Label string
	Err   error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	if e.Label == "" {
		return fmt.Sprintf("callback %s failed: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("callback %s (%s) failed: %v", e.Key, e.Label, e.Err)
}

// Unwrap returns the action's error.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the callback was missing or expired.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsActionError reports whether err came from a failing action.
// Uses errors.As to handle wrapped errors.
func IsActionError(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae)
}
