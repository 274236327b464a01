package engine

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Runner.Run when the runner's loop is
// already active. Starting a second loop for the same unit would tick it
// concurrently, so this is a programming error with no side effects.
var ErrAlreadyRunning = errors.New("runner already running")

// ErrOutboxClosed is returned when publishing to a closed outbox.
var ErrOutboxClosed = errors.New("outbox closed")

// RuntimeError represents an error detected while scheduling a unit.
//
// RuntimeError includes structured fields for diagnostics; the runner logs
// them and keeps going.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Unit names the runner (usually the entity id).
	Unit string

	// Tick is the runner's tick counter at the time of failure.
	Tick uint64

	// Err is the underlying failure.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeTickFailed indicates the unit's Tick returned an error.
	ErrCodeTickFailed RuntimeErrorCode = "TICK_FAILED"

	// ErrCodeTickPanicked indicates the unit's Tick panicked.
	ErrCodeTickPanicked RuntimeErrorCode = "TICK_PANICKED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: unit %s tick %d: %v", e.Code, e.Unit, e.Tick, e.Err)
}

// Unwrap returns the underlying failure.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsTickError returns true if err came from a failed or panicking tick.
// Uses errors.As to handle wrapped errors.
func IsTickError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re)
}
