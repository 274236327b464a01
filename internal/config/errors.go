package config

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Error is a configuration problem, positioned when CUE knows where.
type Error struct {
	File    string
	Pos     token.Pos
	Message string
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// fromCUE converts the first of possibly many CUE errors.
func fromCUE(file string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &Error{File: file, Message: err.Error()}
	}
	first := errs[0]
	out := &Error{File: file, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		out.Pos = positions[0]
	}
	return out
}
