package ir

import (
	"slices"
	"strings"
)

// Change is one leaf-level difference between two resource snapshots.
// A nil Before means the path was added; a nil After means it was removed.
type Change struct {
	Path   string  `json:"path"`
	Before IRValue `json:"before,omitempty"`
	After  IRValue `json:"after,omitempty"`
}

// Changes is a diff, sorted by Path.
type Changes []Change

// Empty reports whether the diff carries no changes.
func (c Changes) Empty() bool {
	return len(c) == 0
}

// Paths returns the changed paths in order.
func (c Changes) Paths() []string {
	out := make([]string, len(c))
	for i, ch := range c {
		out[i] = ch.Path
	}
	return out
}

// ToIR renders the diff as an IRArray so it can be hashed or written to a
// golden trace. Absent sides are omitted.
func (c Changes) ToIR() IRArray {
	arr := make(IRArray, len(c))
	for i, ch := range c {
		obj := IRObject{"path": IRString(ch.Path)}
		if ch.Before != nil {
			obj["before"] = ch.Before
		}
		if ch.After != nil {
			obj["after"] = ch.After
		}
		arr[i] = obj
	}
	return arr
}

// Diff computes the changes that turn before into after.
//
// Nested objects are walked recursively and their keys joined with ".".
// Arrays and scalars are compared as whole values: a reordered list is one
// change at the list's path, not a change per element.
func Diff(before, after IRObject) Changes {
	var out Changes
	diffObject("", before, after, &out)
	slices.SortFunc(out, func(a, b Change) int {
		return strings.Compare(a.Path, b.Path)
	})
	return out
}

func diffObject(prefix string, before, after IRObject, out *Changes) {
	for k, bv := range before {
		path := joinPath(prefix, k)
		av, ok := after[k]
		if !ok {
			*out = append(*out, Change{Path: path, Before: bv})
			continue
		}
		diffValue(path, bv, av, out)
	}
	for k, av := range after {
		if _, ok := before[k]; !ok {
			*out = append(*out, Change{Path: joinPath(prefix, k), After: av})
		}
	}
}

func diffValue(path string, before, after IRValue, out *Changes) {
	bo, bIsObj := before.(IRObject)
	ao, aIsObj := after.(IRObject)
	if bIsObj && aIsObj {
		diffObject(path, bo, ao, out)
		return
	}
	if !Equal(before, after) {
		*out = append(*out, Change{Path: path, Before: before, After: after})
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// Equal reports whether two values are structurally identical.
func Equal(a, b IRValue) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case IRString:
		bv, ok := b.(IRString)
		return ok && av == bv
	case IRInt:
		bv, ok := b.(IRInt)
		return ok && av == bv
	case IRBool:
		bv, ok := b.(IRBool)
		return ok && av == bv
	case IRArray:
		bv, ok := b.(IRArray)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case IRObject:
		bv, ok := b.(IRObject)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
