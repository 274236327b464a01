// Package ir provides the value model shared by every cadence package.
//
// Fetched resources, durable entity attributes and emitted events are all
// expressed with the sealed IRValue union so they can be diffed, hashed and
// serialized deterministically. All other internal packages import ir; ir
// imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers (balances are cents)
//   - NO null - an absent key is the only way to express "no value"
//   - Canonical JSON (RFC 8785) is the only serialization used for hashing
//   - All JSON tags use snake_case
package ir
