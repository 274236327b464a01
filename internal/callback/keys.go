package callback

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// KeySource draws the random tokens a callback key is built from.
//
// A key is the concatenation of two independent draws. Implementations must
// be safe for concurrent use.
type KeySource interface {
	Draw() string
}

// UUIDKeySource draws 16 hex characters from a random UUIDv4.
//
// Two draws give a key with roughly 120 bits of entropy, so collisions are
// negligible; the registry still re-draws when one happens.
//
// Uses github.com/google/uuid package for RFC 4122 compliant UUIDs.
//
// Thread-safety: UUIDKeySource is stateless and safe for concurrent use.
type UUIDKeySource struct{}

// Draw returns one token.
//
// Panics if the system random source fails (should never happen in practice).
func (UUIDKeySource) Draw() string {
	id := uuid.Must(uuid.NewRandom())
	return hex.EncodeToString(id[:8])
}
