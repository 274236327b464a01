package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainSnapshot = "cadence/snapshot/v1"
	DomainResource = "cadence/resource/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash returns the digest of serialized snapshot content.
// The snapshot store compares this against the last written hash to decide
// whether a durable write is needed.
func ContentHash(data []byte) string {
	return hashWithDomain(DomainSnapshot, data)
}

// ResourceHash returns the digest of a fetched resource snapshot.
func ResourceHash(obj IRObject) (string, error) {
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ResourceHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainResource, canonical), nil
}
