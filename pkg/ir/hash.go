package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// The version suffix leaves room for a future algorithm change.
const (
	DomainState = "epicflow/state/v1"
	DomainTrace = "epicflow/trace/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash computes a domain-separated SHA-256 over the canonical JSON form of v.
func Hash(domain string, v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash: failed to marshal: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

// StateHash hashes a set of epic states keyed by epic name.
// Unset entries hash as null so an epic rolled back to its initial state
// still produces a stable digest.
func StateHash(states map[string]Value) (string, error) {
	obj := make(Object, len(states))
	for name, v := range states {
		if IsUnset(v) {
			v = Null{}
		}
		obj[name] = v
	}
	return Hash(DomainState, obj)
}
