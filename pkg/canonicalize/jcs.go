// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and the call fingerprints derived from it.
//
// Two calls with the same tool name and the same canonical input must map to
// the same fingerprint; the engine's decision cache is keyed on that
// guarantee.
package canonicalize

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/sha3"
)

// Canonical returns the RFC 8785 canonical JSON representation of v.
//
// v is first marshaled with encoding/json (respecting struct tags), then the
// resulting text is transformed: map keys sorted by UTF-16 code units, no
// HTML escaping, shortest-form number serialization.
func Canonical(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform failed: %w", err)
	}
	return out, nil
}

// CanonicalString returns the canonical form as a string.
func CanonicalString(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// fingerprintInput pins the shape hashed by Fingerprint. Field order is
// irrelevant after canonicalization; the struct only exists so tool name and
// input can never collide with a crafted input key.
type fingerprintInput struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

// Fingerprint returns a deterministic 128-bit digest of (toolName, input),
// hex encoded. Callers must strip the confirmation parameter before calling:
// presenting a ticket is authorization, not identity.
func Fingerprint(toolName string, input map[string]any) (string, error) {
	b, err := Canonical(fingerprintInput{Tool: toolName, Input: input})
	if err != nil {
		return "", err
	}
	var sum [16]byte
	sha3.ShakeSum128(sum[:], b)
	return hex.EncodeToString(sum[:]), nil
}

// DetectionFingerprint digests the fields of a detection that identify it
// for oracle sub-caching: category, severity, and reason. Confidence is
// excluded so near-identical pattern hits share one oracle verdict.
func DetectionFingerprint(category, severity, reason string) string {
	payload := fmt.Sprintf("%s\x00%s\x00%s", category, severity, reason)
	var sum [16]byte
	sha3.ShakeSum128(sum[:], []byte(payload))
	return hex.EncodeToString(sum[:])
}
