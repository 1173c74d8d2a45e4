// ABOUTME: Deterministic session binding from verified subject plus client context
// ABOUTME: Produces a stable, non-reversible correlation identifier per user+client

package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidIdentity is returned when the subject is empty.
var ErrInvalidIdentity = errors.New("invalid identity")

// version tags the digest algorithm so the derivation can evolve without
// silently colliding with ids minted by an older scheme.
const version = "v1"

// TruncatedLen is the number of hex characters echoed back to callers in the
// X-Attach-Session response header. The full digest only travels downstream.
const TruncatedLen = 16

// Bind derives the session id for a verified subject and its client context.
// The same (subject, clientContext) pair always yields the same id; changing
// either input changes the id. The client context must be stable across a
// user's requests (e.g. a normalized User-Agent), never per-request material.
func Bind(subject, clientContext string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidIdentity)
	}

	sum := sha256.Sum256([]byte(version + ":" + subject + ":" + clientContext))
	return hex.EncodeToString(sum[:]), nil
}

// Truncate shortens a session id for caller-facing exposure.
func Truncate(sessionID string) string {
	if len(sessionID) <= TruncatedLen {
		return sessionID
	}
	return sessionID[:TruncatedLen]
}
