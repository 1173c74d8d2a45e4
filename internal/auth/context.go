// ABOUTME: Identity context for tracking verified callers through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating identity via context

package auth

import (
	"context"
	"time"
)

// Identity is the validated, immutable per-request record produced by
// credential verification. It is constructed once per inbound request and
// discarded when the request completes; it is never cached across requests.
type Identity struct {
	// Subject is the canonical caller identity: issuer-qualified for OIDC
	// credentials, the DID string for decentralized formats.
	Subject string

	// SessionID is the deterministic digest bound by the session package.
	// Populated by the auth middleware after verification.
	SessionID string

	// IssuedAt/ExpiresAt mirror the credential's validity window when the
	// claims carry one; zero otherwise.
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// identityContextKey is the key type for storing Identity in context.Context.
type identityContextKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityContextKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}
