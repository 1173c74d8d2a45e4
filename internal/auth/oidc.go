// ABOUTME: OIDC JWT verification against the issuer's published JWKS
// ABOUTME: Enforces issuer, audience, and validity window with configurable clock skew

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// acceptedOIDCAlgs is the closed set of signing algorithms the gateway
// accepts from a central issuer. Symmetric algorithms are rejected so a
// caller can never sign a token with public material.
var acceptedOIDCAlgs = []string{"RS256", "ES256"}

// OIDCVerifier validates standard JWTs signed by a configured issuer.
// Signing keys come from the issuer's JWKS endpoint through a bounded,
// self-refreshing cache; a cold cache still produces correct results, it
// just pays the fetch.
type OIDCVerifier struct {
	issuer   string
	audience string
	leeway   time.Duration
	keys     keyfunc.Keyfunc
	logger   *slog.Logger
}

// NewOIDCVerifier builds a verifier for the given issuer and audience.
// The JWKS is fetched from <issuer>/.well-known/jwks.json and refreshed in
// the background; an unknown kid triggers a rate-limited refetch before the
// token is rejected.
func NewOIDCVerifier(ctx context.Context, issuer, audience string, leeway time.Duration) (*OIDCVerifier, error) {
	jwksURL := strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"

	keys, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("initializing JWKS client for %s: %w", jwksURL, err)
	}

	return &OIDCVerifier{
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
		keys:     keys,
		logger:   slog.Default().With("component", "auth.oidc"),
	}, nil
}

// Verify validates the token signature and claims and returns the caller's
// identity. The subject is issuer-qualified so the same sub under two
// issuers never collides.
func (v *OIDCVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	token, err := jwt.Parse(credential, v.keys.Keyfunc,
		jwt.WithValidMethods(acceptedOIDCAlgs),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, invalidCredential(err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: token not valid", ErrInvalidCredential)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidCredential)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidCredential)
	}

	id := &Identity{Subject: v.issuer + "|" + sub}
	fillValidityWindow(id, claims)
	return id, nil
}

// invalidCredential wraps a jwt parse error with ErrInvalidCredential and a
// stable sub-reason. The sub-reason is for local diagnostics only; callers
// of the HTTP surface see a generic 401.
func invalidCredential(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: expired: %v", ErrInvalidCredential, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: not yet valid: %v", ErrInvalidCredential, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: issuer mismatch: %v", ErrInvalidCredential, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: audience mismatch: %v", ErrInvalidCredential, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: bad signature: %v", ErrInvalidCredential, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
}

// fillValidityWindow copies iat/exp claims into the identity when present.
func fillValidityWindow(id *Identity, claims jwt.MapClaims) {
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		id.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
}
