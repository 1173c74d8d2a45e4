// ABOUTME: did:key JWT verification with Ed25519 keys resolved from the identifier
// ABOUTME: The DID itself carries the public key; there is no central issuer

package auth

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
)

// multicodec prefix for an Ed25519 public key (0xed as a varint, then 0x01).
var ed25519Multicodec = []byte{0xed, 0x01}

// DIDKeyVerifier validates self-issued JWTs whose issuer is a did:key
// identifier. Resolution is purely local: the verification key is decoded
// from the DID's multibase segment.
type DIDKeyVerifier struct {
	leeway time.Duration
}

// NewDIDKeyVerifier creates a did:key verifier with the given clock-skew allowance.
func NewDIDKeyVerifier(leeway time.Duration) *DIDKeyVerifier {
	return &DIDKeyVerifier{leeway: leeway}
}

// Verify checks the EdDSA signature against the key embedded in the issuer
// DID and validates the claim window. The canonical subject is the DID string.
func (v *DIDKeyVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	var did string

	token, err := jwt.Parse(credential, func(t *jwt.Token) (any, error) {
		claims, ok := t.Claims.(jwt.MapClaims)
		if !ok {
			return nil, fmt.Errorf("unexpected claims type")
		}
		iss, err := claims.GetIssuer()
		if err != nil || iss == "" {
			return nil, fmt.Errorf("missing iss claim")
		}
		did = iss
		return ResolveDIDKey(iss)
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, invalidCredential(err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: token not valid", ErrInvalidCredential)
	}

	claims := token.Claims.(jwt.MapClaims)

	// did:key tokens are self-issued: a sub claim, if present, must name the
	// same DID so a holder cannot assert someone else's identifier.
	if sub, _ := claims["sub"].(string); sub != "" && sub != did {
		return nil, fmt.Errorf("%w: sub %q does not match issuer DID", ErrInvalidCredential, sub)
	}

	id := &Identity{Subject: did}
	fillValidityWindow(id, claims)
	return id, nil
}

// ResolveDIDKey decodes the Ed25519 public key embedded in a did:key
// identifier. Only the base58btc multibase ("z" prefix) with the Ed25519
// multicodec is supported.
func ResolveDIDKey(did string) (ed25519.PublicKey, error) {
	if len(did) <= len(didKeyPrefix) {
		return nil, fmt.Errorf("malformed did:key %q", did)
	}
	encoded := did[len(didKeyPrefix):]

	if encoded[0] != 'z' {
		return nil, fmt.Errorf("unsupported multibase prefix %q in %q", encoded[0], did)
	}

	decoded, err := base58.Decode(encoded[1:])
	if err != nil {
		return nil, fmt.Errorf("decoding did:key multibase: %w", err)
	}

	if len(decoded) != len(ed25519Multicodec)+ed25519.PublicKeySize ||
		decoded[0] != ed25519Multicodec[0] || decoded[1] != ed25519Multicodec[1] {
		return nil, fmt.Errorf("did:key %q does not carry an Ed25519 key", did)
	}

	return ed25519.PublicKey(decoded[len(ed25519Multicodec):]), nil
}

// EncodeDIDKey builds the did:key identifier for an Ed25519 public key.
// Used by tests and by callers minting their own decentralized identities.
func EncodeDIDKey(pub ed25519.PublicKey) string {
	raw := make([]byte, 0, len(ed25519Multicodec)+len(pub))
	raw = append(raw, ed25519Multicodec...)
	raw = append(raw, pub...)
	return didKeyPrefix + "z" + base58.Encode(raw)
}
