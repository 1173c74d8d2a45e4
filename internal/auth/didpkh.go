// ABOUTME: did:pkh (eip155) JWT verification via secp256k1 signature recovery
// ABOUTME: Recovers the signing key from the ES256K signature and matches the DID's address

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/sha3"
)

// DIDPKHVerifier validates JWTs issued by did:pkh:eip155 identifiers.
// The DID names a blockchain account address rather than a key, so the
// signature is verified by recovery: the public key is recovered from the
// ES256K signature and its keccak-derived address must equal the DID's.
type DIDPKHVerifier struct {
	leeway time.Duration
}

// NewDIDPKHVerifier creates a did:pkh verifier with the given clock-skew allowance.
func NewDIDPKHVerifier(leeway time.Duration) *DIDPKHVerifier {
	return &DIDPKHVerifier{leeway: leeway}
}

// Verify checks the ES256K signature against the address in the issuer DID
// and validates the claim window. The canonical subject is the DID string.
func (v *DIDPKHVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	parts := strings.Split(credential, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 JWT segments", ErrUnsupportedFormat)
	}

	if err := requireES256K(parts[0]); err != nil {
		return nil, err
	}

	claims, err := decodeMapClaims(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	did, _ := claims["iss"].(string)
	address, err := parseEIP155Address(did)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad signature: decoding signature segment: %v", ErrInvalidCredential, err)
	}

	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if !recoverMatchesAddress(sig, digest[:], address) {
		return nil, fmt.Errorf("%w: bad signature: no recovered key matches %s", ErrInvalidCredential, address)
	}

	validator := jwt.NewValidator(jwt.WithLeeway(v.leeway))
	if err := validator.Validate(claims); err != nil {
		return nil, invalidCredential(err)
	}

	// did:pkh tokens are self-issued: a sub claim, if present, must name the
	// same DID so a holder cannot assert someone else's identifier.
	if sub, _ := claims["sub"].(string); sub != "" && sub != did {
		return nil, fmt.Errorf("%w: sub %q does not match issuer DID", ErrInvalidCredential, sub)
	}

	id := &Identity{Subject: did}
	fillValidityWindow(id, claims)
	return id, nil
}

// requireES256K checks the JOSE header names the one algorithm this path accepts.
func requireES256K(headerSegment string) error {
	raw, err := base64.RawURLEncoding.DecodeString(headerSegment)
	if err != nil {
		return fmt.Errorf("%w: decoding header segment: %v", ErrInvalidCredential, err)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return fmt.Errorf("%w: parsing header segment: %v", ErrInvalidCredential, err)
	}
	if header.Alg != "ES256K" {
		return fmt.Errorf("%w: alg %q not allowed for did:pkh", ErrInvalidCredential, header.Alg)
	}
	return nil
}

// decodeMapClaims decodes a claims segment into jwt.MapClaims for validation.
func decodeMapClaims(claimsSegment string) (jwt.MapClaims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(claimsSegment)
	if err != nil {
		return nil, fmt.Errorf("decoding claims segment: %w", err)
	}
	var claims jwt.MapClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("parsing claims segment: %w", err)
	}
	return claims, nil
}

// parseEIP155Address extracts the lowercase account address from a
// did:pkh:eip155:<chain>:<0xaddress> identifier.
func parseEIP155Address(did string) (string, error) {
	if !strings.HasPrefix(did, didPKHPrefix) {
		return "", fmt.Errorf("issuer %q is not a did:pkh identifier", did)
	}
	segments := strings.Split(did[len(didPKHPrefix):], ":")
	if len(segments) != 3 || segments[0] != "eip155" {
		return "", fmt.Errorf("unsupported did:pkh method %q", did)
	}
	address := strings.ToLower(segments[2])
	if len(address) != 42 || !strings.HasPrefix(address, "0x") {
		return "", fmt.Errorf("malformed eip155 address %q", segments[2])
	}
	return address, nil
}

// recoverMatchesAddress tries the possible recovery codes for a 64-byte
// r||s signature (or uses the embedded code of a 65-byte one) and reports
// whether any recovered public key hashes to the expected address.
func recoverMatchesAddress(sig, digest []byte, address string) bool {
	var candidates [][]byte

	switch len(sig) {
	case 64:
		for rec := byte(0); rec < 4; rec++ {
			compact := make([]byte, 65)
			compact[0] = 27 + rec
			copy(compact[1:], sig)
			candidates = append(candidates, compact)
		}
	case 65:
		// Recovery id trails the signature (r||s||v); RecoverCompact wants it first.
		v := sig[64]
		if v < 27 {
			v += 27
		}
		compact := make([]byte, 65)
		compact[0] = v
		copy(compact[1:], sig[:64])
		candidates = append(candidates, compact)
	default:
		return false
	}

	for _, compact := range candidates {
		pub, _, err := secpecdsa.RecoverCompact(compact, digest)
		if err != nil {
			continue
		}
		if accountAddress(pub.SerializeUncompressed()) == address {
			return true
		}
	}
	return false
}

// accountAddress derives the lowercase 0x-prefixed eip155 account address
// from an uncompressed secp256k1 public key.
func accountAddress(uncompressed []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressed[1:]) // drop the 0x04 point prefix
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}
