// ABOUTME: Tests for did:key Ed25519 JWT verification
// ABOUTME: Covers round-trip encoding, signing, tampering, and subject mismatch

package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newDIDKeyIdentity(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating ed25519 key: %v", err)
	}
	return EncodeDIDKey(pub), priv
}

func signDIDKeyToken(t *testing.T, did string, priv ed25519.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	if claims == nil {
		now := time.Now()
		claims = jwt.MapClaims{
			"iss": did,
			"sub": did,
			"iat": now.Unix(),
			"exp": now.Add(time.Hour).Unix(),
		}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("signing did:key token: %v", err)
	}
	return signed
}

func TestDIDKey_RoundTrip(t *testing.T) {
	did, priv := newDIDKeyIdentity(t)

	pub, err := ResolveDIDKey(did)
	if err != nil {
		t.Fatalf("ResolveDIDKey() error = %v", err)
	}
	if !pub.Equal(priv.Public()) {
		t.Error("resolved key does not match the generated public key")
	}

	if !strings.HasPrefix(did, "did:key:z") {
		t.Errorf("did = %q, want did:key:z prefix", did)
	}
}

func TestDIDKeyVerifier_ValidToken(t *testing.T) {
	did, priv := newDIDKeyIdentity(t)
	verifier := NewDIDKeyVerifier(60 * time.Second)

	token := signDIDKeyToken(t, did, priv, nil)

	id, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.Subject != did {
		t.Errorf("Subject = %q, want %q", id.Subject, did)
	}
}

func TestDIDKeyVerifier_TamperedSignature(t *testing.T) {
	did, priv := newDIDKeyIdentity(t)
	verifier := NewDIDKeyVerifier(60 * time.Second)

	token := signDIDKeyToken(t, did, priv, nil)
	i := strings.LastIndex(token, ".") + 1
	mutated := byte('A')
	if token[i] == 'A' {
		mutated = 'B'
	}
	tampered := token[:i] + string(mutated) + token[i+1:]

	_, err := verifier.Verify(context.Background(), tampered)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("Verify() error = %v, want ErrInvalidCredential", err)
	}
}

func TestDIDKeyVerifier_WrongKey(t *testing.T) {
	did, _ := newDIDKeyIdentity(t)
	_, otherPriv := newDIDKeyIdentity(t)
	verifier := NewDIDKeyVerifier(60 * time.Second)

	// Token claims one DID but is signed with another key.
	token := signDIDKeyToken(t, did, otherPriv, nil)

	_, err := verifier.Verify(context.Background(), token)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("Verify() error = %v, want ErrInvalidCredential", err)
	}
}

func TestDIDKeyVerifier_SubMismatch(t *testing.T) {
	did, priv := newDIDKeyIdentity(t)
	otherDID, _ := newDIDKeyIdentity(t)
	verifier := NewDIDKeyVerifier(60 * time.Second)

	now := time.Now()
	token := signDIDKeyToken(t, did, priv, jwt.MapClaims{
		"iss": did,
		"sub": otherDID,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})

	_, err := verifier.Verify(context.Background(), token)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("Verify() error = %v, want ErrInvalidCredential for foreign sub", err)
	}
}

func TestDIDKeyVerifier_Expired(t *testing.T) {
	did, priv := newDIDKeyIdentity(t)
	verifier := NewDIDKeyVerifier(60 * time.Second)

	token := signDIDKeyToken(t, did, priv, jwt.MapClaims{
		"iss": did,
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := verifier.Verify(context.Background(), token)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("Verify() error = %v, want ErrInvalidCredential for expired token", err)
	}
}

func TestResolveDIDKey_Malformed(t *testing.T) {
	tests := []struct {
		name string
		did  string
	}{
		{name: "empty method id", did: "did:key:"},
		{name: "wrong multibase", did: "did:key:mAAAA"},
		{name: "not base58", did: "did:key:z0OIl"},
		{name: "wrong multicodec", did: "did:key:z2J9gaYxrKVpdoG9A4gRnmpnRCcxU6agDtFVVBVdn1JedouoZN7SzcyREXXzWgt3gGiwpoHq7K68X4m32D8HgzG8wv3sY5j7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ResolveDIDKey(tt.did); err == nil {
				t.Errorf("ResolveDIDKey(%q) should fail", tt.did)
			}
		})
	}
}
