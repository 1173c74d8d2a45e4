// ABOUTME: Tests for credential classification and multi-verifier routing
// ABOUTME: Covers format detection by structure and the error taxonomy

package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
)

// stubVerifier records the credentials routed to it.
type stubVerifier struct {
	called  bool
	subject string
}

func (s *stubVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	s.called = true
	return &Identity{Subject: s.subject}, nil
}

// unsignedJWT builds a structurally valid JWT with the given issuer claim.
// Signature content is irrelevant for classification.
func unsignedJWT(iss string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"iss":"` + iss + `"}`))
	return header + "." + payload + ".sig"
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		credential string
		want       Format
		wantErr    error
	}{
		{
			name:       "standard issuer routes to oidc",
			credential: unsignedJWT("https://tenant.auth0.com"),
			want:       FormatOIDC,
		},
		{
			name:       "did:key issuer",
			credential: unsignedJWT("did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK"),
			want:       FormatDIDKey,
		},
		{
			name:       "did:pkh issuer",
			credential: unsignedJWT("did:pkh:eip155:1:0xb9c5714089478a327f09197987f16f9e5d936e8a"),
			want:       FormatDIDPKH,
		},
		{
			name:       "empty credential",
			credential: "",
			wantErr:    ErrMissingCredential,
		},
		{
			name:       "not a jwt",
			credential: "sk-this-is-an-api-key",
			wantErr:    ErrUnsupportedFormat,
		},
		{
			name:       "two segments",
			credential: "aaaa.bbbb",
			wantErr:    ErrUnsupportedFormat,
		},
		{
			name:       "garbage payload",
			credential: "aaaa.!!!.cccc",
			wantErr:    ErrUnsupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.credential)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Classify() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMultiVerifier_Routing(t *testing.T) {
	oidc := &stubVerifier{subject: "oidc"}
	didKey := &stubVerifier{subject: "did-key"}
	didPKH := &stubVerifier{subject: "did-pkh"}
	mv := NewMultiVerifier(oidc, didKey, didPKH)

	tests := []struct {
		name       string
		credential string
		want       *stubVerifier
	}{
		{name: "oidc", credential: unsignedJWT("https://issuer.example.com"), want: oidc},
		{name: "did key", credential: unsignedJWT("did:key:zAbc"), want: didKey},
		{name: "did pkh", credential: unsignedJWT("did:pkh:eip155:1:0xabc"), want: didPKH},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oidc.called, didKey.called, didPKH.called = false, false, false

			id, err := mv.Verify(context.Background(), tt.credential)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if !tt.want.called {
				t.Error("expected verifier was not invoked")
			}
			if id.Subject != tt.want.subject {
				t.Errorf("Subject = %q, want %q", id.Subject, tt.want.subject)
			}
		})
	}
}

func TestMultiVerifier_MissingCredential(t *testing.T) {
	mv := NewMultiVerifier(&stubVerifier{}, &stubVerifier{}, &stubVerifier{})

	_, err := mv.Verify(context.Background(), "")
	if !errors.Is(err, ErrMissingCredential) {
		t.Errorf("Verify() error = %v, want ErrMissingCredential", err)
	}
}
