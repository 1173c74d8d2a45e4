// Package auth verifies bearer credentials and derives the per-request identity
// for attach-gateway.
//
// # Credential Formats
//
// Three formats are accepted, classified by structure alone (no caller-supplied
// type hint):
//
//   - Standard OIDC JWTs: verified against the configured issuer's JWKS
//     (RS256/ES256 only), with issuer, audience, and validity-window checks.
//     The canonical subject is issuer-qualified: "<issuer>|<sub>".
//
//   - did:key JWTs: self-issued EdDSA tokens whose Ed25519 verification key is
//     decoded from the identifier itself. The subject is the DID string.
//
//   - did:pkh JWTs (eip155): ES256K tokens verified by signature recovery; the
//     recovered key's keccak-derived account address must equal the address in
//     the DID. The subject is the DID string.
//
// # Identity Context
//
// Successful verification produces an immutable Identity carried through the
// request via WithIdentity/FromContext. It is rebuilt on every request; there
// is no cross-request identity cache.
//
// # Middleware
//
// Middleware() wires the full inbound sequence: strip the spoofable
// X-Attach-* headers, extract the bearer token, verify, bind the session id,
// and attach the Identity. All verification failures collapse to a generic
// 401; sub-reasons (expired, bad signature, issuer/audience mismatch) are
// logged locally and never echoed to the caller.
package auth
