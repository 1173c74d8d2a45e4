// ABOUTME: HTTP middleware for credential verification and session binding
// ABOUTME: Strips spoofable trust headers, verifies the bearer, and attaches Identity

package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/attach-dev/attach-gateway/internal/session"
)

// Trusted header names injected toward downstream services. These are a
// deployment-fixed contract: downstream consumers trust exactly these names
// and nothing else, and the gateway is their only producer.
const (
	HeaderUser    = "X-Attach-User"
	HeaderSession = "X-Attach-Session"
	HeaderTask    = "X-Attach-Task"
)

// TrustedHeaders lists every header the gateway owns on the downstream leg.
var TrustedHeaders = []string{HeaderUser, HeaderSession, HeaderTask}

// StripTrustedHeaders removes any caller-supplied values for the trusted
// header names. Called before verification output exists, so nothing the
// caller sent can survive into the downstream contract.
func StripTrustedHeaders(h http.Header) {
	for _, name := range TrustedHeaders {
		h.Del(name)
	}
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// unauthorized writes the generic 401 response. Verification sub-reasons
// never reach the caller; they are logged by the middleware instead.
func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"detail":"unauthorized"}`))
}

// Middleware verifies the bearer credential on every protected request,
// binds the session id, and attaches the Identity to the request context.
// Paths in publicPaths bypass verification but still have their trusted
// headers stripped.
func Middleware(verifier Verifier, publicPaths []string) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}
	logger := slog.Default().With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Inbound trusted headers are always attacker-controlled.
			StripTrustedHeaders(r.Header)

			if public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				logger.Debug("rejecting request", "reason", errMsg, "path", r.URL.Path)
				unauthorized(w)
				return
			}

			id, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger.Debug("credential verification failed", "reason", err, "path", r.URL.Path)
				unauthorized(w)
				return
			}

			sid, err := session.Bind(id.Subject, normalizeClientContext(r.UserAgent()))
			if err != nil {
				logger.Debug("session binding failed", "reason", err)
				unauthorized(w)
				return
			}
			id.SessionID = sid

			// Callers see only the truncated correlation id.
			w.Header().Set(HeaderSession, session.Truncate(sid))

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// normalizeClientContext reduces the User-Agent to a stable form. Anything
// per-request (timestamps, nonces) must never end up here or session ids
// would stop being stable across a user's requests.
func normalizeClientContext(userAgent string) string {
	return strings.TrimSpace(userAgent)
}
