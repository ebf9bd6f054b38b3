// Package middleware holds the coordinator's HTTP middleware chain.
package middleware

import (
	"net/http"
)

// SharedSecretHeader is the header agents present their shared secret in.
const SharedSecretHeader = "X-EdgeMesh-Secret"

// RequireSharedSecret enforces a single operator-configured shared secret on
// every request, grounded on api/auth.py's require_agent_secret: when
// expected is empty, auth is a no-op (useful for local development), and
// otherwise the header must match exactly.
func RequireSharedSecret(expected string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if expected == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get(SharedSecretHeader) != expected {
			http.Error(w, "invalid or missing shared secret", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
