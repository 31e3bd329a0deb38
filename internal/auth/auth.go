// Package auth provides the bearer API key middleware fetchmux's HTTP
// server wraps its Chi/Huma routes in.
//
// Adapted from the teacher's internal/auth/auth.go: same bearer-token
// check and health/openapi bypass list, but the key comparison is now
// constant-time and the per-request context value uses an unexported key
// type instead of a bare string, so it can't collide with a context value
// set by another package's middleware.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey int

const clientKeyContextKey contextKey = iota

// exemptPaths never require a bearer token: health checks and the OpenAPI
// document need to be reachable by monitoring and API-client tooling that
// hasn't authenticated yet.
var exemptPaths = map[string]bool{
	"/health":       true,
	"/openapi.yaml": true,
	"/openapi.json": true,
}

// APIKeyAuth validates the Authorization header against a single
// configured key. The server only installs it when auth is enabled and
// cfg.APIKey is non-empty; with an empty key it still rejects a request
// that carries no Authorization header.
type APIKeyAuth struct {
	APIKey string
}

// NewAPIKeyAuth builds an APIKeyAuth checking requests against apiKey.
func NewAPIKeyAuth(apiKey string) *APIKeyAuth {
	return &APIKeyAuth{APIKey: apiKey}
}

// Middleware returns an http.Handler wrapper that rejects requests missing
// a valid "Authorization: Bearer <key>" header, except for exemptPaths.
func (a *APIKeyAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			clientKey := strings.TrimPrefix(authHeader, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(clientKey), []byte(a.APIKey)) != 1 {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), clientKeyContextKey, clientKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HumaMiddleware adapts Middleware for Huma's chi-based router, which
// consumes the same net/http middleware signature.
func (a *APIKeyAuth) HumaMiddleware() func(http.Handler) http.Handler {
	return a.Middleware()
}

// ClientKeyFromContext returns the bearer key that authenticated the
// current request, for handlers that want to attribute a StatusRequest or
// OwnRequest to its caller.
func ClientKeyFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(clientKeyContextKey).(string)
	return v, ok
}
