// Auth middleware. Two modes: "stub" trusts an X-User-Id header for local
// development and trusted-proxy deployments, "token" validates a Bearer JWT.
// Both inject the user id into the request context under ctxkeys.UserID.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/preflightlabs/preflight/internal/api/ctxkeys"
	pkgauth "github.com/preflightlabs/preflight/pkg/auth"
)

// AuthModeStub and AuthModeToken are the accepted AUTH_MODE values.
const (
	AuthModeStub  = "stub"
	AuthModeToken = "token"
)

// anonymousUser is the identity assigned in stub mode when no header is sent.
const anonymousUser = "anonymous"

// Auth returns the middleware for the configured mode. Unknown modes fall
// back to token validation, the stricter choice.
func Auth(mode string, signingSecret []byte) func(http.Handler) http.Handler {
	if mode == AuthModeStub {
		return stubAuth
	}
	return func(next http.Handler) http.Handler {
		return tokenAuth(next, signingSecret)
	}
}

// stubAuth reads X-User-Id and defaults to anonymousUser.
func stubAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if userID == "" {
			userID = anonymousUser
		}
		ctx := ctxkeys.WithValue(r.Context(), ctxkeys.UserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tokenAuth validates "Authorization: Bearer <token>" and injects the claims.
func tokenAuth(next http.Handler, signingSecret []byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearerToken(r)
		if tokenString == "" {
			writeUnauthorized(w, "missing or invalid Authorization header")
			return
		}

		claims, err := pkgauth.ParseJWT(signingSecret, tokenString)
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := ctxkeys.WithValue(r.Context(), ctxkeys.UserID, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
// Returns empty string if the header is missing, wrong scheme, or empty.
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	// Must start with "Bearer " (case-sensitive per RFC 7235)
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}

	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// writeUnauthorized writes a 401 JSON response.
// Uses a consistent format with writeError in the handlers package.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}
