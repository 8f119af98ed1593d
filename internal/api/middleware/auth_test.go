// Tests for the auth middleware in both stub and token modes.
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/preflightlabs/preflight/internal/api/ctxkeys"
	pkgauth "github.com/preflightlabs/preflight/pkg/auth"
)

var testSigningSecret = []byte("middleware-test-secret")

// echoUserHandler writes the context user id into the response body.
func echoUserHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ctxkeys.Value(r.Context(), ctxkeys.UserID))) //nolint:errcheck
	})
}

// ============================================================================
// Stub mode
// ============================================================================

func TestAuth_StubMode_HeaderIdentity(t *testing.T) {
	t.Parallel()

	handler := Auth(AuthModeStub, nil)(echoUserHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Id", "user-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	if rec.Body.String() != "user-7" {
		t.Errorf("user id = %q; want user-7", rec.Body.String())
	}
}

func TestAuth_StubMode_AnonymousDefault(t *testing.T) {
	t.Parallel()

	handler := Auth(AuthModeStub, nil)(echoUserHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Body.String() != anonymousUser {
		t.Errorf("user id = %q; want %q", rec.Body.String(), anonymousUser)
	}
}

// ============================================================================
// Token mode
// ============================================================================

func TestAuth_TokenMode_ValidToken(t *testing.T) {
	t.Parallel()

	token, err := pkgauth.GenerateJWT(testSigningSecret, "user-42", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT error = %v", err)
	}

	handler := Auth(AuthModeToken, testSigningSecret)(echoUserHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	if rec.Body.String() != "user-42" {
		t.Errorf("user id = %q; want user-42", rec.Body.String())
	}
}

func TestAuth_TokenMode_Rejections(t *testing.T) {
	t.Parallel()

	expired, err := pkgauth.GenerateJWT(testSigningSecret, "user-1", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT error = %v", err)
	}
	wrongSecret, err := pkgauth.GenerateJWT([]byte("other-secret"), "user-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT error = %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not-a-jwt"},
		{"expired token", "Bearer " + expired},
		{"wrong secret", "Bearer " + wrongSecret},
	}

	handler := Auth(AuthModeToken, testSigningSecret)(echoUserHandler())
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d; want 401", tt.name, rec.Code)
		}
	}
}

func TestAuth_UnknownModeDefaultsToToken(t *testing.T) {
	t.Parallel()

	handler := Auth("banana", testSigningSecret)(echoUserHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Id", "user-7") // stub header must be ignored
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d; want 401 (unknown mode must not fall open)", rec.Code)
	}
}
