package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Login: "artist",
	}
}

func TestAuthJWT(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	testCases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, validClaims()), http.StatusOK},
		{"lowercase scheme", "bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, validClaims()), http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims()), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, expired), http.StatusUnauthorized},
		{"unsigned", "Bearer " + signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims()), http.StatusUnauthorized},
		{"garbage", "Bearer not-a-token", http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var login string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if claims, ok := ClaimsFromContext(r.Context()); ok {
					login = claims.Login
				}
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/api/documents", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			AuthJWT(testSecret)(next).ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, tc.want)
			}
			if tc.want == http.StatusOK {
				if login != "artist" {
					t.Errorf("Claims login = %q, want artist", login)
				}
				return
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode error body: %v", err)
			}
			if body["error"] == "" {
				t.Error("Expected an error message")
			}
		})
	}
}

func TestAuthJWT_NoSecretPassesThrough(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := ClaimsFromContext(r.Context()); ok {
			t.Error("No claims expected without a secret")
		}
	})

	rec := httptest.NewRecorder()
	AuthJWT(nil)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if !called {
		t.Error("Request should reach the handler when no secret is configured")
	}
}

func TestParseJWT(t *testing.T) {
	claims, err := ParseJWT(testSecret, signToken(t, jwt.SigningMethodHS512, testSecret, validClaims()))
	if err != nil {
		t.Fatalf("ParseJWT() failed: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", claims.Subject)
	}
}
