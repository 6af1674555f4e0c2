package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func sign(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func testAuth(t *testing.T, secret string) *Auth {
	t.Helper()
	t.Setenv(envLocalAuthMode, "hs256")
	t.Setenv(envLocalAuthSecret, secret)
	a, err := NewAuth(nil, "api://aud", "https://issuer/")
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	return a
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-123",
		"name":  "Ann",
		"email": "ann@example.com",
		"aud":   "api://aud",
		"iss":   "https://issuer/",
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
		"iat":   time.Now().Add(-time.Minute).Unix(),
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]error{
		"":            errMissingAuthorization,
		"   ":         errMissingAuthorization,
		"Bearer":      errBadAuthorization,
		"Basic a.b.c": errBadAuthorization,
	}
	cases["Bearer "+strings.Repeat(".", 1000)] = errBadAuthorization
	for raw, want := range cases {
		if _, err := bearerToken(raw); err != want {
			t.Fatalf("bearerToken(%q) = %v, want %v", raw, err, want)
		}
	}
	token, err := bearerToken("  Bearer header.payload.signature ")
	if err != nil || token != "header.payload.signature" {
		t.Fatalf("unexpected token %q %v", token, err)
	}
}

func TestIdentityFromHS256Token(t *testing.T) {
	a := testAuth(t, "test-secret")
	id, err := a.IdentityFromAuthHeader("Bearer " + sign(t, []byte("test-secret"), validClaims()))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if id.UserID != "user-123" || id.Name != "Ann" || id.Email != "ann@example.com" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestIdentityFallsBackToNickname(t *testing.T) {
	a := testAuth(t, "s")
	claims := validClaims()
	delete(claims, "name")
	claims["nickname"] = "annie"
	id, err := a.IdentityFromToken(sign(t, []byte("s"), claims))
	if err != nil || id.Name != "annie" {
		t.Fatalf("unexpected identity %+v %v", id, err)
	}
}

func TestIdentityRejectsBadTokens(t *testing.T) {
	a := testAuth(t, "test-secret")
	mutate := map[string]func(jwt.MapClaims){
		"expired":      func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() },
		"no exp":       func(c jwt.MapClaims) { delete(c, "exp") },
		"wrong aud":    func(c jwt.MapClaims) { c["aud"] = "api://other" },
		"wrong issuer": func(c jwt.MapClaims) { c["iss"] = "https://evil/" },
		"no subject":   func(c jwt.MapClaims) { delete(c, "sub") },
	}
	for name, fn := range mutate {
		t.Run(name, func(t *testing.T) {
			claims := validClaims()
			fn(claims)
			if _, err := a.IdentityFromToken(sign(t, []byte("test-secret"), claims)); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
	if _, err := a.IdentityFromToken(sign(t, []byte("other-secret"), validClaims())); err == nil {
		t.Fatalf("expected signature mismatch to be rejected")
	}
}

func TestNewAuthConfigErrors(t *testing.T) {
	t.Setenv(envLocalAuthMode, "hs256")
	t.Setenv(envLocalAuthSecret, "")
	if _, err := NewAuth(nil, "", ""); err == nil {
		t.Fatalf("expected missing secret error")
	}
	t.Setenv(envLocalAuthMode, "magic")
	if _, err := NewAuth(nil, "", ""); err == nil {
		t.Fatalf("expected unsupported mode error")
	}
	t.Setenv(envLocalAuthMode, "")
	t.Setenv(envJWKSCacheTTL, "-1s")
	if _, err := NewAuth(nil, "", ""); err == nil {
		t.Fatalf("expected invalid ttl error")
	}
}

func TestRS256WithoutJWKSFails(t *testing.T) {
	t.Setenv(envLocalAuthMode, "")
	t.Setenv(envAuth0TestMode, "")
	a, err := NewAuth(nil, "", "")
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	if _, err := a.IdentityFromToken(sign(t, []byte("x"), validClaims())); err == nil {
		t.Fatalf("HS256 token must be rejected in RS256 mode")
	}
}
