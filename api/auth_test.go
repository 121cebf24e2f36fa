package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://tasks",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "ok", header: "Bearer header.payload.signature", want: "header.payload.signature"},
		{name: "padded", header: "  Bearer a.b.c  ", want: "a.b.c"},
		{name: "missing", header: "", wantErr: errMissingAuthorization},
		{name: "blank", header: "   ", wantErr: errMissingAuthorization},
		{name: "basic", header: "Basic dXNlcjpwYXNz", wantErr: errBadAuthorization},
		{name: "no token", header: "Bearer ", wantErr: errBadAuthorization},
		{name: "many periods", header: "Bearer " + strings.Repeat(".", 1000), wantErr: errBadAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bearerToken(tt.header)
			if err != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Fatalf("unexpected token: %q", got)
			}
		})
	}
}

func TestLocalAuthAcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewLocalAuth(secret, "api://tasks", "https://issuer/")

	sub, err := auth.SubjectFromAuthHeader("Bearer " + signHS256(t, secret, validClaims()))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if sub != "user-123" {
		t.Fatalf("unexpected subject: %s", sub)
	}
}

func TestLocalAuthRejects(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewLocalAuth(secret, "api://tasks", "https://issuer/")

	expired := validClaims()
	expired["exp"] = time.Now().Add(-5 * time.Minute).Unix()
	wrongAudience := validClaims()
	wrongAudience["aud"] = "api://other"
	noSubject := validClaims()
	delete(noSubject, "sub")

	tests := map[string]string{
		"expired":        signHS256(t, secret, expired),
		"wrong audience": signHS256(t, secret, wrongAudience),
		"missing sub":    signHS256(t, secret, noSubject),
		"wrong secret":   signHS256(t, []byte("other"), validClaims()),
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := auth.SubjectFromBearer(token); err == nil {
				t.Fatalf("expected token to be rejected")
			}
		})
	}
}

func TestRemoteAuthWithoutJWKSFails(t *testing.T) {
	auth := NewAuth(nil, "", "", 0)
	token := signHS256(t, []byte("x"), validClaims())
	if _, err := auth.SubjectFromBearer(token); err == nil {
		t.Fatalf("expected HS256 token to be rejected by RS256 verifier")
	}
}
