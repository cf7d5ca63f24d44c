package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSigningSecret = "super-secret"
	testIssuer        = "intentions-auth"
	testAudience      = "intentions-api"
)

func newTestIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		SessionTTL:    30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func TestTokenIssuerIssuesSessionTokens(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, func() time.Time { return now })

	token, err := issuer.Issue("user-123", PurposeSession)
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if token.ExpiresIn(now) != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", token.ExpiresIn(now))
	}

	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithTimeFunc(func() time.Time { return now }))
	if _, err := parser.ParseWithClaims(token.Value, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSigningSecret), nil
	}); err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "user-123" || claims.Issuer != testIssuer || claims.Purpose != PurposeSession {
		t.Fatalf("unexpected claims %#v", claims)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != testAudience {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
	if claims.ID == "" {
		t.Fatalf("expected token id to be set")
	}
}

func TestTokenIssuerRejectsMissingSecret(t *testing.T) {
	_, err := NewTokenIssuer(TokenIssuerConfig{Issuer: testIssuer})
	if !errors.Is(err, ErrMissingSigningSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestTokenIssuerValidatesPurpose(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, func() time.Time { return now })

	resetToken, err := issuer.Issue("user-321", PurposeResetPassword)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if _, err := issuer.Validate(resetToken.Value, PurposeSession); !errors.Is(err, ErrTokenPurposeMismatch) {
		t.Fatalf("expected purpose mismatch, got %v", err)
	}
	claims, err := issuer.Validate(resetToken.Value, PurposeResetPassword)
	if err != nil {
		t.Fatalf("expected reset token to validate: %v", err)
	}
	if claims.Subject != "user-321" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
}

func TestTokenIssuerRejectsExpiredAndForeignTokens(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, func() time.Time { return now })
	token, err := issuer.Issue("user-1", PurposeSession)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	later := newTestIssuer(t, func() time.Time { return now.Add(2 * time.Hour) })
	if _, err := later.Validate(token.Value, PurposeSession); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}

	foreign, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("other-secret"),
		Issuer:        testIssuer,
		Audience:      testAudience,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, err := foreign.Validate(token.Value, PurposeSession); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestSessionValidatorReadsBearerAndCookie(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, func() time.Time { return now })
	validator, err := NewSessionValidator(issuer, "app_session")
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	token, err := issuer.Issue("user-123", PurposeSession)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	bearer := httptest.NewRequest(http.MethodGet, "/me", nil)
	bearer.Header.Set("Authorization", "Bearer "+token.Value)
	claims, err := validator.ValidateRequest(bearer)
	if err != nil {
		t.Fatalf("expected bearer validation to succeed: %v", err)
	}
	if claims.UserID != "user-123" {
		t.Fatalf("unexpected user id %s", claims.UserID)
	}

	cookie := httptest.NewRequest(http.MethodGet, "/me", nil)
	cookie.AddCookie(&http.Cookie{Name: "app_session", Value: token.Value})
	if _, err := validator.ValidateRequest(cookie); err != nil {
		t.Fatalf("expected cookie validation to succeed: %v", err)
	}

	missing := httptest.NewRequest(http.MethodGet, "/me", nil)
	if _, err := validator.ValidateRequest(missing); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestSessionValidatorRejectsRevokedTokens(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, func() time.Time { return now })
	validator, err := NewSessionValidator(issuer, "")
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	token, err := issuer.Issue("user-123", PurposeSession)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	claims, err := validator.ValidateToken(token.Value)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}

	validator.Revoke(claims)
	if _, err := validator.ValidateToken(token.Value); !errors.Is(err, ErrRevokedSessionToken) {
		t.Fatalf("expected revoked token error, got %v", err)
	}
}

func TestBcryptPasswordHasherVerifies(t *testing.T) {
	hasher := NewBcryptPasswordHasher(4)
	hash, err := hasher.Hash("secret1")
	if err != nil {
		t.Fatalf("unexpected hash error: %v", err)
	}
	if err := hasher.Verify("secret1", hash); err != nil {
		t.Fatalf("expected password to verify: %v", err)
	}
	if err := hasher.Verify("wrong", hash); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}
