package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"testing/iotest"

	"github.com/MarcoPoloResearchLab/intentions/internal/auth"
	"github.com/MarcoPoloResearchLab/intentions/internal/users"
)

type sessionPayload struct {
	AccessToken string        `json:"access_token"`
	ExpiresIn   int64         `json:"expires_in"`
	TokenType   string        `json:"token_type"`
	User        users.Profile `json:"user"`
}

type profilePayload struct {
	User users.Profile `json:"user"`
}

func TestSignUpVerifySignInAndSignOut(t *testing.T) {
	server := newTestServer(t)

	signUp := server.do(t, http.MethodPost, "/auth/signup", "", map[string]any{
		"firstName": "Ada",
		"surname":   "Lovelace",
		"email":     "ada@example.com",
		"password":  "secret1",
	})
	expectStatus(t, signUp, http.StatusCreated)
	if profile := decodeBody[profilePayload](t, signUp).User; profile.EmailVerified || profile.SubscriptionStatus != users.StatusBasic {
		t.Fatalf("unexpected new profile %#v", profile)
	}

	expectStatus(t, server.do(t, http.MethodPost, "/auth/signup", "", map[string]any{
		"firstName": "Ada",
		"surname":   "Lovelace",
		"email":     "ada@example.com",
		"password":  "secret1",
	}), http.StatusConflict)

	credentials := map[string]any{"email": "ada@example.com", "password": "secret1"}
	unverified := server.do(t, http.MethodPost, "/auth/signin", "", credentials)
	expectStatus(t, unverified, http.StatusForbidden)
	if payload := decodeBody[errorPayload](t, unverified); payload.Error != "email_not_verified" {
		t.Fatalf("unexpected payload %#v", payload)
	}

	verified := server.do(t, http.MethodPost, "/auth/verify-email", "", map[string]any{
		"token": server.mailer.lastVerification(t),
	})
	expectStatus(t, verified, http.StatusOK)
	if !decodeBody[profilePayload](t, verified).User.EmailVerified {
		t.Fatalf("expected verified profile")
	}

	wrongPassword := server.do(t, http.MethodPost, "/auth/signin", "", map[string]any{"email": "ada@example.com", "password": "nope-nope"})
	expectStatus(t, wrongPassword, http.StatusUnauthorized)

	signIn := server.do(t, http.MethodPost, "/auth/signin", "", credentials)
	expectStatus(t, signIn, http.StatusOK)
	session := decodeBody[sessionPayload](t, signIn)
	if session.AccessToken == "" || session.TokenType != "Bearer" || session.ExpiresIn <= 0 {
		t.Fatalf("unexpected session %#v", session)
	}
	if session.User.Email != "ada@example.com" {
		t.Fatalf("unexpected session user %#v", session.User)
	}

	me := server.do(t, http.MethodGet, "/me", session.AccessToken, nil)
	expectStatus(t, me, http.StatusOK)
	if profile := decodeBody[profilePayload](t, me).User; profile.ID != session.User.ID {
		t.Fatalf("unexpected current user %#v", profile)
	}

	expectStatus(t, server.do(t, http.MethodPost, "/auth/signout", session.AccessToken, nil), http.StatusNoContent)
	expectStatus(t, server.do(t, http.MethodGet, "/me", session.AccessToken, nil), http.StatusUnauthorized)
}

func TestSignUpValidationFailure(t *testing.T) {
	server := newTestServer(t)

	recorder := server.do(t, http.MethodPost, "/auth/signup", "", map[string]any{
		"firstName": "Ada",
		"surname":   "",
		"email":     "ada@example.com",
		"password":  "123",
	})
	expectStatus(t, recorder, http.StatusBadRequest)
	payload := decodeBody[errorPayload](t, recorder)
	if payload.Error != "validation_failed" || len(payload.Fields) < 2 {
		t.Fatalf("expected surname and password failures, got %#v", payload)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	server := newTestServer(t)
	server.signedInAccount(t, "user-reset")

	expectStatus(t, server.do(t, http.MethodPost, "/auth/password-reset", "", map[string]any{
		"email": "nobody@example.com",
	}), http.StatusAccepted)
	expectStatus(t, server.do(t, http.MethodPost, "/auth/password-reset", "", map[string]any{
		"email": "user-reset@example.com",
	}), http.StatusAccepted)

	resetToken := server.mailer.lastReset(t)
	expectStatus(t, server.do(t, http.MethodPost, "/auth/password-reset/confirm", "", map[string]any{
		"token": resetToken, "password": "short",
	}), http.StatusBadRequest)
	expectStatus(t, server.do(t, http.MethodPost, "/auth/password-reset/confirm", "", map[string]any{
		"token": resetToken, "password": "a-new-secret",
	}), http.StatusNoContent)

	signIn := server.do(t, http.MethodPost, "/auth/signin", "", map[string]any{
		"email": "user-reset@example.com", "password": "a-new-secret",
	})
	expectStatus(t, signIn, http.StatusOK)

	session := decodeBody[sessionPayload](t, signIn)
	invalid := server.do(t, http.MethodPost, "/auth/password-reset/confirm", "", map[string]any{
		"token": session.AccessToken, "password": "another-secret",
	})
	expectStatus(t, invalid, http.StatusBadRequest)
	if payload := decodeBody[errorPayload](t, invalid); payload.Error != "invalid_token" {
		t.Fatalf("expected session token to be refused for reset, got %#v", payload)
	}
}

func TestProfileFavouritesAndSubscription(t *testing.T) {
	server := newTestServer(t)
	token := server.signedInAccount(t, "user-profile")

	updated := server.do(t, http.MethodPatch, "/me", token, map[string]any{"firstName": "Augusta", "mailingList": true})
	expectStatus(t, updated, http.StatusOK)
	if profile := decodeBody[profilePayload](t, updated).User; profile.FirstName != "Augusta" || !profile.MailingList {
		t.Fatalf("unexpected updated profile %#v", profile)
	}

	favourites := server.do(t, http.MethodPost, "/me/favourites", token, map[string]any{"exerciseType": "Running"})
	expectStatus(t, favourites, http.StatusOK)
	if payload := decodeBody[struct {
		Favourites []string `json:"favourites"`
	}](t, favourites); len(payload.Favourites) != 1 || payload.Favourites[0] != "Running" {
		t.Fatalf("unexpected favourites %#v", payload)
	}

	subscription := server.do(t, http.MethodGet, "/subscription", token, nil)
	expectStatus(t, subscription, http.StatusOK)
	if payload := decodeBody[struct {
		Tier string `json:"tier"`
	}](t, subscription); payload.Tier != "basic" {
		t.Fatalf("expected basic tier, got %#v", payload)
	}

	recorded := server.do(t, http.MethodPost, "/subscription/entitlements", token, map[string]any{
		"productIds": []string{"premium_subscription"},
	})
	expectStatus(t, recorded, http.StatusOK)
	if payload := decodeBody[struct {
		Tier string `json:"tier"`
	}](t, recorded); payload.Tier != "premium" {
		t.Fatalf("expected premium tier, got %#v", payload)
	}
}

type stubIdentityVerifier struct {
	claims auth.IdentityClaims
	err    error
}

func (s stubIdentityVerifier) Verify(context.Context, string, string) (auth.IdentityClaims, error) {
	return s.claims, s.err
}

func TestExternalSignInSpendsNonce(t *testing.T) {
	server := newTestServer(t, func(deps *Dependencies) {
		deps.Identity = stubIdentityVerifier{claims: auth.IdentityClaims{
			Issuer:        "https://appleid.apple.com",
			Subject:       "apple-subject",
			Email:         "external@example.com",
			EmailVerified: true,
		}}
	})

	issued := server.do(t, http.MethodPost, "/auth/nonce", "", nil)
	expectStatus(t, issued, http.StatusOK)
	nonce := decodeBody[struct {
		Nonce string `json:"nonce"`
	}](t, issued).Nonce
	if len(nonce) != 32 {
		t.Fatalf("expected 32 character nonce, got %q", nonce)
	}

	body := map[string]any{"id_token": "provider-token", "nonce": nonce}
	signIn := server.do(t, http.MethodPost, "/auth/external", "", body)
	expectStatus(t, signIn, http.StatusOK)
	session := decodeBody[sessionPayload](t, signIn)
	if session.AccessToken == "" || session.User.Email != "external@example.com" || !session.User.EmailVerified {
		t.Fatalf("unexpected external session %#v", session)
	}

	replay := server.do(t, http.MethodPost, "/auth/external", "", body)
	expectStatus(t, replay, http.StatusUnauthorized)
	if payload := decodeBody[errorPayload](t, replay); payload.Error != "invalid_nonce" {
		t.Fatalf("unexpected replay payload %#v", payload)
	}
}

func TestExternalSignInRejectsNonceMismatch(t *testing.T) {
	server := newTestServer(t, func(deps *Dependencies) {
		deps.Identity = stubIdentityVerifier{err: auth.ErrNonceMismatch}
	})

	nonce := decodeBody[struct {
		Nonce string `json:"nonce"`
	}](t, server.do(t, http.MethodPost, "/auth/nonce", "", nil)).Nonce

	recorder := server.do(t, http.MethodPost, "/auth/external", "", map[string]any{"id_token": "token", "nonce": nonce})
	expectStatus(t, recorder, http.StatusUnauthorized)
}

func TestExternalSignInDisabledWithoutVerifier(t *testing.T) {
	server := newTestServer(t)
	recorder := server.do(t, http.MethodPost, "/auth/external", "", map[string]any{"id_token": "token", "nonce": "nonce"})
	expectStatus(t, recorder, http.StatusNotFound)
}

func TestNonceGenerationFailureIsFatal(t *testing.T) {
	server := newTestServer(t, func(deps *Dependencies) {
		deps.Nonces = auth.NewNonceRegistry(iotest.ErrReader(errors.New("entropy exhausted")), 0, nil)
	})

	recorder := server.do(t, http.MethodPost, "/auth/nonce", "", nil)
	expectStatus(t, recorder, http.StatusInternalServerError)
	if payload := decodeBody[errorPayload](t, recorder); payload.Error != "nonce_unavailable" {
		t.Fatalf("unexpected payload %#v", payload)
	}
}
