package auth

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
)

const bearerPrefix = "Bearer "

var (
	ErrMissingSessionToken = errors.New("session validator: token required")
	ErrRevokedSessionToken = errors.New("session validator: token revoked")
	ErrMissingTokenIssuer  = errors.New("session validator: token issuer required")
)

// SessionClaims identifies the signed-in user of a request.
type SessionClaims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// SessionValidator validates session tokens taken from the Authorization header or a cookie
// and remembers revoked tokens until they would have expired anyway.
type SessionValidator struct {
	issuer     *TokenIssuer
	cookieName string

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewSessionValidator binds a validator to issuer. cookieName may be empty to accept bearer
// tokens only.
func NewSessionValidator(issuer *TokenIssuer, cookieName string) (*SessionValidator, error) {
	if issuer == nil {
		return nil, ErrMissingTokenIssuer
	}
	return &SessionValidator{
		issuer:     issuer,
		cookieName: strings.TrimSpace(cookieName),
		revoked:    make(map[string]time.Time),
	}, nil
}

// ValidateToken validates a raw session token.
func (v *SessionValidator) ValidateToken(tokenString string) (SessionClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}
	claims, err := v.issuer.Validate(tokenString, PurposeSession)
	if err != nil {
		return SessionClaims{}, err
	}
	session := SessionClaims{UserID: claims.Subject, TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}

	v.mu.Lock()
	_, revoked := v.revoked[session.TokenID]
	v.mu.Unlock()
	if revoked {
		return SessionClaims{}, ErrRevokedSessionToken
	}
	return session, nil
}

// ValidateRequest extracts the session token from r and validates it.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		return v.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
	}
	if v.cookieName == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}
	cookie, err := r.Cookie(v.cookieName)
	if err != nil || cookie == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return v.ValidateToken(cookie.Value)
}

// Revoke rejects the session token for the rest of its lifetime.
func (v *SessionValidator) Revoke(claims SessionClaims) {
	if claims.TokenID == "" {
		return
	}
	now := v.issuer.Now()
	v.mu.Lock()
	defer v.mu.Unlock()
	for tokenID, expiresAt := range v.revoked {
		if now.After(expiresAt) {
			delete(v.revoked, tokenID)
		}
	}
	v.revoked[claims.TokenID] = claims.ExpiresAt
}
