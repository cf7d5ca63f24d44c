package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose scopes a token to the single flow that may redeem it.
type Purpose string

const (
	PurposeSession       Purpose = "session"
	PurposeVerifyEmail   Purpose = "verify_email"
	PurposeResetPassword Purpose = "reset_password"
)

const (
	defaultSessionTTL       = 30 * time.Minute
	defaultVerifyEmailTTL   = 24 * time.Hour
	defaultResetPasswordTTL = 30 * time.Minute
)

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret required")
	ErrMissingIssuer        = errors.New("auth: issuer required")
	ErrMissingSubject       = errors.New("auth: subject required")
	ErrInvalidToken         = errors.New("auth: invalid token")
	ErrExpiredToken         = errors.New("auth: token expired")
	ErrTokenPurposeMismatch = errors.New("auth: token purpose mismatch")
)

// TokenIssuerConfig configures the HS256 token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	SessionTTL    time.Duration
	Clock         func() time.Time
}

// Claims is the payload of every issued token.
type Claims struct {
	Purpose Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// Token is a signed token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// ExpiresIn returns the remaining lifetime in whole seconds relative to now.
func (t Token) ExpiresIn(now time.Time) int64 {
	return int64(t.ExpiresAt.Sub(now).Seconds())
}

// TokenIssuer issues and validates session tokens and single-purpose mail tokens.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttls          map[Purpose]time.Duration
	clock         func() time.Time
}

// NewTokenIssuer validates cfg and applies defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      strings.TrimSpace(cfg.Audience),
		ttls: map[Purpose]time.Duration{
			PurposeSession:       sessionTTL,
			PurposeVerifyEmail:   defaultVerifyEmailTTL,
			PurposeResetPassword: defaultResetPasswordTTL,
		},
		clock: clock,
	}, nil
}

// Now exposes the issuer clock so callers can compute relative expiries consistently.
func (i *TokenIssuer) Now() time.Time {
	return i.clock()
}

// Issue signs a token for subject scoped to purpose.
func (i *TokenIssuer) Issue(subject string, purpose Purpose) (Token, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Token{}, ErrMissingSubject
	}
	ttl, known := i.ttls[purpose]
	if !known {
		return Token{}, fmt.Errorf("%w: unknown purpose %q", ErrInvalidToken, purpose)
	}

	now := i.clock().UTC()
	expiresAt := now.Add(ttl)
	registered := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if i.audience != "" {
		registered.Audience = jwt.ClaimStrings{i.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Purpose: purpose, RegisteredClaims: registered})
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ExpiresAt: expiresAt}, nil
}

// Validate parses tokenString and ensures it was issued here for purpose.
func (i *TokenIssuer) Validate(tokenString string, purpose Purpose) (Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Claims{}, ErrInvalidToken
	}

	options := []jwt.ParserOption{
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if i.audience != "" {
		options = append(options, jwt.WithAudience(i.audience))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm %s", t.Method.Alg())
			}
			return i.signingSecret, nil
		},
		options...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Purpose != purpose {
		return Claims{}, ErrTokenPurposeMismatch
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, ErrMissingSubject
	}
	return *claims, nil
}
