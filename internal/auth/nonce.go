package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	nonceLength     = 32
	nonceCharset    = "0123456789ABCDEFGHIJKLMNOPQRSTUVXYZabcdefghijklmnopqrstuvwxyz-._"
	defaultNonceTTL = 10 * time.Minute
)

var (
	// ErrNonceGeneration means no secure random source was available. Sign-in must stop.
	ErrNonceGeneration = errors.New("auth: unable to generate nonce")
	ErrUnknownNonce    = errors.New("auth: nonce unknown or expired")
)

// GenerateNonce returns a random nonce drawn from nonceCharset using random.
func GenerateNonce(random io.Reader) (string, error) {
	if random == nil {
		random = rand.Reader
	}
	buffer := make([]byte, nonceLength)
	if _, err := io.ReadFull(random, buffer); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNonceGeneration, err)
	}
	nonce := make([]byte, nonceLength)
	for index, value := range buffer {
		nonce[index] = nonceCharset[int(value)%len(nonceCharset)]
	}
	return string(nonce), nil
}

// HashNonce returns the lowercase hex SHA-256 digest identity providers embed in ID tokens.
func HashNonce(raw string) string {
	digest := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(digest[:])
}

// NonceRegistry hands out single-use nonces for third-party sign-in.
type NonceRegistry struct {
	random io.Reader
	ttl    time.Duration
	clock  func() time.Time

	mu     sync.Mutex
	issued map[string]time.Time
}

// NewNonceRegistry constructs a registry. A nil random uses crypto/rand.
func NewNonceRegistry(random io.Reader, ttl time.Duration, clock func() time.Time) *NonceRegistry {
	if ttl <= 0 {
		ttl = defaultNonceTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &NonceRegistry{random: random, ttl: ttl, clock: clock, issued: make(map[string]time.Time)}
}

// Issue generates and remembers a nonce.
func (r *NonceRegistry) Issue() (string, error) {
	nonce, err := GenerateNonce(r.random)
	if err != nil {
		return "", err
	}
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for value, expiresAt := range r.issued {
		if now.After(expiresAt) {
			delete(r.issued, value)
		}
	}
	r.issued[nonce] = now.Add(r.ttl)
	return nonce, nil
}

// Consume removes nonce and reports ErrUnknownNonce if it was never issued or has expired.
func (r *NonceRegistry) Consume(nonce string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiresAt, ok := r.issued[nonce]
	if !ok {
		return ErrUnknownNonce
	}
	delete(r.issued, nonce)
	if r.clock().After(expiresAt) {
		return ErrUnknownNonce
	}
	return nil
}
