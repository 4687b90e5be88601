package kling

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/visiarch/visiarch-api/internal/config"
)

// tokenCache holds the single shared bearer credential for the Kling
// API. Tokens are signed with HS256 from the access/secret key pair and
// reissued only when the cached one's remaining validity drops below
// the refresh buffer, so no request ever goes out with an expired or
// nearly expired token.
type tokenCache struct {
	accessKey string
	secretKey []byte
	lifetime  time.Duration
	buffer    time.Duration
	timeFunc  func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenCache(cfg config.KlingConfig, timeFunc func() time.Time) *tokenCache {
	return &tokenCache{
		accessKey: cfg.AccessKey,
		secretKey: []byte(cfg.SecretKey),
		lifetime:  time.Duration(cfg.TokenLifetimeMinutes) * time.Minute,
		buffer:    time.Duration(cfg.TokenRefreshBufferMinutes) * time.Minute,
		timeFunc:  timeFunc,
	}
}

// bearerToken returns a token with at least the buffer's worth of
// validity left, signing a fresh one when needed.
func (tc *tokenCache) bearerToken() (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	now := tc.timeFunc()
	if tc.token != "" && now.Before(tc.expiresAt.Add(-tc.buffer)) {
		return tc.token, nil
	}

	expiresAt := now.Add(tc.lifetime)
	claims := jwt.MapClaims{
		"iss": tc.accessKey,
		"exp": expiresAt.Unix(),
		// Kling rejects tokens whose not-before is in the future; back
		// it off slightly to absorb clock drift.
		"nbf": now.Add(-5 * time.Second).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tc.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign bearer token with HMAC-SHA256: %w", err)
	}

	tc.token = signed
	tc.expiresAt = expiresAt
	return signed, nil
}
