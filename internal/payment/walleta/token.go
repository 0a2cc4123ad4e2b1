package walleta

import (
	"context"
	"sync"
	"time"
)

// refreshBuffer is how long before expiry a cached token stops being served.
const refreshBuffer = 60 * time.Second

// FetchFunc obtains a fresh access token and its lifetime.
type FetchFunc func(ctx context.Context) (token string, ttl time.Duration, err error)

// TokenCache is a read-through cache for the OAuth2 bearer token.
// Concurrent refreshes are allowed; the last one to finish wins.
type TokenCache struct {
	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time

	fetch FetchFunc
	now   func() time.Time
}

func NewTokenCache(fetch FetchFunc, now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{fetch: fetch, now: now}
}

func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, expiresAt := c.accessToken, c.expiresAt
	c.mu.Unlock()

	if token != "" && c.now().Add(refreshBuffer).Before(expiresAt) {
		return token, nil
	}
	return c.Refresh(ctx)
}

// Refresh always fetches a new token. The lock is not held during the fetch.
func (c *TokenCache) Refresh(ctx context.Context) (string, error) {
	token, ttl, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.accessToken = token
	c.expiresAt = c.now().Add(ttl)
	c.mu.Unlock()

	return token, nil
}

// Invalidate drops the cached token so the next call refreshes.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.accessToken = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
