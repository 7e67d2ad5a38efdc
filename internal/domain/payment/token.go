package payment

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Token is a gateway access token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenFetcher obtains a fresh access token.
type TokenFetcher func(ctx context.Context) (Token, error)

// TokenCache keeps one access token in memory and refreshes it shortly
// before expiry. Concurrent refreshes collapse into a single fetch.
type TokenCache struct {
	fetch TokenFetcher
	skew  time.Duration
	now   func() time.Time

	mu    sync.RWMutex
	token Token
	group singleflight.Group
}

// NewTokenCache creates a TokenCache that refetches skew before expiry.
func NewTokenCache(fetch TokenFetcher, skew time.Duration) *TokenCache {
	return &TokenCache{fetch: fetch, skew: skew, now: time.Now}
}

// Token returns a valid access token, fetching one if needed.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()

	if tok.Value != "" && c.now().Before(tok.ExpiresAt.Add(-c.skew)) {
		return tok.Value, nil
	}
	return c.Refresh(ctx)
}

// Refresh fetches a new token regardless of the cached one.
func (c *TokenCache) Refresh(ctx context.Context) (string, error) {
	ch := c.group.DoChan("token", func() (any, error) {
		// Shared by all waiters, so it must outlive any single caller.
		tok, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = tok
		c.mu.Unlock()
		return tok.Value, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", unavailable(res.Err)
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = Token{}
	c.mu.Unlock()
}
