package memorystore

import (
	"context"
	"sync"

	"github.com/imanagement/billingkit/gauth"
)

// TokenCache is the in-process implementation of gauth.TokenCache: a single
// mutex-guarded slot. The slot is replaced whole on renewal, never mutated,
// and expiry policy lives entirely in the Manager.
type TokenCache struct {
	mu  sync.Mutex
	tok gauth.Token
	set bool
}

// NewTokenCache creates an empty single-slot cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{}
}

func (c *TokenCache) Get(ctx context.Context) (gauth.Token, bool, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return gauth.Token{}, false, nil
	}
	return c.tok, true, nil
}

func (c *TokenCache) Put(ctx context.Context, tok gauth.Token) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tok = tok
	c.set = true
	return nil
}
