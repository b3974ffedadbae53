package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imanagement/billingkit/gauth"
)

// TokenCache is a Redis-backed gauth.TokenCache for deployments running
// several replicas, so one assertion exchange serves all of them. The key
// TTL tracks the token's own expiry; a vanished key just triggers a renewal.
type TokenCache struct {
	rdb *redis.Client
	key string
}

// NewTokenCache creates a Redis token cache under the given key.
func NewTokenCache(rdb *redis.Client, key string) *TokenCache {
	if key == "" {
		key = "billing:gauth:token"
	}
	return &TokenCache{rdb: rdb, key: key}
}

func (c *TokenCache) Get(ctx context.Context) (gauth.Token, bool, error) {
	val, err := c.rdb.Get(ctx, c.key).Bytes()
	if err == redis.Nil {
		return gauth.Token{}, false, nil
	}
	if err != nil {
		return gauth.Token{}, false, err
	}
	var tok gauth.Token
	if err := json.Unmarshal(val, &tok); err != nil {
		return gauth.Token{}, false, err
	}
	return tok, true, nil
}

func (c *TokenCache) Put(ctx context.Context, tok gauth.Token) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	ttl := time.Until(tok.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, c.key, b, ttl).Err()
}
