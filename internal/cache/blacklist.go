package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const blacklistPrefix = "blacklist:access:"

// Blacklist records revoked access tokens until they would have expired.
// A Blacklist with a nil client is a no-op: Add succeeds and Contains
// reports false.
type Blacklist struct {
	client redis.UniversalClient
}

func NewBlacklist(c redis.UniversalClient) *Blacklist {
	return &Blacklist{client: c}
}

// Key returns the Redis key for a token. Tokens are hashed so raw bearer
// values never sit in the cache.
func (b *Blacklist) Key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return blacklistPrefix + hex.EncodeToString(sum[:])
}

// Add blacklists token for ttl. Non-positive ttls are ignored since the
// token has already expired.
func (b *Blacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	if b == nil || b.client == nil || ttl <= 0 {
		return nil
	}
	if err := b.client.Set(ctx, b.Key(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Contains returns true when the token is currently blacklisted.
func (b *Blacklist) Contains(ctx context.Context, token string) (bool, error) {
	if b == nil || b.client == nil {
		return false, nil
	}
	n, err := b.client.Exists(ctx, b.Key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}
