package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps failures of the backing Redis server.
var ErrUnavailable = errors.New("cache unavailable")

// Counter is a fixed-window counter on Redis. INCR and TTL run in one
// MULTI/EXEC; the window's expiry is set whenever the key has none, which is
// the first increment and any earlier increment whose EXPIRE was lost.
// Concurrent writers that both see no expiry write the same window.
type Counter struct {
	client redis.UniversalClient
	prefix string
}

// NewCounter returns a Counter whose keys are namespaced by prefix.
func NewCounter(c redis.UniversalClient, prefix string) *Counter {
	return &Counter{client: c, prefix: prefix}
}

func (c *Counter) key(k string) string { return c.prefix + k }

// Incr increments key and returns the new count. The first increment of a
// fresh key starts a window of the given length; later increments inside the
// window leave its expiry untouched.
func (c *Counter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := c.key(key)
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		ttl = pipe.TTL(ctx, k)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// -1: the key exists without an expiry
	if ttl.Val() < 0 {
		if err := c.client.Expire(ctx, k, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return incr.Val(), nil
}

// Get returns the current count; a missing key counts as zero.
func (c *Counter) Get(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Get(ctx, c.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// TTL returns the time left in the current window, or 0 when no window is open.
func (c *Counter) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.client.TTL(ctx, c.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Reset drops the counter, e.g. after a successful sign-in.
func (c *Counter) Reset(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
