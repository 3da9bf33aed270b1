package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/matedash/authbridge/internal/cache"
	"github.com/matedash/authbridge/pkg/logger"
	"github.com/matedash/authbridge/pkg/metrics"
	"github.com/matedash/authbridge/pkg/response"
)

// RedisRateLimitMiddleware is a fixed-window limiter shared by all instances.
// Each key gets floor(rps*window)+burst requests per window; the window
// starts at the key's first request (see cache.Counter).
func RedisRateLimitMiddleware(counter *cache.Counter, rps float64, burst int, window time.Duration) gin.HandlerFunc {
	if counter == nil {
		return RateLimitMiddleware(rps, burst)
	}
	if window < time.Second {
		window = time.Second
	}
	allowed := int64(rps*window.Seconds()) + int64(burst)
	if allowed < 1 {
		allowed = 1
	}
	return func(c *gin.Context) {
		key := rateKey(c)
		ctx := c.Request.Context()

		n, err := counter.Incr(ctx, key, window)
		if err != nil {
			logger.Errorw("rate limit check failed", "key", key, "err", err)
			response.Fail(c, response.Upstream("Rate limit check failed", err))
			return
		}
		if n > allowed {
			retry := int(window.Seconds())
			if ttl, err := counter.TTL(ctx, key); err == nil && ttl > 0 {
				retry = int(ttl.Round(time.Second).Seconds())
				if retry < 1 {
					retry = 1
				}
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			metrics.RateLimitRejected.WithLabelValues("redis").Inc()
			response.Fail(c, response.RateLimited(retry))
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("redis").Inc()
		c.Next()
	}
}
