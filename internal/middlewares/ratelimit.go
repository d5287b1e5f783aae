package middlewares

import (
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/avoronkov/push-dispatcher/internal/api/respond"
	"github.com/avoronkov/push-dispatcher/internal/ratelimit"
)

// RateLimit bounds dispatch requests per client, keyed by network origin.
func RateLimit(limiter *ratelimit.Limiter) func(c *ginext.Context) {
	return func(c *ginext.Context) {
		ok, retryAfter := limiter.Allow(c.ClientIP())
		if !ok {
			zlog.Logger.Warn().Str("client", c.ClientIP()).Int("retry_after", retryAfter).Msg("rate limit exceeded")
			respond.RateLimited(c.Writer, retryAfter)
			c.Abort()
			return
		}

		c.Next()
	}
}
