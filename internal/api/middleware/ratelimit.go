package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"school-auth/internal/logging"
	"school-auth/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// LoginRateLimit lets one login attempt per client IP through per window.
// A nil client disables the limit. Redis errors let the request through.
func LoginRateLimit(rdb *redis.Client, window time.Duration, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil || window <= 0 {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := fmt.Sprintf("rate_limit:login:%s", c.ClientIP())

		wasSet, err := rdb.SetNX(ctx, key, "locked", window).Result()
		if err != nil {
			log.Warn("login rate limit check failed", "error", err)
			c.Next()
			return
		}

		if !wasSet {
			ttl, err := rdb.TTL(ctx, key).Result()
			if err != nil || ttl < 0 {
				ttl = window
			}
			retryAfter := int(math.Ceil(ttl.Seconds()))

			metrics.LoginAttempts.WithLabelValues("throttled").Inc()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many login attempts",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
