package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/gpay-checkout/cache"
	"go.uber.org/zap"
)

// WebhookRateLimit allows limit requests per route and client IP in each
// fixed window. If the store is unreachable requests are let through,
// since gateways retry and signatures are still checked.
func WebhookRateLimit(store cache.Store, limit int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}

		key := fmt.Sprintf("ratelimit:%s:%s", c.FullPath(), c.ClientIP())
		n, err := store.Incr(c.Request.Context(), key, window)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("route", c.FullPath()), zap.Error(err))
			c.Next()
			return
		}

		if n > int64(limit) {
			logger.Warn("webhook rate limit exceeded",
				zap.String("route", c.FullPath()),
				zap.String("client_ip", c.ClientIP()),
				zap.Int64("count", n),
			)
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}
