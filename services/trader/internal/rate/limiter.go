package rate

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/libs/auth"
	"github.com/gin-gonic/gin"
)

// Limiter admits at most a fixed number of events per key and window. When
// an event is refused it reports how long until the window resets.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}

// Middleware limits requests per authenticated user, falling back to the
// client IP. Limiter errors fail open.
func Middleware(limiter Limiter, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		key := c.GetString(auth.ContextUserIDKey)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), key, time.Now())
		if err != nil {
			logger.Warn("rate limiter unavailable", "key", key, "error", err)
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": "RATE_LIMITED", "message": "too many requests"})
			return
		}
		c.Next()
	}
}
