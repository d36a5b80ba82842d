package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/pkg/ratelimit"
)

// RiskAdaptiveLimit shrinks the effective rate limit for a named
// endpoint class as the caller's computed risk score rises, on top of
// the fixed-window tiers DistributedRateLimiter already enforces. It
// keys on IP before authentication runs (login, register) since no
// user id is available yet.
func RiskAdaptiveLimit(limiter *ratelimit.AdaptiveRateLimiter, endpoint string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		result, err := limiter.CheckAdaptiveRateLimit(c.Request.Context(), c.ClientIP(), endpoint, c.ClientIP(), c.Request.UserAgent())
		if err != nil {
			logger.Warn("risk-adaptive rate limit check failed, allowing request", zap.Error(err))
			c.Next()
			return
		}

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "risk_rate_limited",
				"message":    "too many requests for this risk profile",
				"request_id": RequestIDFromContext(c),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
