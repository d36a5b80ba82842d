package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/pkg/ratelimit"
)

// TierLimit enforces a single fixed-window ratelimit.Tier keyed by
// client IP, for the named auth-surface tiers (spec.md §4.4) that sit
// ahead of the general distributed limiter: AuthTier, StrictTier, and
// EnhancedAuthTier.
func TierLimit(backend ratelimit.Backend, tier ratelimit.Tier, zl *zap.Logger) gin.HandlerFunc {
	limiter := ratelimit.NewLimiter(backend, tier)
	return func(c *gin.Context) {
		result, err := limiter.Check(c.Request.Context(), c.ClientIP())
		if err != nil {
			zl.Warn("tiered rate limit check failed, allowing request",
				zap.String("tier", tier.Name), zap.Error(err))
			c.Next()
			return
		}

		if !result.Allowed {
			c.Header("Retry-After", result.RetryAfter.String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate_limit_exceeded",
				"message":    "too many requests, please try again later",
				"limited_by": result.LimitedBy,
				"request_id": RequestIDFromContext(c),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// EnhancedAuthLimit sizes its cap off the AutomationDetector result
// already stashed in context: 3/15min for a request flagged automated,
// 10/15min otherwise. AutomationDetector must run earlier in the chain.
func EnhancedAuthLimit(backend ratelimit.Backend, zl *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		automation, _ := AutomationResult(c)
		tier := ratelimit.EnhancedAuthTier(automation.IsAutomated)
		TierLimit(backend, tier, zl)(c)
	}
}
