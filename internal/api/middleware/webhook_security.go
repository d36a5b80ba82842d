package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/pkg/security"
)

// WebhookSecurity gates the payment-provider webhook route with an IP
// allow list (when one is configured) and a per-provider request-rate
// cap, ahead of the handler's own HMAC signature check. Both checks
// fail open on a backend error — a Redis outage must not take down
// webhook delivery, only its extra protections.
func WebhookSecurity(whitelist *security.WebhookIPWhitelist, limiter *security.WebhookRateLimiter, provider string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if whitelist != nil {
			if err := whitelist.ValidateIP(provider, c.ClientIP()); err != nil {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":      "ip_not_allowed",
					"message":    "source IP is not permitted for this webhook",
					"request_id": RequestIDFromContext(c),
				})
				return
			}
		}

		if limiter != nil {
			allowed, retryAfter, err := limiter.CheckRateLimit(c.Request.Context(), provider)
			if err != nil {
				logger.Warn("webhook rate limit check failed, allowing request", zap.Error(err))
			} else if !allowed {
				c.Header("Retry-After", retryAfter.String())
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error":      "webhook_rate_limited",
					"message":    "too many webhook deliveries from this provider",
					"request_id": RequestIDFromContext(c),
				})
				return
			}
		}

		c.Next()
	}
}
