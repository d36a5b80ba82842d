package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/pkg/ratelimit"
)

// FailedLoginGate blocks a caller's IP outright once it has crossed
// ratelimit.FailedLoginMaxCount failures within the tracker's window,
// and records the outcome of this attempt once the handler finishes.
// It keys purely on IP since the request body hasn't been parsed yet;
// authsvc separately locks individual accounts regardless of source IP.
func FailedLoginGate(tracker *ratelimit.FailedLoginTracker, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		blocked, retryAfter, err := tracker.CheckBlocked(c.Request.Context(), key)
		if err != nil {
			logger.Warn("failed-login gate check failed, allowing request", zap.Error(err))
		} else if blocked {
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "too_many_failed_logins",
				"message":    "too many failed login attempts, try again later",
				"request_id": c.GetString("request_id"),
			})
			c.Abort()
			return
		}

		c.Next()

		if len(c.Errors) > 0 {
			if _, _, err := tracker.RecordFailure(c.Request.Context(), key); err != nil {
				logger.Warn("failed-login gate record failed", zap.Error(err))
			}
			return
		}
		if c.Writer.Status() == http.StatusOK {
			if err := tracker.RecordSuccess(c.Request.Context(), key); err != nil {
				logger.Warn("failed-login gate reset failed", zap.Error(err))
			}
		}
	}
}
