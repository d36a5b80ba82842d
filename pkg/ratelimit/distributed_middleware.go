package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/infrastructure/config"
	"github.com/railguard/sentinel/pkg/metrics"
)

// TieredLimiter checks a request against global, per-IP, and per-user
// fixed-window limiters in that order, returning the first tier that
// rejects it.
type TieredLimiter struct {
	global *Limiter
	ip     *Limiter
	user   *Limiter
}

func NewTieredLimiter(backend Backend, cfg config.RateLimitConfig) *TieredLimiter {
	return &TieredLimiter{
		global: NewLimiter(backend, Tier{Name: "global", Window: time.Minute, Max: cfg.GlobalLimit}),
		ip:     NewLimiter(backend, Tier{Name: "ip", Window: time.Minute, Max: cfg.IPLimit}),
		user:   NewLimiter(backend, Tier{Name: "user", Window: time.Minute, Max: cfg.UserLimit}),
	}
}

func (t *TieredLimiter) Check(ctx context.Context, ip, userID, endpoint string) (*CheckResult, error) {
	result, err := t.global.Check(ctx, "global")
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return &result, nil
	}

	result, err = t.ip.Check(ctx, ip)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return &result, nil
	}

	if userID != "" {
		result, err = t.user.Check(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !result.Allowed {
			return &result, nil
		}
	}

	return &result, nil
}

// DistributedRateLimiter is the gin middleware wrapper around a
// TieredLimiter, applying the configured fail-open/fail-closed policy
// and optional response headers.
type DistributedRateLimiter struct {
	limiter  *TieredLimiter
	config   config.RateLimitConfig
	logger   *zap.Logger
	failOpen bool
}

func NewDistributedRateLimiter(limiter *TieredLimiter, cfg config.RateLimitConfig, logger *zap.Logger) *DistributedRateLimiter {
	return &DistributedRateLimiter{
		limiter:  limiter,
		config:   cfg,
		logger:   logger,
		failOpen: cfg.FailOpen,
	}
}

func (rl *DistributedRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.config.Enabled {
			c.Next()
			return
		}

		ip := c.ClientIP()
		userID := c.GetString("user_id")
		endpoint := c.Request.Method + ":" + c.Request.URL.Path

		var result *CheckResult
		var err error

		if rl.limiter != nil {
			result, err = rl.limiter.Check(c.Request.Context(), ip, userID, endpoint)
			if err != nil {
				rl.logger.Error("rate limit check failed",
					zap.Error(err),
					zap.String("ip", ip),
					zap.String("endpoint", endpoint))

				if !rl.failOpen {
					c.JSON(http.StatusServiceUnavailable, gin.H{
						"error":      "service_unavailable",
						"message":    "rate limiting service is temporarily unavailable",
						"request_id": c.GetString("request_id"),
					})
					c.Abort()
					return
				}
				rl.logger.Warn("rate limit check failed, failing open")
			}
		} else {
			rl.logger.Warn("rate limiter not configured, allowing request")
		}

		if result != nil && !result.Allowed {
			metrics.RateLimitHitsTotal.WithLabelValues(result.LimitedBy, endpoint).Inc()

			rl.logger.Warn("rate limit exceeded",
				zap.String("ip", ip),
				zap.String("user_id", userID),
				zap.String("endpoint", endpoint),
				zap.String("limited_by", result.LimitedBy),
				zap.Duration("retry_after", result.RetryAfter))

			if rl.config.ResponseHeaders {
				c.Header("X-RateLimit-Limit", strconv.FormatInt(rl.getLimit(result.LimitedBy), 10))
				c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
				c.Header("Retry-After", strconv.FormatInt(int64(result.RetryAfter.Seconds()), 10))
			}

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate_limit_exceeded",
				"message":    "too many requests, please try again later",
				"request_id": c.GetString("request_id"),
			})
			c.Abort()
			return
		}

		if rl.config.ResponseHeaders && result != nil {
			c.Header("X-RateLimit-Limit", strconv.FormatInt(rl.getLimit(result.LimitedBy), 10))
			c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		}

		c.Next()
	}
}

func (rl *DistributedRateLimiter) getLimit(tier string) int64 {
	switch tier {
	case "global":
		return rl.config.GlobalLimit
	case "ip":
		return rl.config.IPLimit
	case "user":
		return rl.config.UserLimit
	default:
		return rl.config.GlobalLimit
	}
}

func CreateEndpointKey(method, path string) string {
	return fmt.Sprintf("%s:%s", method, path)
}
