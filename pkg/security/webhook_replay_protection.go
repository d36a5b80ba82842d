package security

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// WebhookReplayGuard stops a single provider webhook event from
// settling an order twice. A provider that retries delivery (or an
// attacker replaying a captured payload) sends the same event id more
// than once; the guard's first successful CheckAndMark for that id
// wins, every later one is reported as a duplicate.
type WebhookReplayGuard struct {
	redis  *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// DefaultWebhookEventTTL is how long a seen event id is remembered —
// long enough to cover a provider's own retry window.
const DefaultWebhookEventTTL = 24 * time.Hour

func NewWebhookReplayGuard(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *WebhookReplayGuard {
	if ttl <= 0 {
		ttl = DefaultWebhookEventTTL
	}
	return &WebhookReplayGuard{redis: redisClient, logger: logger, ttl: ttl}
}

// CheckAndMark reports whether provider/eventID has already been seen.
// It fails open: a guard with no Redis client, an empty eventID, or a
// Redis error all allow the request through, since losing dedup
// protection must never block a legitimate settlement.
func (g *WebhookReplayGuard) CheckAndMark(ctx context.Context, provider, eventID string) (duplicate bool, err error) {
	if g == nil || g.redis == nil || eventID == "" {
		return false, nil
	}

	key := fmt.Sprintf("webhook:event:%s:%s", provider, eventID)
	set, err := g.redis.SetNX(ctx, key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		g.logger.Warn("webhook replay guard check failed, allowing request",
			zap.String("provider", provider), zap.Error(err))
		return false, nil
	}

	return !set, nil
}

// WebhookIPWhitelist validates webhook source IPs
type WebhookIPWhitelist struct {
	allowedIPs map[string][]string // provider -> allowed CIDRs
	logger     *zap.Logger
}

// NewWebhookIPWhitelist creates a new IP whitelist validator
func NewWebhookIPWhitelist(allowedIPs map[string][]string, logger *zap.Logger) *WebhookIPWhitelist {
	return &WebhookIPWhitelist{
		allowedIPs: allowedIPs,
		logger:     logger,
	}
}

// ValidateIP checks if the client IP is whitelisted for the provider
func (w *WebhookIPWhitelist) ValidateIP(provider, clientIP string) error {
	allowedCIDRs, exists := w.allowedIPs[provider]
	if !exists {
		return nil // No whitelist configured, allow all
	}

	if len(allowedCIDRs) == 0 {
		return nil // Empty whitelist, allow all
	}

	ip := net.ParseIP(clientIP)
	if ip == nil {
		return fmt.Errorf("invalid IP address: %s", clientIP)
	}

	for _, cidr := range allowedCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			// Try parsing as single IP
			if allowedIP := net.ParseIP(cidr); allowedIP != nil && allowedIP.Equal(ip) {
				return nil
			}
			continue
		}

		if ipNet.Contains(ip) {
			return nil
		}
	}

	w.logger.Warn("Webhook IP not whitelisted",
		zap.String("provider", provider),
		zap.String("client_ip", clientIP))

	return fmt.Errorf("IP not whitelisted: %s", clientIP)
}

// WebhookRateLimiter provides rate limiting for webhooks
type WebhookRateLimiter struct {
	redis  *redis.Client
	limits map[string]WebhookRateLimit
	logger *zap.Logger
}

// WebhookRateLimit defines rate limit for a provider
type WebhookRateLimit struct {
	MaxRequests int
	Window      time.Duration
}

// NewWebhookRateLimiter creates a new webhook rate limiter
func NewWebhookRateLimiter(redisClient *redis.Client, limits map[string]WebhookRateLimit, logger *zap.Logger) *WebhookRateLimiter {
	return &WebhookRateLimiter{
		redis:  redisClient,
		limits: limits,
		logger: logger,
	}
}

// CheckRateLimit checks if the webhook rate limit is exceeded
func (w *WebhookRateLimiter) CheckRateLimit(ctx context.Context, provider string) (bool, time.Duration, error) {
	limit, exists := w.limits[provider]
	if !exists {
		limit = w.limits["default"]
		if limit.MaxRequests == 0 {
			return true, 0, nil // No limit configured
		}
	}

	windowSeconds := int64(limit.Window.Seconds())
	if windowSeconds == 0 {
		windowSeconds = 60
	}

	key := fmt.Sprintf("webhook:rate:%s:%d", provider, time.Now().Unix()/windowSeconds)

	current, err := w.redis.Incr(ctx, key).Result()
	if err != nil {
		return true, 0, nil // Fail open on Redis error
	}

	if current == 1 {
		w.redis.Expire(ctx, key, limit.Window)
	}

	if current > int64(limit.MaxRequests) {
		resetTime := time.Duration(windowSeconds-(time.Now().Unix()%windowSeconds)) * time.Second
		return false, resetTime, nil
	}

	return true, 0, nil
}
