package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// CheckResult is what a Limiter.Check call returns to the middleware.
type CheckResult struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	LimitedBy  string
}

// Tier is a single fixed-window counter configuration.
type Tier struct {
	Name   string
	Window time.Duration
	Max    int64
}

// Limiter checks a key against one tier's fixed window.
type Limiter struct {
	backend Backend
	tier    Tier
}

func NewLimiter(backend Backend, tier Tier) *Limiter {
	return &Limiter{backend: backend, tier: tier}
}

func (l *Limiter) Check(ctx context.Context, key string) (CheckResult, error) {
	fullKey := fmt.Sprintf("ratelimit:%s:%s:%d", l.tier.Name, key, time.Now().Unix()/int64(l.tier.Window.Seconds()))
	count, err := l.backend.Incr(ctx, fullKey, l.tier.Window)
	if err != nil {
		return CheckResult{}, err
	}

	remaining := l.tier.Max - count
	if remaining < 0 {
		remaining = 0
	}

	if count > l.tier.Max {
		return CheckResult{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: l.tier.Window,
			LimitedBy:  l.tier.Name,
		}, nil
	}

	return CheckResult{Allowed: true, Remaining: remaining, LimitedBy: l.tier.Name}, nil
}

// Standard tier configurations. General is intentionally left for the
// caller to size via config since it is endpoint-dependent: a
// configurable window/max that skips health-check paths.
func AuthTier() Tier   { return Tier{Name: "auth", Window: time.Minute, Max: 5} }
func StrictTier() Tier { return Tier{Name: "strict", Window: 15 * time.Minute, Max: 3} }

// EnhancedAuthTier returns the dynamic-cap tier: 3/15m when the request
// was flagged automated, else 10/15m.
func EnhancedAuthTier(isAutomated bool) Tier {
	if isAutomated {
		return Tier{Name: "enhanced_auth", Window: 15 * time.Minute, Max: 3}
	}
	return Tier{Name: "enhanced_auth", Window: 15 * time.Minute, Max: 10}
}

func GeneralTier(window time.Duration, max int64) Tier {
	return Tier{Name: "general", Window: window, Max: max}
}
