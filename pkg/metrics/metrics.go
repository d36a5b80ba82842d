// Package metrics declares the Prometheus collectors for login
// outcomes, rate-limit blocks, audit durability, fraud scores,
// circuit-breaker state, distributed key-value health and webhook
// events. Only AuditWriteFailuresTotal (audit service) and
// RateLimitHitsTotal (DistributedRateLimiter) are updated in this
// module; the others are registered but never set, and no route
// exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LoginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_login_attempts_total",
		Help: "Login attempts by outcome (success, bad_credentials, locked, 2fa_required).",
	}, []string{"outcome"})

	RateLimitHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_rate_limit_hits_total",
		Help: "Requests rejected by the rate limiter, labeled by tier and endpoint.",
	}, []string{"limited_by", "endpoint"})

	AuditWriteFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_audit_write_failures_total",
		Help: "Audit log append failures, labeled by action.",
	}, []string{"action"})

	FraudScoreHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_fraud_score",
		Help:    "Computed fraud score distribution by scoring function.",
		Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	}, []string{"function"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open), labeled by breaker name.",
	}, []string{"breaker"})

	DistributedStoreHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_distributed_store_healthy",
		Help: "1 if the distributed (Redis) rate-limit/session backend is reachable, 0 if the service has fallen back to in-memory tracking.",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_webhook_events_total",
		Help: "Webhook events processed by provider and outcome.",
	}, []string{"provider", "outcome"})
)
