// Package fraud scores user and request history for anomalous
// activity. It is pure read-side: a score function never mutates user
// state, only returns a weighted score and the reasons behind it — the
// caller (a gate, an alert, an audit write) decides what to do with it.
package fraud

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/domain/entities"
)

// OrderHistory is the read contract over a user's order ledger.
type OrderHistory interface {
	RecentOrders(ctx context.Context, userID string, limit int) ([]*entities.Order, error)
	CountOrdersSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountOrdersTotal(ctx context.Context, userID string) (int, error)
	HasShippedTo(ctx context.Context, userID, shippingAddress string) (bool, error)
}

// LoginAttemptSignal tracks failed-login timestamps keyed by user and
// by IP, used for both simple thresholding and inter-attempt-gap
// brute-force detection.
type LoginAttemptSignal interface {
	RecordFailedLogin(ctx context.Context, userID, ip string, at time.Time) error
	CountByUserSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountByIPSince(ctx context.Context, ip string, since time.Time) (int, error)
	TimestampsByIPSince(ctx context.Context, ip string, since time.Time) ([]time.Time, error)
}

// PaymentSignal tracks payment events (attempted, failed) per user
// over a rolling window.
type PaymentSignal interface {
	RecordPaymentEvent(ctx context.Context, userID, ip string, failed bool, at time.Time) error
	FailedCountSince(ctx context.Context, userID string, since time.Time) (int, error)
	EventCountSince(ctx context.Context, userID string, since time.Time) (int, error)
	DistinctIPCountSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// AuditRecorder is the subset of audit.Service the scorer drives when a
// score crosses the suspicious-activity threshold.
type AuditRecorder interface {
	Record(ctx context.Context, in entities.AuditRecordInput) error
}

// suspiciousActivityThreshold is the score at which a security.suspicious_activity
// event is emitted; alertThreshold is the higher bar for paging a human.
const (
	suspiciousActivityThreshold = 60
	alertThreshold              = 70

	// PaymentGateThreshold is the combined score at or above which the
	// payment-intent gate rejects intent creation.
	PaymentGateThreshold = 80
)

var (
	highValueOrderThreshold = decimal.RequireFromString("1000")
	largeOrderThreshold     = decimal.RequireFromString("10000")
	largePaymentThreshold   = decimal.RequireFromString("5000")
)

// Score is the result of any one scoring function: an additive total
// and the named reasons that contributed to it.
type Score struct {
	Total   int
	Reasons []string
}

func (s *Score) add(points int, reason string) {
	s.Total += points
	s.Reasons = append(s.Reasons, reason)
}

// AlertHook is invoked when a score reaches alertThreshold; callers
// wire this to whatever paging/notification channel the deployment uses.
type AlertHook func(ctx context.Context, userID string, score *Score)

type Service struct {
	orders   OrderHistory
	logins   LoginAttemptSignal
	payments PaymentSignal
	audit    AuditRecorder
	alert    AlertHook
	logger   *zap.Logger
}

func NewService(orders OrderHistory, logins LoginAttemptSignal, payments PaymentSignal, audit AuditRecorder, alert AlertHook, logger *zap.Logger) *Service {
	return &Service{orders: orders, logins: logins, payments: payments, audit: audit, alert: alert, logger: logger}
}

// emitIfSuspicious records a security.suspicious_activity event once a
// score reaches suspiciousActivityThreshold, and fires the alert hook
// once it reaches alertThreshold.
func (s *Service) emitIfSuspicious(ctx context.Context, userID, action string, score *Score) {
	if score.Total < suspiciousActivityThreshold {
		return
	}
	risk := score.Total
	if err := s.audit.Record(ctx, entities.AuditRecordInput{
		EventType: entities.EventSecuritySuspiciousActivity,
		UserID:    &userID,
		Action:    action,
		Resource:  "user",
		Result:    entities.ResultFailure,
		RiskScore: &risk,
	}); err != nil {
		s.logger.Warn("fraud: audit record failed", zap.Error(err))
	}
	if score.Total >= alertThreshold && s.alert != nil {
		s.alert(ctx, userID, score)
	}
}
