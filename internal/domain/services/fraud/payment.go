package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ScorePaymentFraud scores a payment attempt against the user's
// payment history over the last 24 hours. The payment-intent gate
// rejects when this score is >= PaymentGateThreshold.
func (s *Service) ScorePaymentFraud(ctx context.Context, userID string, amount decimal.Decimal) (*Score, error) {
	score := &Score{}
	since := time.Now().Add(-24 * time.Hour)

	failed, err := s.payments.FailedCountSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("fraud: count failed payments: %w", err)
	}
	if failed > 3 {
		score.add(50, "repeated_failed_payments")
	}

	if amount.GreaterThan(largePaymentThreshold) {
		score.add(20, "payment_amount_large")
	}

	events, err := s.payments.EventCountSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("fraud: count payment events: %w", err)
	}
	if events > 10 {
		score.add(40, "payment_event_volume")
	}

	ips, err := s.payments.DistinctIPCountSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("fraud: count distinct payment ips: %w", err)
	}
	if ips > 5 {
		score.add(30, "payment_distinct_ips")
	}

	s.emitIfSuspicious(ctx, userID, "payment_fraud", score)
	return score, nil
}
