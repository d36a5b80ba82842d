package fraud

import (
	"context"
	"fmt"
	"time"
)

// ScoreRapidOrderCreation flags bursts of order creation within the
// last hour and the last day.
func (s *Service) ScoreRapidOrderCreation(ctx context.Context, userID string) (*Score, error) {
	score := &Score{}
	now := time.Now()

	hourly, err := s.orders.CountOrdersSince(ctx, userID, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("fraud: count hourly orders: %w", err)
	}
	if hourly > 5 {
		score.add(70, "rapid_orders_hourly")
	}

	daily, err := s.orders.CountOrdersSince(ctx, userID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("fraud: count daily orders: %w", err)
	}
	if daily > 20 {
		score.add(50, "rapid_orders_daily")
	}

	s.emitIfSuspicious(ctx, userID, "rapid_order_creation", score)
	return score, nil
}

// ScoreFailedLoginPattern flags repeated failed logins by user id, by
// IP, and a tight inter-attempt gap over the last hour from the same
// IP — a signature of scripted credential stuffing rather than a
// person mistyping a password.
func (s *Service) ScoreFailedLoginPattern(ctx context.Context, userID, ip string) (*Score, error) {
	score := &Score{}
	now := time.Now()

	byUser, err := s.logins.CountByUserSince(ctx, userID, now.Add(-15*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("fraud: count failed logins by user: %w", err)
	}
	if byUser > 5 {
		score.add(60, "failed_logins_by_user")
	}

	byIP, err := s.logins.CountByIPSince(ctx, ip, now.Add(-15*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("fraud: count failed logins by ip: %w", err)
	}
	if byIP > 10 {
		score.add(70, "failed_logins_by_ip")
	}

	timestamps, err := s.logins.TimestampsByIPSince(ctx, ip, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("fraud: load failed-login timestamps: %w", err)
	}
	if len(timestamps) >= 10 && meanGap(timestamps) < 5*time.Second {
		score.add(80, "brute_force_timing")
	}

	s.emitIfSuspicious(ctx, userID, "failed_login_pattern", score)
	return score, nil
}

// meanGap returns the mean interval between consecutive timestamps.
// Callers may pass an unsorted slice; a sorted copy is used and the
// caller's slice is left untouched.
func meanGap(timestamps []time.Time) time.Duration {
	if len(timestamps) < 2 {
		return time.Duration(1<<63 - 1)
	}
	sorted := append([]time.Time(nil), timestamps...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Before(sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	var total time.Duration
	for i := 1; i < len(sorted); i++ {
		total += sorted[i].Sub(sorted[i-1])
	}
	return total / time.Duration(len(sorted)-1)
}
