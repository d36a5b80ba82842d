package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/domain/entities"
)

type fakeOrders struct {
	recent          []*entities.Order
	total           int
	sinceCounts     map[time.Duration]int
	shippedAddrSeen map[string]bool
}

func (f *fakeOrders) RecentOrders(_ context.Context, _ string, limit int) ([]*entities.Order, error) {
	if limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}
func (f *fakeOrders) CountOrdersTotal(_ context.Context, _ string) (int, error) { return f.total, nil }
func (f *fakeOrders) HasShippedTo(_ context.Context, _, addr string) (bool, error) {
	return f.shippedAddrSeen[addr], nil
}
func (f *fakeOrders) CountOrdersSince(_ context.Context, _ string, since time.Time) (int, error) {
	// tests key sinceCounts by rough window (hour vs day) via duration-until-now
	window := time.Since(since)
	if window <= 2*time.Hour {
		return f.sinceCounts[time.Hour], nil
	}
	return f.sinceCounts[24 * time.Hour], nil
}

type fakeLogins struct {
	byUser int
	byIP   int
	stamps []time.Time
}

func (f *fakeLogins) RecordFailedLogin(context.Context, string, string, time.Time) error { return nil }
func (f *fakeLogins) CountByUserSince(context.Context, string, time.Time) (int, error)   { return f.byUser, nil }
func (f *fakeLogins) CountByIPSince(context.Context, string, time.Time) (int, error)     { return f.byIP, nil }
func (f *fakeLogins) TimestampsByIPSince(context.Context, string, time.Time) ([]time.Time, error) {
	return f.stamps, nil
}

type fakePayments struct {
	failed  int
	events  int
	distips int
}

func (f *fakePayments) RecordPaymentEvent(context.Context, string, string, bool, time.Time) error {
	return nil
}
func (f *fakePayments) FailedCountSince(context.Context, string, time.Time) (int, error) {
	return f.failed, nil
}
func (f *fakePayments) EventCountSince(context.Context, string, time.Time) (int, error) {
	return f.events, nil
}
func (f *fakePayments) DistinctIPCountSince(context.Context, string, time.Time) (int, error) {
	return f.distips, nil
}

type fakeAudit struct{ records []entities.AuditRecordInput }

func (a *fakeAudit) Record(_ context.Context, in entities.AuditRecordInput) error {
	a.records = append(a.records, in)
	return nil
}

func TestScoreOrderAnomalyFirstOrderHighValue(t *testing.T) {
	orders := &fakeOrders{total: 0, shippedAddrSeen: map[string]bool{}}
	audit := &fakeAudit{}
	svc := NewService(orders, &fakeLogins{}, &fakePayments{}, audit, nil, zap.NewNop())

	score, err := svc.ScoreOrderAnomaly(context.Background(), "user-1", decimal.RequireFromString("1500"), "")
	require.NoError(t, err)
	require.Equal(t, 50, score.Total)
	require.Contains(t, score.Reasons, "first_order_high_value")
}

func TestScoreOrderAnomaly3xAverageAndNewAddress(t *testing.T) {
	orders := &fakeOrders{
		total: 5,
		recent: []*entities.Order{
			{Total: decimal.RequireFromString("100")},
			{Total: decimal.RequireFromString("100")},
		},
		shippedAddrSeen: map[string]bool{"old addr": true},
	}
	audit := &fakeAudit{}
	svc := NewService(orders, &fakeLogins{}, &fakePayments{}, audit, nil, zap.NewNop())

	score, err := svc.ScoreOrderAnomaly(context.Background(), "user-1", decimal.RequireFromString("1200"), "new addr")
	require.NoError(t, err)
	require.Contains(t, score.Reasons, "order_3x_average")
	require.Contains(t, score.Reasons, "new_shipping_address_high_value")
	require.Equal(t, 70, score.Total)
	require.Len(t, audit.records, 1)
	require.Equal(t, entities.EventSecuritySuspiciousActivity, audit.records[0].EventType)
}

func TestScoreRapidOrderCreation(t *testing.T) {
	orders := &fakeOrders{sinceCounts: map[time.Duration]int{time.Hour: 6, 24 * time.Hour: 25}}
	svc := NewService(orders, &fakeLogins{}, &fakePayments{}, &fakeAudit{}, nil, zap.NewNop())

	score, err := svc.ScoreRapidOrderCreation(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 120, score.Total)
	require.Contains(t, score.Reasons, "rapid_orders_hourly")
	require.Contains(t, score.Reasons, "rapid_orders_daily")
}

func TestScoreFailedLoginPatternBruteForceTiming(t *testing.T) {
	now := time.Now()
	var stamps []time.Time
	for i := 0; i < 12; i++ {
		stamps = append(stamps, now.Add(time.Duration(i)*2*time.Second))
	}
	logins := &fakeLogins{byUser: 2, byIP: 12, stamps: stamps}
	svc := NewService(&fakeOrders{}, logins, &fakePayments{}, &fakeAudit{}, nil, zap.NewNop())

	score, err := svc.ScoreFailedLoginPattern(context.Background(), "user-1", "1.2.3.4")
	require.NoError(t, err)
	require.Contains(t, score.Reasons, "failed_logins_by_ip")
	require.Contains(t, score.Reasons, "brute_force_timing")
	require.Equal(t, 150, score.Total)
}

func TestScorePaymentFraudAlertFires(t *testing.T) {
	payments := &fakePayments{failed: 4, events: 11, distips: 6}
	var alerted bool
	alert := func(_ context.Context, _ string, _ *Score) { alerted = true }
	svc := NewService(&fakeOrders{}, &fakeLogins{}, payments, &fakeAudit{}, alert, zap.NewNop())

	score, err := svc.ScorePaymentFraud(context.Background(), "user-1", decimal.RequireFromString("6000"))
	require.NoError(t, err)
	require.Equal(t, 140, score.Total)
	require.GreaterOrEqual(t, score.Total, PaymentGateThreshold)
	require.True(t, alerted)
}
