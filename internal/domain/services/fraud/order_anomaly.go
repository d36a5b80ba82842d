package fraud

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/railguard/sentinel/internal/domain/entities"
)

// ScoreOrderAnomaly scores a prospective order against the user's
// recent order history: a sharp jump over the recent average, a
// previously unseen shipping address paired with a high-value order,
// a large first-ever order, or simply a very large order. The
// resulting event (if any) is audited under the action "order_anomaly".
func (s *Service) ScoreOrderAnomaly(ctx context.Context, userID string, amount decimal.Decimal, shippingAddress string) (*Score, error) {
	score := &Score{}

	recent, err := s.orders.RecentOrders(ctx, userID, 10)
	if err != nil {
		return nil, fmt.Errorf("fraud: load recent orders: %w", err)
	}
	if avg := averageTotal(recent); avg.IsPositive() && amount.GreaterThan(avg.Mul(decimal.NewFromInt(3))) {
		score.add(40, "order_3x_average")
	}

	if amount.GreaterThan(highValueOrderThreshold) && shippingAddress != "" {
		seen, err := s.orders.HasShippedTo(ctx, userID, shippingAddress)
		if err != nil {
			return nil, fmt.Errorf("fraud: check shipping address history: %w", err)
		}
		if !seen {
			score.add(30, "new_shipping_address_high_value")
		}
	}

	total, err := s.orders.CountOrdersTotal(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fraud: count orders: %w", err)
	}
	if total == 0 && amount.GreaterThan(highValueOrderThreshold) {
		score.add(50, "first_order_high_value")
	}

	if amount.GreaterThan(largeOrderThreshold) {
		score.add(25, "order_amount_large")
	}

	s.emitIfSuspicious(ctx, userID, "order_anomaly", score)
	return score, nil
}

func averageTotal(orders []*entities.Order) decimal.Decimal {
	if len(orders) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, o := range orders {
		sum = sum.Add(o.Total)
	}
	return sum.Div(decimal.NewFromInt(int64(len(orders))))
}
