package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/domain/entities"
	"github.com/railguard/sentinel/internal/domain/services/fraud"
	"github.com/railguard/sentinel/pkg/apperr"
)

// CreateIntent prices the request against the authoritative catalog,
// gates it on the payment-fraud score, creates the order, and asks the
// provider for a payment intent.
func (s *Service) CreateIntent(ctx context.Context, req CreateIntentRequest) (*entities.Order, *ProviderIntent, error) {
	if len(req.Items) == 0 {
		return nil, nil, apperr.Validation("empty_order", "order must contain at least one item")
	}

	ids := make([]string, len(req.Items))
	for i, it := range req.Items {
		ids[i] = it.ProductID
	}
	products, err := s.catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, apperr.Internal("catalog_lookup_failed", err)
	}
	byID := make(map[string]*entities.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	items := make([]entities.OrderItem, 0, len(req.Items))
	total := decimal.Zero
	for _, it := range req.Items {
		p, ok := byID[it.ProductID]
		if !ok || !p.IsActive {
			return nil, nil, apperr.Validation("product_unavailable", "one or more items are no longer available").
				WithField("productId", it.ProductID)
		}
		items = append(items, entities.OrderItem{
			ProductID: p.ID,
			Quantity:  it.Quantity,
			UnitPrice: p.Price,
		})
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	if !total.IsPositive() {
		return nil, nil, apperr.Validation("invalid_total", "order total must be greater than zero")
	}

	score, err := s.fraud.ScorePaymentFraud(ctx, req.UserID, total)
	if err != nil {
		s.logger.Error("payments: fraud scoring failed, proceeding as not-anomalous", zap.Error(err))
	} else if score.Total >= fraud.PaymentGateThreshold {
		s.recordAudit(ctx, entities.EventSecurityFraudDetected, req.UserID, "payment.intent.create", "payment_intent", "",
			entities.ResultFailure, "fraud score exceeded gate threshold",
			entities.AuditMetadata{IP: req.IP, Extra: map[string]any{"score": score.Total, "reasons": score.Reasons}})
		return nil, nil, apperr.FraudGate("payment_blocked", "this payment could not be processed, please contact support")
	}

	order := &entities.Order{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Items:           items,
		Total:           total,
		Currency:        req.Currency,
		Status:          entities.OrderStatusPending,
		ShippingAddress: req.ShippingAddress,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, nil, apperr.Internal("order_create_failed", err)
	}

	s.recordAudit(ctx, entities.EventPaymentInitiated, req.UserID, "payment.intent.create", "order", order.ID,
		entities.ResultSuccess, "", entities.AuditMetadata{IP: req.IP})

	var intent *ProviderIntent
	cbErr := s.breaker.Execute(ctx, func() error {
		var innerErr error
		intent, innerErr = s.provider.CreateIntent(ctx, ProviderIntentRequest{
			Amount:   total,
			Currency: req.Currency,
			Metadata: map[string]string{"orderId": order.ID, "userId": req.UserID},
		})
		return innerErr
	})
	if cbErr != nil {
		_ = s.orders.UpdateStatus(ctx, order.ID, entities.OrderStatusCancelled, cbErr.Error())
		return nil, nil, apperr.Provider("provider_intent_failed", "payment provider is currently unavailable", cbErr)
	}

	order.PaymentIntentID = intent.ID
	order.Status = entities.OrderStatusProcessing
	if err := s.orders.UpdateStatus(ctx, order.ID, entities.OrderStatusProcessing, ""); err != nil {
		s.logger.Error("payments: failed to persist processing status", zap.Error(err), zap.String("order_id", order.ID))
	}

	return order, intent, nil
}
