package payments

import (
	"context"

	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/domain/entities"
	"github.com/railguard/sentinel/pkg/apperr"
)

// webhookProvider tags every event this gate settles for the replay
// guard's dedup key; the gate talks to exactly one payment processor.
const webhookProvider = "default"

// HandleWebhook verifies the signature, decodes the event, and settles
// the matching order. Signature verification happens before any
// branching on event content — an unverified payload is never
// inspected beyond its size. Once verified, the event id is checked
// against the replay guard so a provider retry (or a captured-and-
// replayed payload) can't settle the same order twice.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	if len(payload) > MaxWebhookBodyBytes {
		return apperr.Validation("payload_too_large", "webhook payload exceeds the size limit")
	}

	if err := s.provider.VerifyWebhookSignature(payload, signatureHeader); err != nil {
		return apperr.Provider("webhook_signature_invalid", "webhook signature verification failed", err)
	}

	event, err := s.provider.ParseEvent(payload)
	if err != nil {
		return apperr.Provider("webhook_decode_failed", "webhook payload could not be decoded", err)
	}

	if s.replay != nil {
		duplicate, err := s.replay.CheckAndMark(ctx, webhookProvider, event.EventID)
		if err != nil {
			s.logger.Warn("payments: replay guard check failed, processing anyway", zap.Error(err))
		} else if duplicate {
			s.logger.Info("payments: duplicate webhook event ignored", zap.String("event_id", event.EventID))
			return nil
		}
	}

	order, err := s.orders.GetByPaymentIntentID(ctx, event.PaymentIntentID)
	if err != nil {
		return apperr.Internal("order_lookup_failed", err)
	}
	if order == nil {
		s.logger.Warn("payments: webhook for unknown payment intent", zap.String("payment_intent_id", event.PaymentIntentID))
		return nil
	}

	switch event.Type {
	case EventPaymentIntentSucceeded:
		return s.settleSucceeded(ctx, order)
	case EventPaymentIntentFailed:
		return s.settleFailed(ctx, order, event.LastError)
	default:
		s.logger.Info("payments: unhandled webhook event type", zap.String("type", string(event.Type)))
		return nil
	}
}

func (s *Service) settleSucceeded(ctx context.Context, order *entities.Order) error {
	if err := s.orders.UpdateStatus(ctx, order.ID, entities.OrderStatusPaid, ""); err != nil {
		return apperr.Internal("order_update_failed", err)
	}

	s.recordAudit(ctx, entities.EventPaymentCompleted, order.UserID, "payment.webhook.succeeded", "order", order.ID,
		entities.ResultSuccess, "", entities.AuditMetadata{})

	if err := s.cart.ClearCart(ctx, order.UserID); err != nil {
		s.logger.Error("payments: cart clear failed", zap.Error(err), zap.String("order_id", order.ID))
	}

	if email, err := s.users.GetUserEmail(ctx, order.UserID); err != nil {
		s.logger.Error("payments: user email lookup failed", zap.Error(err), zap.String("order_id", order.ID))
	} else if err := s.email.SendPaymentConfirmationEmail(ctx, email, order.ID); err != nil {
		s.logger.Error("payments: confirmation email failed", zap.Error(err), zap.String("order_id", order.ID))
	}

	return nil
}

func (s *Service) settleFailed(ctx context.Context, order *entities.Order, providerError string) error {
	if err := s.orders.UpdateStatus(ctx, order.ID, entities.OrderStatusCancelled, providerError); err != nil {
		return apperr.Internal("order_update_failed", err)
	}

	s.recordAudit(ctx, entities.EventPaymentFailed, order.UserID, "payment.webhook.failed", "order", order.ID,
		entities.ResultFailure, providerError, entities.AuditMetadata{})

	return nil
}
