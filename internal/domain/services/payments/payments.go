// Package payments implements the payment-intent gate: server-side
// pricing, fraud-score gating, provider intent creation, and the
// webhook handlers that settle an order once the provider reports an
// outcome. The product catalog and shopping cart are external
// collaborators — this package only reads authoritative prices and
// issues a clear-cart call on settlement.
package payments

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/domain/entities"
	"github.com/railguard/sentinel/internal/domain/services/fraud"
	"github.com/railguard/sentinel/pkg/circuitbreaker"
)

// MaxWebhookBodyBytes bounds the raw webhook body the handler will
// read before rejecting the request outright.
const MaxWebhookBodyBytes = 64 * 1024

// Catalog is the authoritative product-price lookup the intent-creation
// path prices against. The catalog itself lives outside this system;
// this is only the read contract the gate depends on.
type Catalog interface {
	GetProductsByIDs(ctx context.Context, ids []string) ([]*entities.Product, error)
}

// OrderStore is the subset of order persistence the gate drives.
type OrderStore interface {
	Create(ctx context.Context, o *entities.Order) error
	UpdateStatus(ctx context.Context, orderID string, status entities.OrderStatus, providerError string) error
	GetByPaymentIntentID(ctx context.Context, intentID string) (*entities.Order, error)
}

// AuditRecorder is the subset of internal/domain/services/audit.Service
// this package drives.
type AuditRecorder interface {
	Record(ctx context.Context, in entities.AuditRecordInput) error
}

// EmailSender is the subset of email delivery the gate needs.
// Failures are logged and never propagate.
type EmailSender interface {
	SendPaymentConfirmationEmail(ctx context.Context, email, orderID string) error
}

// CartClearer empties a user's cart once an order settles. The cart is
// an external collaborator; this is the only operation this package
// needs from it.
type CartClearer interface {
	ClearCart(ctx context.Context, userID string) error
}

// UserLookup resolves the email address a settlement notification goes
// to; orders are keyed by user id, not email.
type UserLookup interface {
	GetUserEmail(ctx context.Context, userID string) (string, error)
}

// Provider is the external payment processor this gate talks to:
// intent creation plus webhook signature verification and event
// decoding. A concrete adapter wraps the processor's SDK or HTTP API.
type Provider interface {
	CreateIntent(ctx context.Context, req ProviderIntentRequest) (*ProviderIntent, error)
	VerifyWebhookSignature(payload []byte, signatureHeader string) error
	ParseEvent(payload []byte) (*ProviderEvent, error)
}

// ProviderIntentRequest is what the gate asks the provider to create.
type ProviderIntentRequest struct {
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
}

// ProviderIntent is the provider's response to intent creation.
type ProviderIntent struct {
	ID           string
	ClientSecret string
}

// ProviderEventType is the closed set of webhook events this gate acts on.
type ProviderEventType string

const (
	EventPaymentIntentSucceeded ProviderEventType = "payment_intent.succeeded"
	EventPaymentIntentFailed    ProviderEventType = "payment_intent.payment_failed"
)

// ProviderEvent is a decoded webhook payload.
type ProviderEvent struct {
	EventID         string
	Type            ProviderEventType
	PaymentIntentID string
	LastError       string
}

// ReplayGuard deduplicates webhook events per provider so a retried or
// replayed delivery never settles the same order twice.
type ReplayGuard interface {
	CheckAndMark(ctx context.Context, provider, eventID string) (duplicate bool, err error)
}

// ItemRequest is one requested line item; quantity is validated by the
// caller (1..100) before reaching this package.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// CreateIntentRequest is the validated input to CreateIntent. Client-
// supplied prices never reach this struct — only product ids and
// quantities; pricing is always resolved server-side from Catalog.
type CreateIntentRequest struct {
	UserID          string
	Items           []ItemRequest
	Currency        string
	ShippingAddress string
	IP              string
}

// Service implements the payment-intent gate and webhook settlement.
type Service struct {
	catalog  Catalog
	orders   OrderStore
	fraud    *fraud.Service
	audit    AuditRecorder
	email    EmailSender
	cart     CartClearer
	users    UserLookup
	provider Provider
	replay   ReplayGuard
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
}

func NewService(
	catalog Catalog,
	orders OrderStore,
	fraudSvc *fraud.Service,
	audit AuditRecorder,
	email EmailSender,
	cart CartClearer,
	users UserLookup,
	provider Provider,
	replay ReplayGuard,
	breaker *circuitbreaker.CircuitBreaker,
	logger *zap.Logger,
) *Service {
	return &Service{
		catalog:  catalog,
		orders:   orders,
		fraud:    fraudSvc,
		audit:    audit,
		email:    email,
		cart:     cart,
		users:    users,
		provider: provider,
		replay:   replay,
		breaker:  breaker,
		logger:   logger,
	}
}

func strPtr(s string) *string { return &s }

func (s *Service) recordAudit(ctx context.Context, eventType entities.AuditEventType, userID, action, resource, resourceID string, result entities.AuditResult, errMsg string, meta entities.AuditMetadata) {
	in := entities.AuditRecordInput{
		EventType:  eventType,
		UserID:     strPtr(userID),
		Action:     action,
		Resource:   resource,
		ResourceID: strPtr(resourceID),
		Result:     result,
		Metadata:   meta,
	}
	if errMsg != "" {
		in.ErrorMessage = strPtr(errMsg)
	}
	if err := s.audit.Record(ctx, in); err != nil {
		s.logger.Error("payments: audit record failed", zap.Error(err))
	}
}
