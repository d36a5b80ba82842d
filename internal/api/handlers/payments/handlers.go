// Package payments adapts internal/domain/services/payments to HTTP.
// The create-intent handler binds only product ids and quantities —
// pricing always resolves server-side in the service, never from the
// request body. The webhook handler reads the raw body itself rather
// than through gin's JSON binder, since signature verification must
// run against the exact bytes the provider signed.
package payments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	paymentssvc "github.com/railguard/sentinel/internal/domain/services/payments"
	"github.com/railguard/sentinel/pkg/apperr"
)

// forbiddenIntentFields lists the client-supplied-price keys the
// validator rejects outright before binding ever runs: authoritative
// pricing always comes from the catalog inside the service, never the
// request body.
var forbiddenIntentFields = []string{"amount", "price", "total", "discount"}

func rejectForbiddenFields(c *gin.Context) bool {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		_ = c.Error(apperr.Validation("invalid_body", "could not read request body"))
		return true
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// Malformed JSON is left to ShouldBindJSON to report.
		return false
	}
	for _, field := range forbiddenIntentFields {
		if _, present := decoded[field]; present {
			_ = c.Error(apperr.Validation("forbidden_field", fmt.Sprintf("field %q may not be set by the client; price is computed server-side", field)).
				WithField(field, "forbidden"))
			return true
		}
	}
	return false
}

type Handler struct {
	svc    *paymentssvc.Service
	logger *zap.Logger
}

func New(svc *paymentssvc.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type itemRequest struct {
	ProductID string `json:"productId" binding:"required,len=24,hexadecimal"`
	Quantity  int    `json:"quantity" binding:"required,min=1,max=100"`
}

type createIntentRequest struct {
	Items           []itemRequest `json:"items" binding:"required,min=1,max=50,dive"`
	Currency        string        `json:"currency" binding:"required,len=3"`
	ShippingAddress string        `json:"shippingAddress"`
}

// CreateIntent prices and gates the order. The signature-webhook
// verification bearer-auth chain already established the caller's
// identity in context; the request body here carries no amount,
// price, total, or discount field at all — only ids and quantities.
func (h *Handler) CreateIntent(c *gin.Context) {
	if rejectForbiddenFields(c) {
		return
	}

	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.Validation("invalid_body", err.Error()))
		return
	}

	items := make([]paymentssvc.ItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = paymentssvc.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	order, intent, err := h.svc.CreateIntent(c.Request.Context(), paymentssvc.CreateIntentRequest{
		UserID:          c.GetString("user_id"),
		Items:           items,
		Currency:        req.Currency,
		ShippingAddress: req.ShippingAddress,
		IP:              c.ClientIP(),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"orderId":      order.ID,
		"total":        order.Total,
		"currency":     order.Currency,
		"status":       order.Status,
		"clientSecret": intent.ClientSecret,
	})
}

// Webhook reads the raw body directly: middleware.BodySizeLimit caps
// ordinary routes at middleware.JSONBodyLimit, far below the provider's
// payload size, so this route must not be routed through it — it's
// bounded separately by paymentssvc.MaxWebhookBodyBytes via io.LimitReader.
func (h *Handler) Webhook(c *gin.Context, signatureHeaderName string) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, paymentssvc.MaxWebhookBodyBytes+1))
	if err != nil {
		_ = c.Error(apperr.Validation("body_read_failed", "could not read webhook body"))
		return
	}

	sig := c.GetHeader(signatureHeaderName)
	if sig == "" {
		_ = c.Error(apperr.Validation("missing_signature", "webhook signature header is required"))
		return
	}

	if err := h.svc.HandleWebhook(c.Request.Context(), body, sig); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
