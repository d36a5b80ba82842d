package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// OrderItem is one line item with the authoritative, server-resolved
// unit price — never the client-supplied price.
type OrderItem struct {
	ProductID string          `json:"productId" db:"product_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice" db:"unit_price"`
}

type Order struct {
	ID              string          `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"userId"`
	Items           []OrderItem     `db:"-" json:"items"`
	Total           decimal.Decimal `db:"total" json:"total"`
	Currency        string          `db:"currency" json:"currency"`
	Status          OrderStatus     `db:"status" json:"status"`
	PaymentIntentID string          `db:"payment_intent_id" json:"paymentIntentId,omitempty"`
	ShippingAddress string          `db:"shipping_address" json:"shippingAddress,omitempty"`
	LastProviderError string        `db:"last_provider_error" json:"-"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// Product is the minimal catalog projection the payment-intent gate
// needs: authoritative price and whether the item can still be sold.
// The catalog itself is an external collaborator; this is only the
// read contract the payment path depends on.
type Product struct {
	ID       string          `db:"id" json:"id"`
	Name     string          `db:"name" json:"name"`
	Price    decimal.Decimal `db:"price" json:"price"`
	IsActive bool            `db:"is_active" json:"isActive"`
}
