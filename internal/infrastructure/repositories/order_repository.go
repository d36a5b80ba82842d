package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/railguard/sentinel/internal/domain/entities"
)

// OrderRepository is the Postgres-backed implementation of
// fraud.OrderHistory and the order-creation side of the payment-intent
// gate, persisting against the orders table.
type OrderRepository struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, o *entities.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("orders: marshal items: %w", err)
	}

	query := `
		INSERT INTO orders (
			id, user_id, items, total, currency, status,
			payment_intent_id, shipping_address, last_provider_error,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.ExecContext(ctx, query,
		o.ID, o.UserID, items, o.Total, o.Currency, o.Status,
		o.PaymentIntentID, o.ShippingAddress, o.LastProviderError,
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("orders: insert: %w", err)
	}
	return nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status entities.OrderStatus, providerError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = $2, last_provider_error = $3, updated_at = NOW() WHERE id = $1`,
		orderID, status, providerError)
	if err != nil {
		return fmt.Errorf("orders: update status: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, orderID string) (*entities.Order, error) {
	return r.scanOne(ctx, `SELECT id, user_id, items, total, currency, status,
		payment_intent_id, shipping_address, last_provider_error, created_at, updated_at
		FROM orders WHERE id = $1`, orderID)
}

func (r *OrderRepository) GetByPaymentIntentID(ctx context.Context, intentID string) (*entities.Order, error) {
	return r.scanOne(ctx, `SELECT id, user_id, items, total, currency, status,
		payment_intent_id, shipping_address, last_provider_error, created_at, updated_at
		FROM orders WHERE payment_intent_id = $1`, intentID)
}

func (r *OrderRepository) scanOne(ctx context.Context, query string, arg any) (*entities.Order, error) {
	var o entities.Order
	var items []byte
	var paymentIntentID, shippingAddress, lastProviderError sql.NullString

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&o.ID, &o.UserID, &items, &o.Total, &o.Currency, &o.Status,
		&paymentIntentID, &shippingAddress, &lastProviderError, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("orders: scan: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("orders: unmarshal items: %w", err)
	}
	o.PaymentIntentID = paymentIntentID.String
	o.ShippingAddress = shippingAddress.String
	o.LastProviderError = lastProviderError.String
	return &o, nil
}

// RecentOrders returns a user's most recent orders, newest first,
// capped at limit.
func (r *OrderRepository) RecentOrders(ctx context.Context, userID string, limit int) ([]*entities.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, items, total, currency, status,
		 payment_intent_id, shipping_address, last_provider_error, created_at, updated_at
		 FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("orders: recent: %w", err)
	}
	defer rows.Close()

	var out []*entities.Order
	for rows.Next() {
		var o entities.Order
		var items []byte
		var paymentIntentID, shippingAddress, lastProviderError sql.NullString

		if err := rows.Scan(&o.ID, &o.UserID, &items, &o.Total, &o.Currency, &o.Status,
			&paymentIntentID, &shippingAddress, &lastProviderError, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("orders: scan recent: %w", err)
		}
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("orders: unmarshal items: %w", err)
		}
		o.PaymentIntentID = paymentIntentID.String
		o.ShippingAddress = shippingAddress.String
		o.LastProviderError = lastProviderError.String
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (r *OrderRepository) CountOrdersSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1 AND created_at >= $2`, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("orders: count since: %w", err)
	}
	return count, nil
}

func (r *OrderRepository) CountOrdersTotal(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("orders: count total: %w", err)
	}
	return count, nil
}

func (r *OrderRepository) HasShippedTo(ctx context.Context, userID, shippingAddress string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE user_id = $1 AND shipping_address = $2)`,
		userID, shippingAddress).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("orders: has shipped to: %w", err)
	}
	return exists, nil
}

// GetProductsByIDs loads the authoritative catalog rows the
// payment-intent gate prices against.
func (r *OrderRepository) GetProductsByIDs(ctx context.Context, ids []string) ([]*entities.Product, error) {
	query, args, err := sqlx.In(`SELECT id, name, price, is_active FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("orders: build products query: %w", err)
	}
	query = r.db.Rebind(query)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("orders: load products: %w", err)
	}
	defer rows.Close()

	var out []*entities.Product
	for rows.Next() {
		var p entities.Product
		var price decimal.Decimal
		if err := rows.Scan(&p.ID, &p.Name, &price, &p.IsActive); err != nil {
			return nil, fmt.Errorf("orders: scan product: %w", err)
		}
		p.Price = price
		out = append(out, &p)
	}
	return out, rows.Err()
}
