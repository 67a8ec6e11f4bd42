package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/fulfillment/internal/domain"
	"github.com/utafrali/fulfillment/internal/repository"
	"github.com/utafrali/fulfillment/pkg/database"
	apperrors "github.com/utafrali/fulfillment/pkg/errors"
)

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	pool database.DBTX
}

var _ repository.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order, its items and the outbox entries atomically.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order, outbox ...domain.OutboxEntry) error {
	shippingJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}
	billingJSON, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("marshal billing address: %w", err)
	}

	return database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		orderQuery := `
			INSERT INTO orders (id, buyer_id, status, subtotal, tax, shipping_cost, total, currency, shipping_address, billing_address, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

		_, err := tx.Exec(ctx, orderQuery,
			o.ID,
			o.BuyerID,
			o.Status,
			o.Subtotal,
			o.Tax,
			o.ShippingCost,
			o.Total,
			o.Currency,
			shippingJSON,
			billingJSON,
			o.Notes,
			o.CreatedAt,
			o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		itemQuery := `
			INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`

		for _, item := range o.Items {
			_, err = tx.Exec(ctx, itemQuery,
				item.ID,
				item.OrderID,
				item.ProductID,
				item.ProductName,
				item.Quantity,
				item.UnitPrice,
				item.TotalPrice,
			)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		return insertOutbox(ctx, tx, outbox)
	})
}

// GetByID retrieves an order by its ID, loading its items in the same query.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `
		SELECT
			o.id, o.buyer_id, o.status, o.subtotal, o.tax, o.shipping_cost, o.total,
			o.currency, o.shipping_address, o.billing_address, o.notes, o.created_at, o.updated_at,
			COALESCE(
				JSONB_AGG(
					JSONB_BUILD_OBJECT(
						'id', oi.id,
						'order_id', oi.order_id,
						'product_id', oi.product_id,
						'product_name', oi.product_name,
						'quantity', oi.quantity,
						'unit_price', oi.unit_price,
						'total_price', oi.total_price
					) ORDER BY oi.created_at, oi.id
				) FILTER (WHERE oi.id IS NOT NULL),
				'[]'::jsonb
			) AS items
		FROM orders o
		LEFT JOIN order_items oi ON o.id = oi.order_id
		WHERE o.id = $1
		GROUP BY o.id`

	var (
		o            domain.Order
		shippingJSON []byte
		billingJSON  []byte
		itemsJSON    []byte
	)

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID,
		&o.BuyerID,
		&o.Status,
		&o.Subtotal,
		&o.Tax,
		&o.ShippingCost,
		&o.Total,
		&o.Currency,
		&shippingJSON,
		&billingJSON,
		&o.Notes,
		&o.CreatedAt,
		&o.UpdatedAt,
		&itemsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if err := json.Unmarshal(shippingJSON, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if err := json.Unmarshal(billingJSON, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal billing address: %w", err)
	}

	o.Items = []domain.OrderItem{}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, fmt.Errorf("unmarshal order items: %w", err)
		}
	}

	return &o, nil
}

// UpdateStatus changes the status of an order that is still in from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id, from, to string) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`

	ct, err := r.pool.Exec(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	if ct.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			return apperrors.ErrNotFound
		}
		return apperrors.ErrConflict
	}

	return nil
}

// MarkProcessing moves a pending order to processing and enqueues its
// adjustment tasks in one transaction.
func (r *OrderRepository) MarkProcessing(ctx context.Context, id string, outbox []domain.OutboxEntry) (bool, error) {
	var updated bool

	err := database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			UPDATE orders
			SET status = $1, updated_at = $2
			WHERE id = $3 AND status = $4`

		ct, err := tx.Exec(ctx, query, domain.OrderStatusProcessing, time.Now().UTC(), id, domain.OrderStatusPending)
		if err != nil {
			return fmt.Errorf("mark order processing: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return nil
		}
		updated = true
		return insertOutbox(ctx, tx, outbox)
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

// Enqueue inserts outbox entries in their own transaction.
func (r *OrderRepository) Enqueue(ctx context.Context, outbox ...domain.OutboxEntry) error {
	return database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		return insertOutbox(ctx, tx, outbox)
	})
}
