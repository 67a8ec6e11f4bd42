package repository

import (
	"context"
	"time"

	"github.com/utafrali/fulfillment/internal/domain"
)

// ProductRepository reads the catalog's products table.
type ProductRepository interface {
	// GetByID retrieves a product by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Product, error)

	// Exists reports whether a product exists.
	Exists(ctx context.Context, id string) (bool, error)

	// GetQuantities returns the current quantity of each product found.
	// Unknown IDs are absent from the map.
	GetQuantities(ctx context.Context, ids []string) (map[string]int, error)
}

// OrderRepository defines the interface for order persistence operations.
type OrderRepository interface {
	// Create inserts an order, its items and the given outbox entries in one
	// transaction.
	Create(ctx context.Context, order *domain.Order, outbox ...domain.OutboxEntry) error

	// GetByID retrieves an order with its items.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// UpdateStatus moves an order from one status to another. It returns
	// ErrConflict if the order is no longer in the from status.
	UpdateStatus(ctx context.Context, id, from, to string) error

	// MarkProcessing moves a pending order to processing and enqueues the
	// outbox entries in the same transaction. It returns false when the order
	// was not pending.
	MarkProcessing(ctx context.Context, id string, outbox []domain.OutboxEntry) (bool, error)

	// Enqueue inserts outbox entries on their own.
	Enqueue(ctx context.Context, outbox ...domain.OutboxEntry) error
}

// LedgerRepository owns product quantity mutations and the movement log.
type LedgerRepository interface {
	// Apply locks the product row, applies the movement and records it.
	// Returns ErrNotFound for a missing product and ErrAlreadyExists when the
	// idempotency key was already used.
	Apply(ctx context.Context, req domain.MovementRequest) (*domain.StockChange, error)

	// Record appends a movement without touching the product quantity.
	Record(ctx context.Context, m *domain.StockMovement) error

	// Movements returns every movement of a product in ledger order.
	Movements(ctx context.Context, productID string) ([]domain.StockMovement, error)

	// List returns a page of a product's movements, newest first, and the
	// total count.
	List(ctx context.Context, productID string, page, perPage int) ([]domain.StockMovement, int, error)
}

// OutboxRepository drains the outbox table.
type OutboxRepository interface {
	// ProcessBatch locks up to limit unpublished entries, oldest first, and
	// calls fn for each. Entries fn accepts are marked published; the others
	// record the error and stay queued.
	ProcessBatch(ctx context.Context, limit int, fn func(ctx context.Context, entry domain.OutboxEntry) error) (published, failed int, err error)

	// DeletePublishedBefore removes published entries older than before.
	DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error)
}
