package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/fulfillment/internal/domain"
	"github.com/utafrali/fulfillment/internal/repository"
	"github.com/utafrali/fulfillment/pkg/database"
	apperrors "github.com/utafrali/fulfillment/pkg/errors"
)

const pgUniqueViolation = "23505"

const (
	lockProductQuery = `
		SELECT quantity, min_quantity
		FROM products
		WHERE id = $1
		FOR UPDATE`

	insertMovementQuery = `
		INSERT INTO stock_movements (id, product_id, type, quantity, reason, reference_type, reference_id, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`

	movementColumns = `id, seq, product_id, type, quantity, reason, reference_type, reference_id, idempotency_key, created_at`
)

// LedgerRepository implements repository.LedgerRepository using PostgreSQL.
type LedgerRepository struct {
	pool database.DBTX
}

var _ repository.LedgerRepository = (*LedgerRepository)(nil)

// NewLedgerRepository creates a new PostgreSQL-backed ledger repository.
func NewLedgerRepository(pool database.DBTX) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Apply serialises on the product row lock, applies the movement with the
// zero clamp and appends the movement in the same transaction.
func (r *LedgerRepository) Apply(ctx context.Context, req domain.MovementRequest) (change *domain.StockChange, err error) {
	ctx, end := database.TraceQuery(ctx, "ApplyMovement", lockProductQuery)
	defer func() { end(err) }()

	err = database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			quantity    int
			minQuantity *int
		)
		if err := tx.QueryRow(ctx, lockProductQuery, req.ProductID).Scan(&quantity, &minQuantity); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.ErrNotFound
			}
			return fmt.Errorf("lock product: %w", err)
		}

		if req.IdempotencyKey != "" {
			var used bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM stock_movements WHERE idempotency_key = $1)`,
				req.IdempotencyKey,
			).Scan(&used); err != nil {
				return fmt.Errorf("check idempotency key: %w", err)
			}
			if used {
				return apperrors.ErrAlreadyExists
			}
		}

		effect := req.Type.Effect()
		next, applied := effect.Apply(quantity, req.Quantity)

		if _, err := tx.Exec(ctx,
			`UPDATE products SET quantity = $1, updated_at = NOW() WHERE id = $2`,
			next, req.ProductID,
		); err != nil {
			return fmt.Errorf("update product quantity: %w", err)
		}

		change = &domain.StockChange{
			ProductID:   req.ProductID,
			Type:        req.Type,
			OldQuantity: quantity,
			NewQuantity: next,
			MinQuantity: minQuantity,
			Requested:   req.Quantity,
			Applied:     applied,
		}

		// A keyed task is always recorded, even at zero applied, so a
		// redelivery after a restock finds its key.
		if effect.Kind == domain.EffectDelta && applied == 0 && req.IdempotencyKey == "" {
			return nil
		}

		m := &domain.StockMovement{
			ID:             uuid.New().String(),
			ProductID:      req.ProductID,
			Type:           req.Type,
			Quantity:       applied,
			Reason:         req.Reason,
			ReferenceType:  req.ReferenceType,
			ReferenceID:    req.ReferenceID,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      time.Now().UTC(),
		}
		if err := insertMovement(ctx, tx, m); err != nil {
			return err
		}
		change.Movement = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func insertMovement(ctx context.Context, tx pgx.Tx, m *domain.StockMovement) error {
	err := tx.QueryRow(ctx, insertMovementQuery,
		m.ID,
		m.ProductID,
		string(m.Type),
		m.Quantity,
		m.Reason,
		nullable(m.ReferenceType),
		nullable(m.ReferenceID),
		nullable(m.IdempotencyKey),
		m.CreatedAt,
	).Scan(&m.Seq)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrAlreadyExists
		}
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

// Record appends a movement without changing the product quantity.
func (r *LedgerRepository) Record(ctx context.Context, m *domain.StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		return insertMovement(ctx, tx, m)
	})
}

func scanMovement(row pgx.Row, extra ...any) (domain.StockMovement, error) {
	var m domain.StockMovement
	var mType string
	var referenceType, referenceID, idemKey *string
	dest := append([]any{
		&m.ID,
		&m.Seq,
		&m.ProductID,
		&mType,
		&m.Quantity,
		&m.Reason,
		&referenceType,
		&referenceID,
		&idemKey,
		&m.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return m, err
	}
	m.Type = domain.MovementType(mType)
	m.ReferenceType = deref(referenceType)
	m.ReferenceID = deref(referenceID)
	m.IdempotencyKey = deref(idemKey)
	return m, nil
}

// Movements returns every movement of a product ordered by seq.
func (r *LedgerRepository) Movements(ctx context.Context, productID string) ([]domain.StockMovement, error) {
	query := `SELECT ` + movementColumns + `
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY seq`

	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	var movements []domain.StockMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}

	return movements, nil
}

// List returns a page of a product's movements, newest first.
func (r *LedgerRepository) List(ctx context.Context, productID string, page, perPage int) ([]domain.StockMovement, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	query := `SELECT ` + movementColumns + `,
			   count(*) OVER() AS total_count
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, productID, perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0)
	var totalCount int
	for rows.Next() {
		m, err := scanMovement(rows, &totalCount)
		if err != nil {
			return nil, 0, fmt.Errorf("scan stock movement: %w", err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate stock movements: %w", err)
	}

	return movements, totalCount, nil
}
