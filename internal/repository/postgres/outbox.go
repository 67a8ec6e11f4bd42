package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/fulfillment/internal/domain"
	"github.com/utafrali/fulfillment/internal/repository"
	"github.com/utafrali/fulfillment/pkg/database"
)

const insertOutboxQuery = `
	INSERT INTO outbox_events (id, topic, event_type, aggregate_id, payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

// insertOutbox writes entries inside an open transaction.
func insertOutbox(ctx context.Context, tx pgx.Tx, entries []domain.OutboxEntry) error {
	for _, e := range entries {
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, insertOutboxQuery,
			e.ID,
			e.Topic,
			e.EventType,
			e.AggregateID,
			[]byte(e.Payload),
			createdAt,
		); err != nil {
			return fmt.Errorf("insert outbox entry %s: %w", e.ID, err)
		}
	}
	return nil
}

// OutboxRepository implements repository.OutboxRepository using PostgreSQL.
type OutboxRepository struct {
	pool database.DBTX
}

var _ repository.OutboxRepository = (*OutboxRepository)(nil)

// NewOutboxRepository creates a new PostgreSQL-backed outbox repository.
func NewOutboxRepository(pool database.DBTX) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// ProcessBatch locks a batch of unpublished rows with SKIP LOCKED, so several
// dispatchers can run side by side, and settles each row in the same
// transaction.
func (r *OutboxRepository) ProcessBatch(ctx context.Context, limit int, fn func(context.Context, domain.OutboxEntry) error) (int, int, error) {
	var published, failed int

	err := database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			SELECT id, topic, event_type, aggregate_id, payload, attempts, created_at
			FROM outbox_events
			WHERE published_at IS NULL
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED`

		rows, err := tx.Query(ctx, query, limit)
		if err != nil {
			return fmt.Errorf("select outbox batch: %w", err)
		}

		var batch []domain.OutboxEntry
		for rows.Next() {
			var (
				e       domain.OutboxEntry
				payload []byte
			)
			if err := rows.Scan(&e.ID, &e.Topic, &e.EventType, &e.AggregateID, &payload, &e.Attempts, &e.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox entry: %w", err)
			}
			e.Payload = payload
			batch = append(batch, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate outbox batch: %w", err)
		}

		for _, e := range batch {
			if pubErr := fn(ctx, e); pubErr != nil {
				failed++
				if _, err := tx.Exec(ctx,
					`UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE id = $1`,
					e.ID, pubErr.Error(),
				); err != nil {
					return fmt.Errorf("record outbox failure: %w", err)
				}
				continue
			}
			published++
			if _, err := tx.Exec(ctx,
				`UPDATE outbox_events SET published_at = NOW() WHERE id = $1`,
				e.ID,
			); err != nil {
				return fmt.Errorf("mark outbox entry published: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return published, failed, nil
}

// DeletePublishedBefore removes published rows older than before.
func (r *OutboxRepository) DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx,
		`DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("delete published outbox entries: %w", err)
	}
	return ct.RowsAffected(), nil
}
