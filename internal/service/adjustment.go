package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/fulfillment/internal/event"
	apperrors "github.com/utafrali/fulfillment/pkg/errors"
	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

// AdjustmentWorker applies inventory adjustment tasks to the ledger.
type AdjustmentWorker struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewAdjustmentWorker creates a new adjustment worker.
func NewAdjustmentWorker(ledger *Ledger, logger *slog.Logger) *AdjustmentWorker {
	return &AdjustmentWorker{
		ledger: ledger,
		logger: logger,
	}
}

// HandleAdjustmentRequested applies one task. A task whose idempotency key
// was already used is acknowledged without effect. Malformed tasks and tasks
// for deleted products fail permanently.
func (w *AdjustmentWorker) HandleAdjustmentRequested(ctx context.Context, data event.AdjustmentRequestedData) error {
	req, err := data.Request()
	if err != nil {
		adjustmentPermanentFailures.Inc()
		return pkgkafka.Permanent(fmt.Errorf("parse adjustment task: %w", err))
	}
	if !req.Type.ValidQuantity(req.Quantity) {
		adjustmentPermanentFailures.Inc()
		return pkgkafka.Permanent(fmt.Errorf("adjustment task %s: invalid quantity %d", req.IdempotencyKey, req.Quantity))
	}

	change, err := w.ledger.Apply(ctx, req)
	switch {
	case errors.Is(err, apperrors.ErrAlreadyExists):
		w.logger.InfoContext(ctx, "adjustment already applied",
			slog.String("product_id", req.ProductID),
			slog.String("idempotency_key", req.IdempotencyKey),
		)
		return nil
	case errors.Is(err, apperrors.ErrNotFound):
		adjustmentPermanentFailures.Inc()
		w.logger.ErrorContext(ctx, "adjustment for missing product",
			slog.String("product_id", req.ProductID),
			slog.String("idempotency_key", req.IdempotencyKey),
			slog.String("reference_id", req.ReferenceID),
		)
		return pkgkafka.Permanent(err)
	case err != nil:
		return fmt.Errorf("apply adjustment %s: %w", req.IdempotencyKey, err)
	}

	if change.Clamped() {
		adjustmentsClamped.Inc()
		w.logger.WarnContext(ctx, "oversell detected",
			slog.String("product_id", req.ProductID),
			slog.String("reference_id", req.ReferenceID),
			slog.Int("requested", change.Requested),
			slog.Int("applied", change.Applied),
		)
	}

	w.logger.InfoContext(ctx, "adjustment applied",
		slog.String("product_id", req.ProductID),
		slog.String("type", string(req.Type)),
		slog.String("idempotency_key", req.IdempotencyKey),
		slog.Int("old_quantity", change.OldQuantity),
		slog.Int("new_quantity", change.NewQuantity),
	)
	return nil
}
