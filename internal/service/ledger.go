package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/fulfillment/internal/dedup"
	"github.com/utafrali/fulfillment/internal/domain"
	"github.com/utafrali/fulfillment/internal/event"
	"github.com/utafrali/fulfillment/internal/repository"
)

// Ledger applies stock movements and announces the committed result.
type Ledger struct {
	repo     repository.LedgerRepository
	guard    dedup.Guard
	window   time.Duration
	producer *event.Producer
	logger   *slog.Logger
}

// NewLedger creates a ledger. guard and window control the observed-change
// suppression shared with StockService.RecordObservedChange.
func NewLedger(repo repository.LedgerRepository, guard dedup.Guard, window time.Duration, producer *event.Producer, logger *slog.Logger) *Ledger {
	if window <= 0 {
		window = dedup.DefaultWindow
	}
	return &Ledger{
		repo:     repo,
		guard:    guard,
		window:   window,
		producer: producer,
		logger:   logger,
	}
}

// Apply runs req in one repository transaction. After commit it claims the
// dedup key for the observed change and publishes stock events; failures of
// those steps are logged and do not fail the call.
func (l *Ledger) Apply(ctx context.Context, req domain.MovementRequest) (*domain.StockChange, error) {
	change, err := l.repo.Apply(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("apply %s movement: %w", req.Type, err)
	}
	if change.Movement == nil {
		return change, nil
	}

	movementsRecorded.WithLabelValues(string(req.Type), "ledger").Inc()
	if req.Type.Effect().Kind == domain.EffectDelta && change.Applied == 0 {
		return change, nil
	}
	l.claimObserved(ctx, change)
	l.announce(ctx, change)
	return change, nil
}

// observedMovement describes a raw quantity change as the movement that would
// explain it.
func observedMovement(oldQuantity, newQuantity int) (domain.MovementType, int) {
	if newQuantity >= oldQuantity {
		return domain.MovementInbound, newQuantity - oldQuantity
	}
	return domain.MovementOutbound, oldQuantity - newQuantity
}

func observedReason(reason string) string {
	if r := strings.TrimSpace(reason); r != "" {
		return r
	}
	return defaultObservedReason
}

func (l *Ledger) claimObserved(ctx context.Context, change *domain.StockChange) {
	if change.NewQuantity == change.OldQuantity {
		return
	}
	mt, qty := observedMovement(change.OldQuantity, change.NewQuantity)
	key := dedup.MovementKey(change.ProductID, string(mt), qty, observedReason(change.Movement.Reason))
	if _, err := l.guard.Claim(ctx, key, l.window); err != nil {
		l.logger.WarnContext(ctx, "failed to claim dedup key for ledger movement",
			slog.String("product_id", change.ProductID),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Ledger) announce(ctx context.Context, change *domain.StockChange) {
	if err := l.producer.PublishProductStockChanged(ctx, change); err != nil {
		l.logger.ErrorContext(ctx, "failed to publish product.stock_changed event",
			slog.String("product_id", change.ProductID),
			slog.String("error", err.Error()),
		)
	}

	if !change.Low() {
		return
	}
	if err := l.producer.PublishStockLow(ctx, change); err != nil {
		l.logger.ErrorContext(ctx, "failed to publish inventory.low_stock event",
			slog.String("product_id", change.ProductID),
			slog.String("error", err.Error()),
		)
	}
}
