package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/utafrali/fulfillment/internal/dedup"
	"github.com/utafrali/fulfillment/internal/domain"
	"github.com/utafrali/fulfillment/internal/event"
	"github.com/utafrali/fulfillment/internal/repository"
	apperrors "github.com/utafrali/fulfillment/pkg/errors"
	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

// defaultObservedReason labels catalog changes that arrive without a reason.
const defaultObservedReason = "catalog update"

// StockService implements manual stock movements and the stock read side.
type StockService struct {
	products repository.ProductRepository
	ledger   *Ledger
	logger   *slog.Logger
}

// NewStockService creates a new stock service.
func NewStockService(products repository.ProductRepository, ledger *Ledger, logger *slog.Logger) *StockService {
	return &StockService{
		products: products,
		ledger:   ledger,
		logger:   logger,
	}
}

// CreateStockMovementInput holds the parameters for a manual movement.
type CreateStockMovementInput struct {
	ProductID      string
	Type           string
	Quantity       int
	Reason         string
	ReferenceType  string
	ReferenceID    string
	IdempotencyKey string
}

func movementTypeNames() string {
	names := make([]string, 0, len(domain.MovementTypes()))
	for _, t := range domain.MovementTypes() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

// CreateStockMovement validates input and applies it through the ledger.
// A replayed idempotency key returns an ALREADY_EXISTS error.
func (s *StockService) CreateStockMovement(ctx context.Context, input CreateStockMovementInput) (*domain.StockChange, error) {
	if input.ProductID == "" {
		return nil, apperrors.InvalidInput("product_id is required")
	}
	mt, err := domain.ParseMovementType(input.Type)
	if err != nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid movement type %q, must be one of: %s", input.Type, movementTypeNames()))
	}
	if !mt.ValidQuantity(input.Quantity) {
		if mt.Effect().Kind == domain.EffectAbsolute {
			return nil, apperrors.InvalidInput("quantity must not be negative")
		}
		return nil, apperrors.InvalidInput("quantity must be greater than zero")
	}

	referenceType := input.ReferenceType
	if referenceType == "" {
		referenceType = domain.ReferenceManual
	}

	change, err := s.ledger.Apply(ctx, domain.MovementRequest{
		ProductID:      input.ProductID,
		Type:           mt,
		Quantity:       input.Quantity,
		Reason:         strings.TrimSpace(input.Reason),
		ReferenceType:  referenceType,
		ReferenceID:    input.ReferenceID,
		IdempotencyKey: input.IdempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			return nil, apperrors.UnknownProduct(input.ProductID)
		case errors.Is(err, apperrors.ErrAlreadyExists):
			return nil, apperrors.AlreadyExists("stock movement", "idempotency_key", input.IdempotencyKey)
		}
		return nil, fmt.Errorf("create stock movement: %w", err)
	}

	if change.Clamped() {
		s.logger.WarnContext(ctx, "stock movement clamped at zero",
			slog.String("product_id", change.ProductID),
			slog.String("type", string(mt)),
			slog.Int("requested", change.Requested),
			slog.Int("applied", change.Applied),
		)
	}

	s.logger.InfoContext(ctx, "stock movement created",
		slog.String("product_id", change.ProductID),
		slog.String("type", string(mt)),
		slog.Int("old_quantity", change.OldQuantity),
		slog.Int("new_quantity", change.NewQuantity),
	)

	return change, nil
}

// GetStockSummary folds the product's ledger and compares it with the
// stored quantity.
func (s *StockService) GetStockSummary(ctx context.Context, productID string) (*domain.StockSummary, error) {
	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("product", productID)
		}
		return nil, fmt.Errorf("get product for stock summary: %w", err)
	}

	movements, err := s.ledger.repo.Movements(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get stock movements: %w", err)
	}

	var totals domain.MovementTotals
	for _, m := range movements {
		totals.Add(m)
	}

	summary := domain.NewStockSummary(productID, product.Quantity, totals, domain.FoldLedger(movements))
	return &summary, nil
}

// ListMovements returns a page of the product's movements, newest first.
func (s *StockService) ListMovements(ctx context.Context, productID string, page, perPage int) ([]domain.StockMovement, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	exists, err := s.products.Exists(ctx, productID)
	if err != nil {
		return nil, 0, fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return nil, 0, apperrors.NotFound("product", productID)
	}

	movements, total, err := s.ledger.repo.List(ctx, productID, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list stock movements: %w", err)
	}
	return movements, total, nil
}

// RecordObservedChange turns a catalog-originated quantity change into a
// ledger movement without touching the stored quantity. Changes made by the
// ledger carry a movement ID and are ignored. Identical changes seen within
// the dedup window are recorded once.
func (s *StockService) RecordObservedChange(ctx context.Context, data event.ProductStockChangedData) error {
	if data.MovementID != "" {
		s.logger.DebugContext(ctx, "ignoring stock change made by the ledger",
			slog.String("product_id", data.ProductID),
			slog.String("movement_id", data.MovementID),
		)
		return nil
	}
	if data.NewQuantity == data.OldQuantity {
		return nil
	}

	exists, err := s.products.Exists(ctx, data.ProductID)
	if err != nil {
		return fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return pkgkafka.Permanent(fmt.Errorf("record observed change for product %s: %w", data.ProductID, apperrors.ErrNotFound))
	}

	mt, qty := observedMovement(data.OldQuantity, data.NewQuantity)
	reason := observedReason(data.Reason)

	key := dedup.MovementKey(data.ProductID, string(mt), qty, reason)
	claimed, err := s.ledger.guard.Claim(ctx, key, s.ledger.window)
	if err != nil {
		return fmt.Errorf("claim dedup key: %w", err)
	}
	if !claimed {
		s.logger.InfoContext(ctx, "duplicate stock change suppressed",
			slog.String("product_id", data.ProductID),
			slog.String("key", key),
		)
		return nil
	}

	m := &domain.StockMovement{
		ProductID:     data.ProductID,
		Type:          mt,
		Quantity:      qty,
		Reason:        reason,
		ReferenceType: domain.ReferenceCatalog,
	}
	if err := s.ledger.repo.Record(ctx, m); err != nil {
		if relErr := s.ledger.guard.Release(ctx, key); relErr != nil {
			s.logger.WarnContext(ctx, "failed to release dedup key",
				slog.String("key", key),
				slog.String("error", relErr.Error()),
			)
		}
		return fmt.Errorf("record observed movement: %w", err)
	}
	movementsRecorded.WithLabelValues(string(mt), "catalog").Inc()

	s.logger.InfoContext(ctx, "observed stock change recorded",
		slog.String("product_id", data.ProductID),
		slog.String("movement_id", m.ID),
		slog.String("type", string(mt)),
		slog.Int("quantity", qty),
	)
	return nil
}
