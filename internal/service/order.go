package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/fulfillment/internal/domain"
	"github.com/utafrali/fulfillment/internal/event"
	"github.com/utafrali/fulfillment/internal/repository"
	apperrors "github.com/utafrali/fulfillment/pkg/errors"
)

// PricingConfig holds the order pricing parameters.
type PricingConfig struct {
	TaxRate     decimal.Decimal
	ShippingFee int64
	Currency    string
}

// OrderService implements the business logic for order operations.
type OrderService struct {
	repo     repository.OrderRepository
	products repository.ProductRepository
	pricing  PricingConfig
	logger   *slog.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(repo repository.OrderRepository, products repository.ProductRepository, pricing PricingConfig, logger *slog.Logger) *OrderService {
	return &OrderService{
		repo:     repo,
		products: products,
		pricing:  pricing,
		logger:   logger,
	}
}

// CreateOrderItemInput holds the parameters for an order line item.
type CreateOrderItemInput struct {
	ProductID string
	Quantity  int
}

// CreateOrderInput holds the parameters for creating an order.
type CreateOrderInput struct {
	BuyerID         string
	Items           []CreateOrderItemInput
	ShippingAddress *domain.Address
	BillingAddress  *domain.Address
	Notes           string
}

func validateAddress(name string, a *domain.Address) error {
	if a == nil {
		return apperrors.InvalidInput(name + " is required")
	}
	if missing := a.MissingFields(); len(missing) > 0 {
		return apperrors.InvalidInput(fmt.Sprintf("%s is missing: %s", name, strings.Join(missing, ", ")))
	}
	return nil
}

func (in CreateOrderInput) validate() error {
	if in.BuyerID == "" {
		return apperrors.InvalidInput("buyer_id is required")
	}
	if len(in.Items) == 0 {
		return apperrors.InvalidInput("order must contain at least one item")
	}
	for i, it := range in.Items {
		if it.ProductID == "" {
			return apperrors.InvalidInput(fmt.Sprintf("items[%d].product_id is required", i))
		}
		if it.Quantity <= 0 {
			return apperrors.InvalidInput(fmt.Sprintf("items[%d].quantity must be greater than zero", i))
		}
	}
	if err := validateAddress("shipping_address", in.ShippingAddress); err != nil {
		return err
	}
	return validateAddress("billing_address", in.BillingAddress)
}

// CreateOrder prices the requested items at current catalog prices and
// persists the order together with its order.accepted outbox entry.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	products := make(map[string]*domain.Product, len(input.Items))
	for _, it := range input.Items {
		if _, ok := products[it.ProductID]; ok {
			continue
		}
		p, err := s.products.GetByID(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, apperrors.UnknownProduct(it.ProductID)
			}
			return nil, fmt.Errorf("get product %s: %w", it.ProductID, err)
		}
		products[it.ProductID] = p
	}

	now := time.Now().UTC()
	orderID := uuid.New().String()

	items := make([]domain.OrderItem, len(input.Items))
	for i, it := range input.Items {
		p := products[it.ProductID]
		items[i] = domain.OrderItem{
			ID:          uuid.New().String(),
			OrderID:     orderID,
			ProductID:   it.ProductID,
			ProductName: p.Name,
			Quantity:    it.Quantity,
			UnitPrice:   p.Price,
		}
	}

	order := &domain.Order{
		ID:              orderID,
		BuyerID:         input.BuyerID,
		Status:          domain.OrderStatusPending,
		Items:           items,
		Currency:        s.pricing.Currency,
		ShippingAddress: *input.ShippingAddress,
		BillingAddress:  *input.BillingAddress,
		Notes:           input.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	domain.PriceOrder(order.Items, s.pricing.TaxRate, s.pricing.ShippingFee).Apply(order)

	s.checkStock(ctx, order, products)

	entry, err := event.NewOrderAcceptedEntry(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("build order.accepted entry: %w", err)
	}
	if err := s.repo.Create(ctx, order, entry); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	ordersCreated.Inc()

	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID),
		slog.String("buyer_id", order.BuyerID),
		slog.Int64("total", order.Total),
	)

	return order, nil
}

// checkStock compares the requested quantities with the stock read while
// pricing. It never rejects an order; the orchestrator makes the binding
// check.
func (s *OrderService) checkStock(ctx context.Context, order *domain.Order, products map[string]*domain.Product) {
	short := false
	for productID, requested := range order.RequestedQuantities() {
		p, ok := products[productID]
		if !ok {
			continue
		}
		if available := p.Quantity; available < requested {
			short = true
			s.logger.WarnContext(ctx, "order accepted with insufficient stock",
				slog.String("order_id", order.ID),
				slog.String("product_id", productID),
				slog.Int("requested", requested),
				slog.Int("available", available),
			)
		}
	}
	if short {
		advisoryShortfalls.Inc()
	}
}

// GetOrder retrieves an order by its ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return order, nil
}

// UpdateStatus applies an operator status transition. The move to
// processing belongs to the orchestrator and is rejected here.
func (s *OrderService) UpdateStatus(ctx context.Context, id, newStatus string) (*domain.Order, error) {
	if !domain.IsValidStatus(newStatus) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid status %q, must be one of: %s", newStatus, strings.Join(domain.ValidStatuses(), ", ")))
	}
	if newStatus == domain.OrderStatusProcessing {
		return nil, apperrors.InvalidInput("status processing is set by fulfillment")
	}

	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.CanTransitionTo(newStatus) {
		return nil, apperrors.Conflict(fmt.Sprintf("cannot transition from %q to %q", order.Status, newStatus))
	}

	oldStatus := order.Status
	if err := s.repo.UpdateStatus(ctx, id, oldStatus, newStatus); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrConflict):
			return nil, apperrors.Conflict(fmt.Sprintf("order %s changed status concurrently", id))
		case errors.Is(err, apperrors.ErrNotFound):
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}

	s.logger.InfoContext(ctx, "order status updated",
		slog.String("order_id", id),
		slog.String("old_status", oldStatus),
		slog.String("new_status", newStatus),
	)

	order.Status = newStatus
	return order, nil
}

// RetryFulfillment re-announces a pending order so the orchestrator runs
// again, typically after an operator restocked.
func (s *OrderService) RetryFulfillment(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return nil, apperrors.Conflict(fmt.Sprintf("order is %s, only pending orders can be fulfilled again", order.Status))
	}

	entry, err := event.NewOrderAcceptedEntry(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("build order.accepted entry: %w", err)
	}
	if err := s.repo.Enqueue(ctx, entry); err != nil {
		return nil, fmt.Errorf("enqueue order.accepted: %w", err)
	}

	s.logger.InfoContext(ctx, "order fulfillment retried",
		slog.String("order_id", id),
		slog.String("event_id", entry.ID),
	)
	return order, nil
}
