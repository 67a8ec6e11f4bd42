package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/utafrali/fulfillment/internal/domain"
	"github.com/utafrali/fulfillment/internal/event"
	"github.com/utafrali/fulfillment/internal/repository"
	apperrors "github.com/utafrali/fulfillment/pkg/errors"
	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

// Orchestrator turns accepted orders into inventory adjustment tasks.
type Orchestrator struct {
	orders   repository.OrderRepository
	products repository.ProductRepository
	logger   *slog.Logger
}

// NewOrchestrator creates a new fulfillment orchestrator.
func NewOrchestrator(orders repository.OrderRepository, products repository.ProductRepository, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		orders:   orders,
		products: products,
		logger:   logger,
	}
}

// AdjustmentKey is the idempotency key of the sale task for one order line.
func AdjustmentKey(orderID, itemID string) string {
	return fmt.Sprintf("order:%s:item:%s", orderID, itemID)
}

// HandleOrderAccepted checks stock for every line of a pending order and, if
// all lines can be served, moves the order to processing and enqueues one
// sale task per line in the same transaction. Redelivery of an order that
// already left pending is a no-op. A shortfall leaves the order pending and
// returns a permanent error.
func (o *Orchestrator) HandleOrderAccepted(ctx context.Context, data event.OrderAcceptedData) error {
	order, err := o.orders.GetByID(ctx, data.OrderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			fulfillmentFailures.WithLabelValues("order_missing").Inc()
			o.logger.ErrorContext(ctx, "accepted order not found",
				slog.String("order_id", data.OrderID),
			)
			return pkgkafka.Permanent(fmt.Errorf("load order %s: %w", data.OrderID, err))
		}
		return fmt.Errorf("load order %s: %w", data.OrderID, err)
	}

	if order.Status != domain.OrderStatusPending {
		o.logger.InfoContext(ctx, "order already past pending, skipping",
			slog.String("order_id", order.ID),
			slog.String("status", order.Status),
		)
		return nil
	}

	if err := o.checkStock(ctx, order); err != nil {
		return err
	}

	entries := make([]domain.OutboxEntry, 0, len(order.Items))
	for _, item := range order.Items {
		entry, err := event.NewAdjustmentRequestedEntry(ctx, event.AdjustmentRequestedData{
			ProductID:      item.ProductID,
			Type:           string(domain.MovementSale),
			Quantity:       item.Quantity,
			Reason:         fmt.Sprintf("Sale for order %s", order.ID),
			ReferenceType:  domain.ReferenceOrder,
			ReferenceID:    order.ID,
			IdempotencyKey: AdjustmentKey(order.ID, item.ID),
		})
		if err != nil {
			return fmt.Errorf("build adjustment task: %w", err)
		}
		entries = append(entries, entry)
	}

	updated, err := o.orders.MarkProcessing(ctx, order.ID, entries)
	if err != nil {
		return fmt.Errorf("mark order %s processing: %w", order.ID, err)
	}
	if !updated {
		o.logger.InfoContext(ctx, "order claimed by another delivery",
			slog.String("order_id", order.ID),
		)
		return nil
	}

	o.logger.InfoContext(ctx, "order fulfillment started",
		slog.String("order_id", order.ID),
		slog.Int("tasks", len(entries)),
	)
	return nil
}

// checkStock is the binding stock check. Every short line is logged before
// the order is rejected.
func (o *Orchestrator) checkStock(ctx context.Context, order *domain.Order) error {
	requested := order.RequestedQuantities()
	ids := make([]string, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	available, err := o.products.GetQuantities(ctx, ids)
	if err != nil {
		return fmt.Errorf("read stock for order %s: %w", order.ID, err)
	}

	reason := ""
	for _, id := range ids {
		have, ok := available[id]
		switch {
		case !ok:
			reason = "product_missing"
			o.logger.ErrorContext(ctx, "order references a missing product",
				slog.String("order_id", order.ID),
				slog.String("product_id", id),
				slog.Int("requested", requested[id]),
			)
		case have < requested[id]:
			if reason == "" {
				reason = "insufficient_stock"
			}
			o.logger.ErrorContext(ctx, "insufficient stock to fulfill order",
				slog.String("order_id", order.ID),
				slog.String("product_id", id),
				slog.Int("requested", requested[id]),
				slog.Int("available", have),
			)
		}
	}
	if reason == "" {
		return nil
	}

	fulfillmentFailures.WithLabelValues(reason).Inc()
	return pkgkafka.Permanent(fmt.Errorf("fulfill order %s: %w", order.ID, domain.ErrInsufficientStock))
}
