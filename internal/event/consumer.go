package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

// Subscription groups. Each group receives its own copy of a topic.
const (
	GroupFulfillment   = "orchestrator"
	GroupNotification  = "notification"
	GroupAdjustment    = "adjustment-worker"
	GroupStockObserver = "stock-observer"
	GroupAlerts        = "low-stock-alerts"
)

// FulfillmentService reacts to accepted orders by scheduling stock work.
type FulfillmentService interface {
	HandleOrderAccepted(ctx context.Context, data OrderAcceptedData) error
}

// AdjustmentService applies one adjustment task to the ledger.
type AdjustmentService interface {
	HandleAdjustmentRequested(ctx context.Context, data AdjustmentRequestedData) error
}

// StockObserver records stock changes made outside the ledger.
type StockObserver interface {
	RecordObservedChange(ctx context.Context, data ProductStockChangedData) error
}

// OrderNotifier tells the buyer about an accepted order.
type OrderNotifier interface {
	HandleOrderAccepted(ctx context.Context, data OrderAcceptedData) error
}

// StockAlerter tells operators about low stock.
type StockAlerter interface {
	HandleStockLow(ctx context.Context, data StockLowData) error
}

// Subscriber is the subscribing half of the bus.
type Subscriber interface {
	Subscribe(topic, group string, h pkgkafka.Handler)
}

// Handlers groups the services the consumer dispatches to. Nil members are
// not subscribed.
type Handlers struct {
	Fulfillment FulfillmentService
	Adjustment  AdjustmentService
	Observer    StockObserver
	Notifier    OrderNotifier
	Alerter     StockAlerter
}

// Consumer decodes bus events and hands the payloads to services.
type Consumer struct {
	logger   *slog.Logger
	handlers Handlers
}

// NewConsumer creates a new event consumer.
func NewConsumer(handlers Handlers, logger *slog.Logger) *Consumer {
	return &Consumer{
		handlers: handlers,
		logger:   logger,
	}
}

// Register subscribes every configured handler on s.
func (c *Consumer) Register(s Subscriber) {
	if c.handlers.Fulfillment != nil {
		s.Subscribe(TopicOrderAccepted, GroupFulfillment, c.HandleOrderAccepted)
	}
	if c.handlers.Notifier != nil {
		s.Subscribe(TopicOrderAccepted, GroupNotification, c.NotifyOrderAccepted)
	}
	if c.handlers.Adjustment != nil {
		s.Subscribe(TopicAdjustmentRequested, GroupAdjustment, c.HandleAdjustmentRequested)
	}
	if c.handlers.Observer != nil {
		s.Subscribe(TopicProductStockChanged, GroupStockObserver, c.HandleProductStockChanged)
	}
	if c.handlers.Alerter != nil {
		s.Subscribe(TopicStockLow, GroupAlerts, c.HandleStockLow)
	}
}

// HandleOrderAccepted processes order.accepted events for fulfillment.
func (c *Consumer) HandleOrderAccepted(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderAcceptedData
	if err := event.UnmarshalData(&data); err != nil {
		return pkgkafka.Permanent(fmt.Errorf("unmarshal order.accepted data: %w", err))
	}

	c.logger.InfoContext(ctx, "processing order.accepted event",
		slog.String("order_id", data.OrderID),
		slog.String("event_id", event.EventID),
	)

	if err := c.handlers.Fulfillment.HandleOrderAccepted(ctx, data); err != nil {
		return fmt.Errorf("fulfill order %s: %w", data.OrderID, err)
	}
	return nil
}

// NotifyOrderAccepted processes order.accepted events for the buyer
// notification.
func (c *Consumer) NotifyOrderAccepted(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderAcceptedData
	if err := event.UnmarshalData(&data); err != nil {
		return pkgkafka.Permanent(fmt.Errorf("unmarshal order.accepted data: %w", err))
	}

	if err := c.handlers.Notifier.HandleOrderAccepted(ctx, data); err != nil {
		return fmt.Errorf("notify order %s: %w", data.OrderID, err)
	}
	return nil
}

// HandleAdjustmentRequested processes adjustment tasks.
func (c *Consumer) HandleAdjustmentRequested(ctx context.Context, event *pkgkafka.Event) error {
	var data AdjustmentRequestedData
	if err := event.UnmarshalData(&data); err != nil {
		return pkgkafka.Permanent(fmt.Errorf("unmarshal adjustment_requested data: %w", err))
	}

	c.logger.DebugContext(ctx, "processing adjustment_requested event",
		slog.String("product_id", data.ProductID),
		slog.String("idempotency_key", data.IdempotencyKey),
	)

	if err := c.handlers.Adjustment.HandleAdjustmentRequested(ctx, data); err != nil {
		return fmt.Errorf("apply adjustment %s: %w", data.IdempotencyKey, err)
	}
	return nil
}

// HandleProductStockChanged processes product.stock_changed events.
func (c *Consumer) HandleProductStockChanged(ctx context.Context, event *pkgkafka.Event) error {
	var data ProductStockChangedData
	if err := event.UnmarshalData(&data); err != nil {
		return pkgkafka.Permanent(fmt.Errorf("unmarshal product.stock_changed data: %w", err))
	}

	if err := c.handlers.Observer.RecordObservedChange(ctx, data); err != nil {
		return fmt.Errorf("record stock change for product %s: %w", data.ProductID, err)
	}
	return nil
}

// HandleStockLow processes inventory.low_stock events.
func (c *Consumer) HandleStockLow(ctx context.Context, event *pkgkafka.Event) error {
	var data StockLowData
	if err := event.UnmarshalData(&data); err != nil {
		return pkgkafka.Permanent(fmt.Errorf("unmarshal low_stock data: %w", err))
	}

	if err := c.handlers.Alerter.HandleStockLow(ctx, data); err != nil {
		return fmt.Errorf("alert low stock for product %s: %w", data.ProductID, err)
	}
	return nil
}
