package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/fulfillment/internal/domain"
	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

// Topics carried on the bus.
const (
	TopicOrderAccepted       = "fulfillment.order.accepted"
	TopicProductStockChanged = "fulfillment.product.stock_changed"
	TopicStockLow            = "fulfillment.inventory.low_stock"
	TopicAdjustmentRequested = "fulfillment.inventory.adjustment_requested"
)

// Aggregate type constants.
const (
	AggregateTypeOrder   = "order"
	AggregateTypeProduct = "product"
)

// SourceFulfillmentService identifies events originating from this service.
const SourceFulfillmentService = "fulfillment-service"

// OrderAcceptedData is the payload for an order.accepted event.
type OrderAcceptedData struct {
	OrderID  string `json:"order_id"`
	BuyerID  string `json:"buyer_id"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

// ProductStockChangedData is the payload for a product.stock_changed event.
// MovementID is set when the change was made by the ledger.
type ProductStockChangedData struct {
	ProductID   string `json:"product_id"`
	OldQuantity int    `json:"old_quantity"`
	NewQuantity int    `json:"new_quantity"`
	Reason      string `json:"reason,omitempty"`
	MovementID  string `json:"movement_id,omitempty"`
	Source      string `json:"source,omitempty"`
}

// StockLowData is the payload for an inventory.low_stock event.
type StockLowData struct {
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	MinQuantity int    `json:"min_quantity"`
}

// AdjustmentRequestedData is one inventory adjustment task.
type AdjustmentRequestedData struct {
	ProductID      string `json:"product_id"`
	Type           string `json:"type"`
	Quantity       int    `json:"quantity"`
	Reason         string `json:"reason"`
	ReferenceType  string `json:"reference_type,omitempty"`
	ReferenceID    string `json:"reference_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Request converts the task into a ledger request.
func (d AdjustmentRequestedData) Request() (domain.MovementRequest, error) {
	mt, err := domain.ParseMovementType(d.Type)
	if err != nil {
		return domain.MovementRequest{}, err
	}
	return domain.MovementRequest{
		ProductID:      d.ProductID,
		Type:           mt,
		Quantity:       d.Quantity,
		Reason:         d.Reason,
		ReferenceType:  d.ReferenceType,
		ReferenceID:    d.ReferenceID,
		IdempotencyKey: d.IdempotencyKey,
	}, nil
}

// Publisher is the publishing half of the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes ledger events directly to the bus.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// PublishProductStockChanged publishes a product.stock_changed event for a
// ledger mutation.
func (p *Producer) PublishProductStockChanged(ctx context.Context, change *domain.StockChange) error {
	data := ProductStockChangedData{
		ProductID:   change.ProductID,
		OldQuantity: change.OldQuantity,
		NewQuantity: change.NewQuantity,
		Source:      SourceFulfillmentService,
	}
	if change.Movement != nil {
		data.MovementID = change.Movement.ID
		data.Reason = change.Movement.Reason
	}

	if err := p.publish(ctx, TopicProductStockChanged, change.ProductID, AggregateTypeProduct, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published product.stock_changed event",
		slog.String("product_id", change.ProductID),
		slog.Int("old_quantity", change.OldQuantity),
		slog.Int("new_quantity", change.NewQuantity),
	)
	return nil
}

// PublishStockLow publishes an inventory.low_stock event.
func (p *Producer) PublishStockLow(ctx context.Context, change *domain.StockChange) error {
	if change.MinQuantity == nil {
		return nil
	}
	data := StockLowData{
		ProductID:   change.ProductID,
		Quantity:    change.NewQuantity,
		MinQuantity: *change.MinQuantity,
	}

	if err := p.publish(ctx, TopicStockLow, change.ProductID, AggregateTypeProduct, data); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "published inventory.low_stock event",
		slog.String("product_id", change.ProductID),
		slog.Int("quantity", change.NewQuantity),
		slog.Int("min_quantity", *change.MinQuantity),
	)
	return nil
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	evt, err := pkgkafka.NewEventFromContext(ctx, topic, aggregateID, aggregateType, SourceFulfillmentService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if err := p.publisher.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}
