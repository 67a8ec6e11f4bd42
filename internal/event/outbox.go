package event

import (
	"context"
	"fmt"

	"github.com/utafrali/fulfillment/internal/domain"
	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

// NewOutboxEntry serializes evt into a row for the outbox table. The row ID
// is the event ID, so a re-dispatched row is recognised by consumers.
func NewOutboxEntry(topic string, evt *pkgkafka.Event) (domain.OutboxEntry, error) {
	payload, err := evt.Marshal()
	if err != nil {
		return domain.OutboxEntry{}, fmt.Errorf("marshal %s event: %w", topic, err)
	}
	return domain.OutboxEntry{
		ID:          evt.EventID,
		Topic:       topic,
		EventType:   evt.EventType,
		AggregateID: evt.AggregateID,
		Payload:     payload,
		CreatedAt:   evt.Timestamp,
	}, nil
}

// NewOrderAcceptedEntry builds the outbox row announcing an accepted order.
func NewOrderAcceptedEntry(ctx context.Context, order *domain.Order) (domain.OutboxEntry, error) {
	data := OrderAcceptedData{
		OrderID:  order.ID,
		BuyerID:  order.BuyerID,
		Total:    order.Total,
		Currency: order.Currency,
	}
	evt, err := pkgkafka.NewEventFromContext(ctx, TopicOrderAccepted, order.ID, AggregateTypeOrder, SourceFulfillmentService, data)
	if err != nil {
		return domain.OutboxEntry{}, fmt.Errorf("create order.accepted event: %w", err)
	}
	return NewOutboxEntry(TopicOrderAccepted, evt)
}

// NewAdjustmentRequestedEntry builds the outbox row for one adjustment task.
// Tasks are keyed by product so one product's tasks share a partition.
func NewAdjustmentRequestedEntry(ctx context.Context, data AdjustmentRequestedData) (domain.OutboxEntry, error) {
	evt, err := pkgkafka.NewEventFromContext(ctx, TopicAdjustmentRequested, data.ProductID, AggregateTypeProduct, SourceFulfillmentService, data)
	if err != nil {
		return domain.OutboxEntry{}, fmt.Errorf("create adjustment_requested event: %w", err)
	}
	return NewOutboxEntry(TopicAdjustmentRequested, evt)
}
