package notification

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
	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

// Sink sends the buyer an order confirmation for every accepted order.
type Sink struct {
	orders repository.OrderRepository
	sender Sender
	logger *slog.Logger
}

// NewSink creates a new order confirmation sink.
func NewSink(orders repository.OrderRepository, sender Sender, logger *slog.Logger) *Sink {
	return &Sink{
		orders: orders,
		sender: sender,
		logger: logger,
	}
}

// HandleOrderAccepted renders and sends the confirmation. A failed send is
// returned so the notification subscription retries it on its own.
func (s *Sink) HandleOrderAccepted(ctx context.Context, data event.OrderAcceptedData) error {
	order, err := s.orders.GetByID(ctx, data.OrderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return pkgkafka.Permanent(fmt.Errorf("load order %s: %w", data.OrderID, err))
		}
		return fmt.Errorf("load order %s: %w", data.OrderID, err)
	}

	return deliver(ctx, s.sender, s.logger, OrderConfirmation(order))
}

// OrderConfirmation renders the buyer notification for order.
func OrderConfirmation(order *domain.Order) *Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for your order %s.\n\n", order.ID)
	for _, it := range order.Items {
		fmt.Fprintf(&b, "%d x %s  %s\n", it.Quantity, it.ProductName, formatMoney(it.TotalPrice, order.Currency))
	}
	fmt.Fprintf(&b, "\nSubtotal: %s\n", formatMoney(order.Subtotal, order.Currency))
	fmt.Fprintf(&b, "Tax: %s\n", formatMoney(order.Tax, order.Currency))
	fmt.Fprintf(&b, "Shipping: %s\n", formatMoney(order.ShippingCost, order.Currency))
	fmt.Fprintf(&b, "Total: %s\n", formatMoney(order.Total, order.Currency))

	return &Notification{
		ID:        confirmationID(order.ID),
		Type:      TypeOrderConfirmation,
		Recipient: order.BuyerID,
		Subject:   fmt.Sprintf("Order %s confirmed", order.ID),
		Body:      b.String(),
		Priority:  PriorityNormal,
		Metadata: map[string]any{
			"order_id": order.ID,
			"total":    order.Total,
			"currency": order.Currency,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// confirmationID is stable per order so receivers can drop redelivered
// confirmations.
func confirmationID(orderID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("fulfillment:"+TypeOrderConfirmation+":"+orderID)).String()
}

// formatMoney renders minor units with two decimals.
func formatMoney(minor int64, currency string) string {
	return decimal.New(minor, -2).StringFixed(2) + " " + currency
}

// AlertHandler sends low-stock alerts to the operator.
type AlertHandler struct {
	sender    Sender
	recipient string
	logger    *slog.Logger
}

// NewAlertHandler creates a handler alerting recipient.
func NewAlertHandler(sender Sender, recipient string, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{
		sender:    sender,
		recipient: recipient,
		logger:    logger,
	}
}

// HandleStockLow sends one stock_low alert.
func (h *AlertHandler) HandleStockLow(ctx context.Context, data event.StockLowData) error {
	body := fmt.Sprintf("Product %s has %d units left (minimum %d).", data.ProductID, data.Quantity, data.MinQuantity)
	n := &Notification{
		ID:        uuid.New().String(),
		Type:      TypeStockLow,
		Recipient: h.recipient,
		Subject:   fmt.Sprintf("Low stock: product %s", data.ProductID),
		Body:      body,
		Priority:  PriorityHigh,
		Metadata: map[string]any{
			"product_id":   data.ProductID,
			"quantity":     data.Quantity,
			"min_quantity": data.MinQuantity,
		},
		CreatedAt: time.Now().UTC(),
	}
	return deliver(ctx, h.sender, h.logger, n)
}

func deliver(ctx context.Context, sender Sender, logger *slog.Logger, n *Notification) error {
	if err := sender.Send(ctx, n); err != nil {
		notificationFailures.WithLabelValues(n.Type, sender.Name()).Inc()
		logger.ErrorContext(ctx, "failed to send notification",
			slog.String("notification_id", n.ID),
			slog.String("type", n.Type),
			slog.String("sender", sender.Name()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("send %s notification: %w", n.Type, err)
	}
	notificationsSent.WithLabelValues(n.Type, sender.Name()).Inc()
	return nil
}
