// Package notification tells buyers and operators about pipeline outcomes.
// It only reads order state and never mutates orders or stock.
package notification

import (
	"context"
	"time"
)

// Notification types.
const (
	TypeOrderConfirmation = "order_confirmation"
	TypeStockLow          = "stock_low"
)

// Notification priorities.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Notification is one message handed to a Sender.
type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Recipient string         `json:"recipient"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Priority  string         `json:"priority"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sender delivers notifications over a channel.
type Sender interface {
	// Name returns the name of this sender implementation.
	Name() string

	// Send delivers the notification. An error means it was not delivered.
	Send(ctx context.Context, n *Notification) error
}
