package domain

import (
	"encoding/json"
	"time"
)

// OutboxEntry is an event waiting in the outbox table to be published.
// ID equals the event ID inside Payload.
type OutboxEntry struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}
