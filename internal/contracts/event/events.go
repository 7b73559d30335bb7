// Package event holds the wire contracts shared by the outbox publisher,
// the status consumer, and any external realization of the bus.
package event

import (
	"encoding/json"
	"time"
)

// Topics used by the core.
const (
	TopicOrderEvents    = "order-events"
	TopicDeliveryEvents = "delivery-events"
	TopicDeadLetter     = "dead-letter-queue"
	TopicUnknownEvents  = "unknown-events"
)

// Event types.
const (
	TypeOrderCreated   = "order.created"
	TypeOrderShipped   = "order.shipped"
	TypeOrderDelivered = "order.delivered"
	TypeDLQ            = "dlq.event"
)

// TopicFor routes an outbox event type to its bus topic.
func TopicFor(eventType string) string {
	switch eventType {
	case TypeOrderCreated:
		return TopicOrderEvents
	case TypeOrderShipped, TypeOrderDelivered:
		return TopicDeliveryEvents
	default:
		return TopicUnknownEvents
	}
}

// OrderCreatedItem mirrors a request item on the wire.
type OrderCreatedItem struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// OrderCreated is published on order-events for every accepted order.
// TotalAmount is a fixed-point decimal string ("35.00"); timestamps are RFC3339 UTC.
type OrderCreated struct {
	EventID     string             `json:"eventId"`
	EventType   string             `json:"eventType"`
	Timestamp   time.Time          `json:"timestamp"`
	OrderID     string             `json:"orderId"`
	CustomerID  string             `json:"customerId"`
	Items       []OrderCreatedItem `json:"items"`
	TotalAmount string             `json:"totalAmount"`
	Status      string             `json:"status"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// DeliveryStatus is the inbound shape on delivery-events.
// Producers may prefix event ids ("delivery-<uuid>"); consumers treat them as opaque.
type DeliveryStatus struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
	OrderID   string    `json:"orderId"`
}

// DLQ wraps an abandoned outbox row on the dead-letter topic.
// OriginalEvent is an opaque snapshot of the row at abandonment time.
type DLQ struct {
	EventID       string         `json:"eventId"`
	EventType     string         `json:"eventType"`
	Timestamp     time.Time      `json:"timestamp"`
	OriginalEvent OutboxSnapshot `json:"originalEvent"`
	Reason        string         `json:"reason"`
}

// OutboxSnapshot is the row state embedded in a DLQ event.
type OutboxSnapshot struct {
	ID          string          `json:"id"`
	EventType   string          `json:"eventType"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	RetryCount  int             `json:"retryCount"`
	CreatedAt   time.Time       `json:"createdAt"`
}
