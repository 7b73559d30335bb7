package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

type Order struct {
	ID         uuid.UUID
	CustomerID string
	Items      []OrderItem
	// TotalAmount is NUMERIC(10,2) in the store and never changes after insert.
	TotalAmount decimal.Decimal
	Status      OrderStatus

	IdempotencyKey *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total sums quantity * unit price exactly, rounded to 2 decimal places.
func Total(items []OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum.Round(2)
}

// OutboxRecord is a domain event awaiting delivery to the bus,
// co-committed with the write that produced it.
type OutboxRecord struct {
	ID          uuid.UUID
	EventType   string
	AggregateID uuid.UUID
	// Payload is the event body exactly as it will appear on the bus,
	// including the payload-level eventId.
	Payload []byte

	Published   bool
	RetryCount  int
	NextRetryAt *time.Time

	CreatedAt   time.Time
	PublishedAt *time.Time
}

// ProcessedEvent proves a consumer or publisher has handled a given event id.
type ProcessedEvent struct {
	EventID     string
	EventType   string
	ProcessedAt time.Time
}
