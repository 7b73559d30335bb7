package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store owns every row. All other components mutate state only through this
// transactional API; each method is one ACID transaction unless noted.
type Store interface {
	// FindOrderByIdempotencyKey returns (nil, nil) when no order carries key.
	FindOrderByIdempotencyKey(ctx context.Context, key string) (*Order, error)

	FindOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)

	// CreateOrderWithOutbox inserts the order and its order.created outbox row
	// in a single transaction; any failure aborts both.
	CreateOrderWithOutbox(ctx context.Context, o *Order, rec *OutboxRecord) error

	// UpdateStatusAndMarkProcessed applies a status event exactly once:
	// the processed-event fence, the transition check, and the status write
	// share one transaction. Errors: DUPLICATE_EVENT, ORDER_NOT_FOUND,
	// INVALID_STATUS_TRANSITION.
	UpdateStatusAndMarkProcessed(ctx context.Context, id uuid.UUID, newStatus OrderStatus, eventID, derivedEventType string) (*Order, error)

	// LeaseOutboxBatch claims due unpublished rows with FOR UPDATE SKIP LOCKED
	// and pushes next_retry_at to now+hold as an in-flight reservation, so no
	// row is leased by two workers in a poll cycle and no lock is held across
	// the bus publish.
	LeaseOutboxBatch(ctx context.Context, limit, maxRetries int, now time.Time, hold time.Duration) ([]OutboxRecord, error)

	// MarkPublished flips the row and records the payload event id in the same
	// transaction, proving the publish to later lease cycles.
	MarkPublished(ctx context.Context, id uuid.UUID, eventID, eventType string, publishedAt time.Time) error

	ScheduleRetry(ctx context.Context, id uuid.UUID, newRetryCount int, nextRetryAt time.Time) error

	// MarkPublishedForDLQ abandons the row to the dead-letter topic: published
	// is set without a processed marker.
	MarkPublishedForDLQ(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}
