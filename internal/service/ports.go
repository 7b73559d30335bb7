package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ordercore/order-service/internal/inventory"
)

type Clock interface{ Now() time.Time }

// InventoryClient is the availability gate consulted before accepting an
// order. Results preserve request order.
type InventoryClient interface {
	CheckBatchAvailability(ctx context.Context, reqs []inventory.AvailabilityRequest) ([]inventory.AvailabilityResult, error)
}

// IdempotencyCache is an optional fast path for idempotency-key replays.
// The store remains authoritative; implementations may miss freely.
type IdempotencyCache interface {
	GetIdempotentOrderID(ctx context.Context, key string) (uuid.UUID, error)
	SetIdempotentOrderID(ctx context.Context, key string, orderID uuid.UUID) error
}
