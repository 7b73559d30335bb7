package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ordercore/order-service/internal/contracts/event"
	"github.com/ordercore/order-service/internal/domain"
	"github.com/ordercore/order-service/internal/inventory"
	"github.com/ordercore/order-service/internal/metrics"
	appCtx "github.com/ordercore/order-service/internal/pkg/context"
	"github.com/ordercore/order-service/internal/pkg/logger"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// OrderService owns order acceptance and the forward-only status lifecycle.
type OrderService struct {
	store     domain.Store
	inventory InventoryClient
	cache     IdempotencyCache // optional
	clock     Clock
}

func New(store domain.Store, inv InventoryClient, cache IdempotencyCache, clock Clock) *OrderService {
	if clock == nil {
		clock = realClock{}
	}
	return &OrderService{store: store, inventory: inv, cache: cache, clock: clock}
}

type CreateOrderInput struct {
	CustomerID string
	Items      []domain.OrderItem
	// IdempotencyKey is optional; replays with the same key return the
	// original order without re-checking inventory.
	IdempotencyKey string
}

func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	log := logger.Logger.With().
		Str("component", "order_service").
		Str("request_id", appCtx.RequestID(ctx)).
		Logger()

	// Transport validates; these are programming-error guards.
	if in.CustomerID == "" || len(in.Items) == 0 {
		return nil, domain.ErrValidation("customerId and at least one item are required")
	}

	// 0) Idempotent replay: same key returns the original order, inventory
	// is not consulted again.
	if in.IdempotencyKey != "" {
		if o, err := s.replay(ctx, in.IdempotencyKey); err != nil {
			return nil, err
		} else if o != nil {
			log.Info().Str("order_id", o.ID.String()).Msg("idempotency key replay")
			return o, nil
		}
	}

	// 1) Inventory gate, request order preserved
	reqs := make([]inventory.AvailabilityRequest, len(in.Items))
	for i, it := range in.Items {
		reqs[i] = inventory.AvailabilityRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	results, err := s.inventory.CheckBatchAvailability(ctx, reqs)
	if err != nil {
		metrics.OrderRejected(string(domain.CodeInventoryUnavailable))
		return nil, err
	}

	var shortfalls []domain.InventoryShortfall
	for i, it := range in.Items {
		r := results[i]
		if !r.Available || r.AvailableQuantity < it.Quantity {
			shortfalls = append(shortfalls, domain.InventoryShortfall{
				ProductID: it.ProductID,
				Requested: it.Quantity,
				Available: r.AvailableQuantity,
			})
		}
	}
	if len(shortfalls) > 0 {
		metrics.OrderRejected(string(domain.CodeInsufficientInv))
		log.Info().Int("items_short", len(shortfalls)).Msg("order rejected: insufficient inventory")
		return nil, domain.ErrInsufficientInventory(shortfalls)
	}

	// 2) Order + co-committed outbox row
	now := s.clock.Now().UTC()
	o := &domain.Order{
		ID:          uuid.New(),
		CustomerID:  in.CustomerID,
		Items:       in.Items,
		TotalAmount: domain.Total(in.Items),
		Status:      domain.StatusPendingShipment,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.IdempotencyKey != "" {
		k := in.IdempotencyKey
		o.IdempotencyKey = &k
	}

	rec, err := createdOutboxRecord(o, now)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateOrderWithOutbox(ctx, o, rec); err != nil {
		// Systemic fault: full detail stays in logs, client gets the generic code.
		log.Error().Err(err).Msg("order persist failed")
		metrics.OrderRejected(string(domain.CodeInventoryUnavailable))
		return nil, domain.ErrInventoryUnavailable("order could not be accepted")
	}

	if s.cache != nil && in.IdempotencyKey != "" {
		if err := s.cache.SetIdempotentOrderID(ctx, in.IdempotencyKey, o.ID); err != nil {
			log.Debug().Err(err).Msg("idempotency cache write failed")
		}
	}

	metrics.OrderCreated()
	log.Info().
		Str("order_id", o.ID.String()).
		Str("total_amount", o.TotalAmount.StringFixed(2)).
		Int("items", len(o.Items)).
		Msg("order accepted")
	return o, nil
}

// replay resolves an idempotency key to its original order, trying the cache
// before the store. (nil, nil) means the key is fresh.
func (s *OrderService) replay(ctx context.Context, key string) (*domain.Order, error) {
	if s.cache != nil {
		if id, err := s.cache.GetIdempotentOrderID(ctx, key); err == nil {
			if o, err := s.store.FindOrderByID(ctx, id); err == nil {
				return o, nil
			}
			// Stale cache entry: fall through to the authoritative lookup.
		} else if !errors.Is(err, domain.ErrCacheMiss) {
			logger.Logger.Debug().Err(err).Msg("idempotency cache read failed")
		}
	}

	o, err := s.store.FindOrderByIdempotencyKey(ctx, key)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("idempotency lookup failed")
		return nil, domain.ErrInventoryUnavailable("order could not be accepted")
	}
	return o, nil
}

func createdOutboxRecord(o *domain.Order, now time.Time) (*domain.OutboxRecord, error) {
	items := make([]event.OrderCreatedItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = event.OrderCreatedItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.UnitPrice.InexactFloat64(),
		}
	}

	payload, err := json.Marshal(event.OrderCreated{
		EventID:     uuid.NewString(),
		EventType:   event.TypeOrderCreated,
		Timestamp:   now,
		OrderID:     o.ID.String(),
		CustomerID:  o.CustomerID,
		Items:       items,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
	})
	if err != nil {
		return nil, err
	}

	return &domain.OutboxRecord{
		ID:          uuid.New(),
		EventType:   event.TypeOrderCreated,
		AggregateID: o.ID,
		Payload:     payload,
		CreatedAt:   now,
	}, nil
}

// UpdateOrderStatus applies an inbound status event exactly once. The dedupe
// fence, the transition check and the write share one store transaction.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus domain.OrderStatus, eventID string) (*domain.Order, error) {
	if !newStatus.Valid() {
		return nil, domain.ErrValidation("unknown target status")
	}
	if eventID == "" {
		return nil, domain.ErrValidation("eventId is required")
	}

	o, err := s.store.UpdateStatusAndMarkProcessed(ctx, orderID, newStatus, eventID, newStatus.EventType())
	if err != nil {
		if domain.CodeOf(err) == domain.CodeDuplicateEvent {
			metrics.DuplicateEvent()
		}
		return nil, err
	}

	metrics.StatusApplied(string(newStatus))
	logger.Logger.Info().
		Str("component", "order_service").
		Str("request_id", appCtx.RequestID(ctx)).
		Str("order_id", orderID.String()).
		Str("status", string(newStatus)).
		Str("event_id", eventID).
		Msg("order status updated")
	return o, nil
}

// GetOrder is a read-through for the HTTP layer.
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.store.FindOrderByID(ctx, orderID)
}
