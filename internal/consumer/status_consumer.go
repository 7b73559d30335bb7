// Package consumer applies inbound delivery-status events to orders.
package consumer

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ordercore/order-service/internal/contracts/event"
	"github.com/ordercore/order-service/internal/domain"
	"github.com/ordercore/order-service/internal/eventbus"
	"github.com/ordercore/order-service/internal/pkg/logger"
)

// StatusUpdater is the slice of the order service the consumer needs.
type StatusUpdater interface {
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus domain.OrderStatus, eventID string) (*domain.Order, error)
}

// StatusConsumer listens on the delivery-events topic and advances order
// statuses. Malformed or duplicate events are logged and dropped; they are
// never treated as delivery failures.
type StatusConsumer struct {
	orders StatusUpdater
	log    zerolog.Logger
}

func New(orders StatusUpdater) *StatusConsumer {
	return &StatusConsumer{
		orders: orders,
		log:    logger.Logger.With().Str("component", "status_consumer").Logger(),
	}
}

// Attach subscribes the consumer on the bus.
func (c *StatusConsumer) Attach(bus eventbus.Bus) {
	bus.Subscribe(event.TopicDeliveryEvents, "status-consumer", c.Handle)
}

// Handle processes one delivery-status event. It returns nil for every
// business-level rejection so the bus never redelivers; only decoding the
// envelope is allowed to fail hard.
func (c *StatusConsumer) Handle(ctx context.Context, payload []byte) error {
	var ev event.DeliveryStatus
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.log.Error().Err(err).Msg("undecodable delivery event dropped")
		return nil
	}

	log := c.log.With().
		Str("event_id", ev.EventID).
		Str("event_type", ev.EventType).
		Str("order_id", ev.OrderID).
		Logger()

	status, ok := statusFor(ev.EventType)
	if !ok {
		log.Warn().Msg("unknown delivery event type, dropped")
		return nil
	}
	if ev.EventID == "" {
		log.Warn().Msg("delivery event without eventId, dropped")
		return nil
	}
	orderID, err := uuid.Parse(ev.OrderID)
	if err != nil {
		log.Warn().Msg("delivery event without valid orderId, dropped")
		return nil
	}

	if _, err := c.orders.UpdateOrderStatus(ctx, orderID, status, ev.EventID); err != nil {
		switch domain.CodeOf(err) {
		case domain.CodeDuplicateEvent:
			log.Info().Msg("duplicate delivery event ignored")
			return nil
		case domain.CodeOrderNotFound:
			log.Warn().Msg("delivery event for unknown order dropped")
			return nil
		case domain.CodeInvalidTransition:
			log.Warn().Err(err).Msg("out-of-order delivery event dropped")
			return nil
		default:
			log.Error().Err(err).Msg("status update failed")
			return err
		}
	}

	log.Info().Str("status", string(status)).Msg("delivery event applied")
	return nil
}

func statusFor(eventType string) (domain.OrderStatus, bool) {
	switch eventType {
	case event.TypeOrderShipped:
		return domain.StatusShipped, true
	case event.TypeOrderDelivered:
		return domain.StatusDelivered, true
	default:
		return "", false
	}
}
