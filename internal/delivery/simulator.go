// Package delivery contains a development-mode carrier simulator. It stands
// in for the real logistics integration: every accepted order is shipped and
// delivered after fixed delays.
package delivery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ordercore/order-service/internal/contracts/event"
	"github.com/ordercore/order-service/internal/eventbus"
	"github.com/ordercore/order-service/internal/pkg/logger"
)

type Simulator struct {
	bus          eventbus.Bus
	shipAfter    time.Duration
	deliverAfter time.Duration
	log          zerolog.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	ctx     context.Context
}

// NewSimulator emits order.shipped shipAfter after acceptance and
// order.delivered deliverAfter after acceptance.
func NewSimulator(bus eventbus.Bus, shipAfter, deliverAfter time.Duration) *Simulator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Simulator{
		bus:          bus,
		shipAfter:    shipAfter,
		deliverAfter: deliverAfter,
		log:          logger.Logger.With().Str("component", "delivery_simulator").Logger(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Attach subscribes the simulator to the order-events topic.
func (s *Simulator) Attach(bus eventbus.Bus) {
	bus.Subscribe(event.TopicOrderEvents, "delivery-simulator", s.handleOrderCreated)
}

// Stop cancels pending timers and waits for in-flight publishes.
func (s *Simulator) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Simulator) handleOrderCreated(ctx context.Context, payload []byte) error {
	var ev event.OrderCreated
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.log.Warn().Err(err).Msg("unparseable order event, skipped")
		return nil
	}
	if ev.EventType != event.TypeOrderCreated || ev.OrderID == "" {
		return nil
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runOrder(ev.OrderID)
	return nil
}

func (s *Simulator) runOrder(orderID string) {
	defer s.wg.Done()

	if !s.sleep(s.shipAfter) {
		return
	}
	s.emit(orderID, event.TypeOrderShipped)

	if !s.sleep(s.deliverAfter - s.shipAfter) {
		return
	}
	s.emit(orderID, event.TypeOrderDelivered)
}

func (s *Simulator) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Simulator) emit(orderID, eventType string) {
	payload, err := json.Marshal(event.DeliveryStatus{
		EventID:   "delivery-" + uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		OrderID:   orderID,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("delivery event marshal failed")
		return
	}

	if err := s.bus.Publish(s.ctx, event.TopicDeliveryEvents, payload); err != nil {
		s.log.Error().Err(err).
			Str("order_id", orderID).
			Str("event_type", eventType).
			Msg("delivery event publish failed")
		return
	}

	s.log.Debug().Str("order_id", orderID).Str("event_type", eventType).Msg("delivery event emitted")
}
