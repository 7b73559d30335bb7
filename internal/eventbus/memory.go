package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ordercore/order-service/internal/pkg/logger"
)

type subscriber struct {
	name    string
	handler Handler
}

// MemoryBus is the in-process realization: synchronous fan-out in subscription
// order, subscriber faults isolated so one failing handler cannot stall the
// publisher or the remaining subscribers.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]subscriber
}

func NewMemory() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]subscriber)}
}

func (b *MemoryBus) Subscribe(topic string, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], subscriber{name: name, handler: h})
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	log := logger.Logger.With().Str("component", "event_bus").Str("topic", topic).Logger()

	for _, s := range subs {
		deliver(ctx, &log, s, payload)
	}
	return nil
}

func deliver(ctx context.Context, log *zerolog.Logger, s subscriber, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("subscriber", s.name).Msg("subscriber panicked")
		}
	}()
	if err := s.handler(ctx, payload); err != nil {
		log.Warn().Err(err).Str("subscriber", s.name).Msg("subscriber failed")
	}
}
