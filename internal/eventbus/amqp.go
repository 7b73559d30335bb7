package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ordercore/order-service/internal/pkg/logger"
)

// AMQPBus realizes the bus contract on a RabbitMQ topic exchange. Topics map
// to routing keys; each subscriber gets a durable queue bound to its topic.
// Delivery stays at-least-once, so downstream dedupe by event id still applies.
type AMQPBus struct {
	exchange string
	conn     *amqp.Connection

	// amqp channels are not safe for concurrent publish
	pubMu sync.Mutex
	pubCh *amqp.Channel

	consumeCtx context.Context
}

func NewAMQP(ctx context.Context, url, exchange string) (*AMQPBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("exchange declare: %w", err)
	}

	return &AMQPBus{
		exchange:   exchange,
		conn:       conn,
		pubCh:      ch,
		consumeCtx: ctx,
	}, nil
}

func (b *AMQPBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	return b.pubCh.PublishWithContext(ctx, b.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
	})
}

func (b *AMQPBus) Subscribe(topic string, name string, h Handler) {
	log := logger.Logger.With().
		Str("component", "amqp_bus").
		Str("topic", topic).
		Str("subscriber", name).
		Logger()

	queue := "order-service." + strings.ReplaceAll(name, " ", "-")

	ch, err := b.conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("subscribe: channel open failed")
		return
	}

	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		log.Error().Err(err).Msg("subscribe: queue declare failed")
		_ = ch.Close()
		return
	}
	if err := ch.QueueBind(q.Name, topic, b.exchange, false, nil); err != nil {
		log.Error().Err(err).Msg("subscribe: queue bind failed")
		_ = ch.Close()
		return
	}
	if err := ch.Qos(10, 0, false); err != nil {
		log.Error().Err(err).Msg("subscribe: qos failed")
		_ = ch.Close()
		return
	}

	deliveries, err := ch.Consume(q.Name, name, false, false, false, false, nil)
	if err != nil {
		log.Error().Err(err).Msg("subscribe: consume failed")
		_ = ch.Close()
		return
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-b.consumeCtx.Done():
				log.Info().Msg("stopped")
				return
			case d, ok := <-deliveries:
				if !ok {
					log.Warn().Msg("delivery channel closed")
					return
				}
				// The contract has no NACK: handlers tolerate duplicates and
				// log their own failures, so we always ack.
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Error().Interface("panic", r).Msg("subscriber panicked")
						}
					}()
					if err := h(b.consumeCtx, d.Body); err != nil {
						log.Warn().Err(err).Msg("subscriber failed")
					}
				}()
				_ = d.Ack(false)
			}
		}
	}()
}

func (b *AMQPBus) Close() error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	_ = b.pubCh.Close()
	return b.conn.Close()
}
