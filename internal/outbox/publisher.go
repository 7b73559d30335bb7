// Package outbox drains the transactional outbox to the event bus.
//
// Rows are claimed in a short transaction (FOR UPDATE SKIP LOCKED plus a
// next_retry_at reservation) so no database lock is held while publishing.
// A row that keeps failing is rerouted to the dead-letter topic after
// maxRetries attempts and never blocks the rows behind it.
package outbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ordercore/order-service/internal/contracts/event"
	"github.com/ordercore/order-service/internal/domain"
	"github.com/ordercore/order-service/internal/eventbus"
	"github.com/ordercore/order-service/internal/metrics"
	"github.com/ordercore/order-service/internal/pkg/logger"
	"github.com/ordercore/order-service/internal/service"
)

const dlqReasonMaxRetries = "Max retries exceeded"

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	// LeaseHold is how long a claimed row stays invisible to other pollers.
	LeaseHold time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 1600 * time.Millisecond
	}
	if c.LeaseHold <= 0 {
		c.LeaseHold = 15 * time.Second
	}
}

// Publisher polls the outbox and relays pending rows to the bus.
type Publisher struct {
	store domain.Store
	bus   eventbus.Bus
	cfg   Config
	clock service.Clock
	log   zerolog.Logger

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func New(store domain.Store, bus eventbus.Bus, cfg Config, clock service.Clock) *Publisher {
	cfg.applyDefaults()
	if clock == nil {
		clock = realClock{}
	}
	return &Publisher{
		store: store,
		bus:   bus,
		cfg:   cfg,
		clock: clock,
		log:   logger.Logger.With().Str("component", "outbox_publisher").Logger(),
		done:  make(chan struct{}),
	}
}

// Start launches the poll loop. Calling Start again is a no-op.
func (p *Publisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.run(ctx)
	})
}

// Stop cancels the loop and waits for the in-flight batch to finish.
func (p *Publisher) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.log.Info().
		Dur("poll_interval", p.cfg.PollInterval).
		Int("batch_size", p.cfg.BatchSize).
		Int("max_retries", p.cfg.MaxRetries).
		Msg("outbox publisher started")

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("outbox publisher stopped")
			return
		case <-ticker.C:
			p.drainOnce(ctx)
		}
	}
}

// drainOnce claims one batch and publishes its rows in parallel. A faulty
// cycle logs and returns; the next tick starts clean.
func (p *Publisher) drainOnce(ctx context.Context) {
	batch, err := p.store.LeaseOutboxBatch(ctx, p.cfg.BatchSize, p.cfg.MaxRetries, p.clock.Now().UTC(), p.cfg.LeaseHold)
	if err != nil {
		p.log.Error().Err(err).Msg("outbox lease failed")
		return
	}
	if len(batch) == 0 {
		return
	}

	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(rec domain.OutboxRecord) {
			defer wg.Done()
			p.publishOne(ctx, rec)
		}(batch[i])
	}
	wg.Wait()
}

func (p *Publisher) publishOne(ctx context.Context, rec domain.OutboxRecord) {
	topic := event.TopicFor(rec.EventType)

	start := p.clock.Now()
	err := p.bus.Publish(ctx, topic, rec.Payload)
	metrics.ObservePublish(time.Since(start))

	if err != nil {
		p.handleFailure(ctx, rec, err)
		return
	}

	now := p.clock.Now().UTC()
	if err := p.store.MarkPublished(ctx, rec.ID, payloadEventID(rec), rec.EventType, now); err != nil {
		// The event is on the bus but the row stays pending, so the next
		// cycle republishes it. Consumers dedupe by event id.
		p.log.Error().Err(err).
			Str("outbox_id", rec.ID.String()).
			Msg("publish succeeded but row could not be marked, will republish")
		return
	}

	metrics.OutboxPublished(topic)
	p.log.Debug().
		Str("outbox_id", rec.ID.String()).
		Str("event_type", rec.EventType).
		Str("topic", topic).
		Msg("outbox event published")
}

func (p *Publisher) handleFailure(ctx context.Context, rec domain.OutboxRecord, pubErr error) {
	newRetryCount := rec.RetryCount + 1

	if newRetryCount >= p.cfg.MaxRetries {
		p.deadLetter(ctx, rec, newRetryCount, pubErr)
		return
	}

	nextRetryAt := p.clock.Now().UTC().Add(p.backoff(newRetryCount))
	if err := p.store.ScheduleRetry(ctx, rec.ID, newRetryCount, nextRetryAt); err != nil {
		p.log.Error().Err(err).Str("outbox_id", rec.ID.String()).Msg("retry schedule failed")
		return
	}

	metrics.OutboxRetryScheduled()
	p.log.Warn().Err(pubErr).
		Str("outbox_id", rec.ID.String()).
		Int("retry_count", newRetryCount).
		Time("next_retry_at", nextRetryAt).
		Msg("outbox publish failed, retry scheduled")
}

// deadLetter retires the row and announces the abandonment on the DLQ topic.
// The row is retired first: a lost DLQ notice is acceptable, an immortal
// poison row is not.
func (p *Publisher) deadLetter(ctx context.Context, rec domain.OutboxRecord, finalRetryCount int, pubErr error) {
	now := p.clock.Now().UTC()

	if err := p.store.MarkPublishedForDLQ(ctx, rec.ID, now); err != nil {
		p.log.Error().Err(err).Str("outbox_id", rec.ID.String()).Msg("dlq retire failed")
		return
	}

	notice, err := json.Marshal(event.DLQ{
		EventID:   "dlq-" + uuid.NewString(),
		EventType: event.TypeDLQ,
		Timestamp: now,
		OriginalEvent: event.OutboxSnapshot{
			ID:          rec.ID.String(),
			EventType:   rec.EventType,
			AggregateID: rec.AggregateID.String(),
			Payload:     json.RawMessage(rec.Payload),
			RetryCount:  finalRetryCount,
			CreatedAt:   rec.CreatedAt,
		},
		Reason: dlqReasonMaxRetries,
	})
	if err != nil {
		metrics.OutboxDLQ("notice_failed")
		p.log.Error().Err(err).Str("outbox_id", rec.ID.String()).Msg("dlq notice marshal failed")
		return
	}

	if err := p.bus.Publish(ctx, event.TopicDeadLetter, notice); err != nil {
		metrics.OutboxDLQ("notice_failed")
		p.log.Error().Err(err).
			Str("outbox_id", rec.ID.String()).
			Msg("dlq notice publish failed, event retired without notice")
		return
	}

	metrics.OutboxDLQ("dead_lettered")
	p.log.Error().Err(pubErr).
		Str("outbox_id", rec.ID.String()).
		Str("event_type", rec.EventType).
		Int("retry_count", finalRetryCount).
		Msg("outbox event dead-lettered")
}

// backoff returns baseDelay doubled per attempt, capped at maxDelay:
// 100ms, 200ms, 400ms, 800ms, 1600ms with the defaults.
func (p *Publisher) backoff(retryCount int) time.Duration {
	d := p.cfg.BaseDelay << (retryCount - 1)
	if d > p.cfg.MaxDelay || d <= 0 {
		return p.cfg.MaxDelay
	}
	return d
}

// payloadEventID pulls the payload-level eventId for the processed-event
// marker. Falls back to the row id for payloads without one.
func payloadEventID(rec domain.OutboxRecord) string {
	var probe struct {
		EventID string `json:"eventId"`
	}
	if err := json.Unmarshal(rec.Payload, &probe); err == nil && probe.EventID != "" {
		return probe.EventID
	}
	return rec.ID.String()
}
