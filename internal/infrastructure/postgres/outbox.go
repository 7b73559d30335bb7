package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ordercore/order-service/internal/domain"
)

// Claim due rows for one poll cycle. SKIP LOCKED lets concurrent workers
// drain the table without contention.
const leaseOutboxSQL = `
SELECT id, event_type, aggregate_id, payload, published, retry_count, next_retry_at, created_at, published_at
FROM outbox_events
WHERE published = FALSE
  AND retry_count <= $1
  AND (next_retry_at IS NULL OR next_retry_at <= $2)
ORDER BY created_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`

// LeaseOutboxBatch claims a batch inside a short transaction: select with
// SKIP LOCKED, push next_retry_at to now+hold so the rows stay invisible to
// peers while in flight, commit. The row lock is never held across a bus
// publish; a crashed worker's rows become due again after the hold expires.
func (r *Repository) LeaseOutboxBatch(ctx context.Context, limit, maxRetries int, now time.Time, hold time.Duration) ([]domain.OutboxRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, leaseOutboxSQL, maxRetries, now.UTC(), limit)
	if err != nil {
		return nil, err
	}

	var batch []domain.OutboxRecord
	for rows.Next() {
		var rec domain.OutboxRecord
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.AggregateID, &rec.Payload,
			&rec.Published, &rec.RetryCount, &rec.NextRetryAt, &rec.CreatedAt, &rec.PublishedAt); err != nil {
			rows.Close()
			return nil, err
		}
		batch = append(batch, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(batch) == 0 {
		return nil, tx.Commit(ctx)
	}

	inFlightUntil := now.UTC().Add(hold)
	for _, rec := range batch {
		if _, err := tx.Exec(ctx, `
			UPDATE outbox_events SET next_retry_at = $2 WHERE id = $1
		`, rec.ID, inFlightUntil); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return batch, nil
}

// MarkPublished flips the row and inserts the processed marker in one
// transaction. ON CONFLICT keeps a re-publish of the same payload event id
// from failing the whole batch.
func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, eventID, eventType string, publishedAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		UPDATE outbox_events SET published = TRUE, published_at = $2 WHERE id = $1
	`, id, publishedAt.UTC())
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, publishedAt.UTC())
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) ScheduleRetry(ctx context.Context, id uuid.UUID, newRetryCount int, nextRetryAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events SET retry_count = $2, next_retry_at = $3 WHERE id = $1
	`, id, newRetryCount, nextRetryAt.UTC())
	return err
}

// MarkPublishedForDLQ abandons the row: published is set with no processed
// marker, because the event never reached its real topic.
func (r *Repository) MarkPublishedForDLQ(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events SET published = TRUE, published_at = $2 WHERE id = $1
	`, id, publishedAt.UTC())
	return err
}
