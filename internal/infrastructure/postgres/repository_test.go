//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordercore/order-service/internal/domain"
	"github.com/ordercore/order-service/internal/infrastructure/postgres"
)

// Helper: Setup DB connection and reset state.
func setupRepo(t *testing.T) (*postgres.Repository, *pgxpool.Pool) {
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("Skipping integration test: TEST_DB_DSN not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), "TRUNCATE TABLE orders, outbox_events, processed_events RESTART IDENTITY CASCADE")
	require.NoError(t, err)

	return postgres.New(pool), pool
}

func testOrder(key *string) (*domain.Order, *domain.OutboxRecord) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	o := &domain.Order{
		ID:         uuid.New(),
		CustomerID: "cust-1",
		Items: []domain.OrderItem{
			{ProductID: "p-1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
			{ProductID: "p-2", Quantity: 1, UnitPrice: decimal.RequireFromString("15.00")},
		},
		TotalAmount:    decimal.RequireFromString("35.00"),
		Status:         domain.StatusPendingShipment,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	payload, _ := json.Marshal(map[string]string{"eventId": uuid.NewString(), "orderId": o.ID.String()})
	rec := &domain.OutboxRecord{
		ID:          uuid.New(),
		EventType:   "order.created",
		AggregateID: o.ID,
		Payload:     payload,
		CreatedAt:   now,
	}
	return o, rec
}

func TestCreateOrderWithOutbox_CoCommits(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	o, rec := testOrder(nil)
	require.NoError(t, repo.CreateOrderWithOutbox(ctx, o, rec))

	got, err := repo.FindOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "35.00", got.TotalAmount.StringFixed(2))
	assert.Equal(t, domain.StatusPendingShipment, got.Status)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "10.00", got.Items[0].UnitPrice.StringFixed(2))

	var pending int
	pool.QueryRow(ctx, "SELECT count(*) FROM outbox_events WHERE aggregate_id=$1 AND published=FALSE", o.ID).Scan(&pending)
	assert.Equal(t, 1, pending)
}

func TestFindOrderByIdempotencyKey(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	// Absent key: (nil, nil), not an error.
	got, err := repo.FindOrderByIdempotencyKey(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	key := "key-1"
	o, rec := testOrder(&key)
	require.NoError(t, repo.CreateOrderWithOutbox(ctx, o, rec))

	got, err = repo.FindOrderByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, o.ID, got.ID)
}

func TestCreateOrderWithOutbox_DuplicateKeyRejected(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	key := "key-dup"
	o1, r1 := testOrder(&key)
	require.NoError(t, repo.CreateOrderWithOutbox(ctx, o1, r1))

	o2, r2 := testOrder(&key)
	assert.Error(t, repo.CreateOrderWithOutbox(ctx, o2, r2), "partial unique index rejects the second insert")
}

func TestUpdateStatus_FenceAndTransitions(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	o, rec := testOrder(nil)
	require.NoError(t, repo.CreateOrderWithOutbox(ctx, o, rec))

	// Skipping a step is rejected.
	_, err := repo.UpdateStatusAndMarkProcessed(ctx, o.ID, domain.StatusDelivered, "ev-skip", "order.delivered")
	assert.Equal(t, domain.CodeInvalidTransition, domain.CodeOf(err))

	// Forward step applies.
	got, err := repo.UpdateStatusAndMarkProcessed(ctx, o.ID, domain.StatusShipped, "ev-1", "order.shipped")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusShipped, got.Status)

	// Same event id again: duplicate, no mutation.
	_, err = repo.UpdateStatusAndMarkProcessed(ctx, o.ID, domain.StatusDelivered, "ev-1", "order.delivered")
	assert.Equal(t, domain.CodeDuplicateEvent, domain.CodeOf(err))

	current, err := repo.FindOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusShipped, current.Status, "duplicate must not mutate the order")

	// The rejected transition must not burn its marker: ev-skip was rolled
	// back with the transaction and stays usable.
	var markers int
	pool.QueryRow(ctx, "SELECT count(*) FROM processed_events").Scan(&markers)
	assert.Equal(t, 1, markers)

	// New event id moves the order on.
	got, err = repo.UpdateStatusAndMarkProcessed(ctx, o.ID, domain.StatusDelivered, "ev-2", "order.delivered")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, got.Status)

	// Terminal state accepts nothing further.
	_, err = repo.UpdateStatusAndMarkProcessed(ctx, o.ID, domain.StatusShipped, "ev-3", "order.shipped")
	assert.Equal(t, domain.CodeInvalidTransition, domain.CodeOf(err))
}

func TestUpdateStatus_UnknownOrder(t *testing.T) {
	repo, _ := setupRepo(t)

	_, err := repo.UpdateStatusAndMarkProcessed(context.Background(), uuid.New(), domain.StatusShipped, "ev-1", "order.shipped")
	assert.Equal(t, domain.CodeOrderNotFound, domain.CodeOf(err))
}

func TestLeaseOutboxBatch_ReservesRows(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	o, rec := testOrder(nil)
	require.NoError(t, repo.CreateOrderWithOutbox(ctx, o, rec))

	batch, err := repo.LeaseOutboxBatch(ctx, 10, 5, now, 15*time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, rec.ID, batch[0].ID)

	// Leased row is invisible until the hold expires.
	again, err := repo.LeaseOutboxBatch(ctx, 10, 5, now, 15*time.Second)
	require.NoError(t, err)
	assert.Empty(t, again)

	// After the hold it becomes due again.
	later, err := repo.LeaseOutboxBatch(ctx, 10, 5, now.Add(16*time.Second), 15*time.Second)
	require.NoError(t, err)
	assert.Len(t, later, 1)
}

func TestOutboxLifecycle_PublishRetryDLQ(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	o, rec := testOrder(nil)
	require.NoError(t, repo.CreateOrderWithOutbox(ctx, o, rec))

	// Retry bumps the count and the due time.
	require.NoError(t, repo.ScheduleRetry(ctx, rec.ID, 1, now.Add(100*time.Millisecond)))
	due, err := repo.LeaseOutboxBatch(ctx, 10, 5, now, 15*time.Second)
	require.NoError(t, err)
	assert.Empty(t, due, "not due until next_retry_at passes")

	due, err = repo.LeaseOutboxBatch(ctx, 10, 5, now.Add(time.Second), 15*time.Second)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].RetryCount)

	// MarkPublished retires the row and records the marker.
	require.NoError(t, repo.MarkPublished(ctx, rec.ID, "pay-ev-1", "order.created", now))
	gone, err := repo.LeaseOutboxBatch(ctx, 10, 5, now.Add(time.Hour), 15*time.Second)
	require.NoError(t, err)
	assert.Empty(t, gone)

	var markers int
	pool.QueryRow(ctx, "SELECT count(*) FROM processed_events WHERE event_id='pay-ev-1'").Scan(&markers)
	assert.Equal(t, 1, markers)

	// MarkPublished is safe to repeat (re-publish after a crashed mark).
	require.NoError(t, repo.MarkPublished(ctx, rec.ID, "pay-ev-1", "order.created", now))

	// DLQ retirement leaves no marker behind.
	o2, rec2 := testOrder(nil)
	require.NoError(t, repo.CreateOrderWithOutbox(ctx, o2, rec2))
	require.NoError(t, repo.MarkPublishedForDLQ(ctx, rec2.ID, now))

	var published bool
	pool.QueryRow(ctx, "SELECT published FROM outbox_events WHERE id=$1", rec2.ID).Scan(&published)
	assert.True(t, published)
	pool.QueryRow(ctx, "SELECT count(*) FROM processed_events").Scan(&markers)
	assert.Equal(t, 1, markers)
}
