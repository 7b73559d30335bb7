// Package postgres is the single owner of the orders, outbox_events and
// processed_events tables.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ordercore/order-service/internal/domain"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// dbItem is the JSONB shape of one order line. Prices are fixed-point strings
// so NUMERIC precision survives the round-trip.
type dbItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

func itemsToJSON(items []domain.OrderItem) ([]byte, error) {
	out := make([]dbItem, len(items))
	for i, it := range items {
		out[i] = dbItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
		}
	}
	return json.Marshal(out)
}

func itemsFromJSON(raw []byte) ([]domain.OrderItem, error) {
	var rows []dbItem
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	items := make([]domain.OrderItem, len(rows))
	for i, r := range rows {
		price, err := decimal.NewFromString(r.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("bad unit_price %q: %w", r.UnitPrice, err)
		}
		items[i] = domain.OrderItem{ProductID: r.ProductID, Quantity: r.Quantity, UnitPrice: price}
	}
	return items, nil
}

const selectOrderSQL = `
SELECT id, customer_id, items, total_amount::text, status, idempotency_key, created_at, updated_at
FROM orders
`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o        domain.Order
		rawItems []byte
		total    string
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &rawItems, &total, &o.Status, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}

	items, err := itemsFromJSON(rawItems)
	if err != nil {
		return nil, err
	}
	o.Items = items

	o.TotalAmount, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("bad total_amount %q: %w", total, err)
	}
	return &o, nil
}

func (r *Repository) FindOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	row := r.pool.QueryRow(ctx, selectOrderSQL+`WHERE idempotency_key = $1`, key)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func (r *Repository) FindOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.pool.QueryRow(ctx, selectOrderSQL+`WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound(id.String())
	}
	return o, err
}

func (r *Repository) CreateOrderWithOutbox(ctx context.Context, o *domain.Order, rec *domain.OutboxRecord) error {
	rawItems, err := itemsToJSON(o.Items)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, customer_id, items, total_amount, status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4::numeric, $5, $6, $7, $7)
	`, o.ID, o.CustomerID, rawItems, o.TotalAmount.StringFixed(2), string(o.Status), o.IdempotencyKey, o.CreatedAt.UTC())
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (id, event_type, aggregate_id, payload, published, retry_count, created_at)
		VALUES ($1, $2, $3, $4::jsonb, FALSE, 0, $5)
	`, rec.ID, rec.EventType, rec.AggregateID, rec.Payload, rec.CreatedAt.UTC())
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) UpdateStatusAndMarkProcessed(ctx context.Context, id uuid.UUID, newStatus domain.OrderStatus, eventID, derivedEventType string) (*domain.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Dedupe fence first: a duplicate event id aborts before touching the row.
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, derivedEventType, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrDuplicateEvent(eventID)
	}

	// Per-order row lock serializes concurrent status updates.
	row := tx.QueryRow(ctx, selectOrderSQL+`WHERE id = $1 FOR UPDATE`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound(id.String())
		}
		return nil, err
	}

	if !o.Status.CanTransitionTo(newStatus) {
		return nil, domain.ErrInvalidTransition(o.Status, newStatus)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(newStatus), now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	o.Status = newStatus
	o.UpdatedAt = now
	return o, nil
}
