package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordercore/order-service/internal/domain"
	"github.com/ordercore/order-service/internal/inventory"
	"github.com/ordercore/order-service/internal/service"
	"github.com/ordercore/order-service/internal/transport/rest"
)

// stubStore keeps orders in memory; enough surface for handler tests.
type stubStore struct {
	orders map[uuid.UUID]*domain.Order
	byKey  map[string]uuid.UUID
}

func newStubStore() *stubStore {
	return &stubStore{orders: map[uuid.UUID]*domain.Order{}, byKey: map[string]uuid.UUID{}}
}

func (s *stubStore) FindOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	if id, ok := s.byKey[key]; ok {
		return s.orders[id], nil
	}
	return nil, nil
}

func (s *stubStore) FindOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	if o, ok := s.orders[id]; ok {
		return o, nil
	}
	return nil, domain.ErrOrderNotFound(id.String())
}

func (s *stubStore) CreateOrderWithOutbox(ctx context.Context, o *domain.Order, rec *domain.OutboxRecord) error {
	s.orders[o.ID] = o
	if o.IdempotencyKey != nil {
		s.byKey[*o.IdempotencyKey] = o.ID
	}
	return nil
}

func (s *stubStore) UpdateStatusAndMarkProcessed(ctx context.Context, id uuid.UUID, newStatus domain.OrderStatus, eventID, derivedEventType string) (*domain.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound(id.String())
	}
	o.Status = newStatus
	return o, nil
}

func (s *stubStore) LeaseOutboxBatch(context.Context, int, int, time.Time, time.Duration) ([]domain.OutboxRecord, error) {
	return nil, nil
}
func (s *stubStore) MarkPublished(context.Context, uuid.UUID, string, string, time.Time) error {
	return nil
}
func (s *stubStore) ScheduleRetry(context.Context, uuid.UUID, int, time.Time) error { return nil }
func (s *stubStore) MarkPublishedForDLQ(context.Context, uuid.UUID, time.Time) error {
	return nil
}

type stubInventory struct {
	short map[string]int // productId -> available quantity when short
}

func (s *stubInventory) CheckBatchAvailability(ctx context.Context, reqs []inventory.AvailabilityRequest) ([]inventory.AvailabilityResult, error) {
	out := make([]inventory.AvailabilityResult, len(reqs))
	for i, r := range reqs {
		if avail, ok := s.short[r.ProductID]; ok {
			out[i] = inventory.AvailabilityResult{ProductID: r.ProductID, Available: false, AvailableQuantity: avail}
			continue
		}
		out[i] = inventory.AvailabilityResult{ProductID: r.ProductID, Available: true, AvailableQuantity: 1000}
	}
	return out, nil
}

func newTestServer(t *testing.T, inv *stubInventory) (*httptest.Server, *stubStore) {
	t.Helper()
	store := newStubStore()
	svc := service.New(store, inv, nil, nil)
	srv := httptest.NewServer(rest.NewRouter(rest.RouterDeps{Handler: rest.NewHandler(svc)}))
	t.Cleanup(srv.Close)
	return srv, store
}

func postOrder(t *testing.T, srv *httptest.Server, body string, idemKey string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/orders", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

const validOrderBody = `{
	"customerId": "cust-1",
	"items": [
		{"productId": "p-1", "quantity": 2, "price": 10.00},
		{"productId": "p-2", "quantity": 1, "price": 15.00}
	]
}`

func TestCreateOrder_Created(t *testing.T) {
	srv, _ := newTestServer(t, &stubInventory{})

	resp := postOrder(t, srv, validOrderBody, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	body := decodeBody(t, resp)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "expected data envelope, got %v", body)

	_, err := uuid.Parse(data["orderId"].(string))
	require.NoError(t, err)
	assert.Equal(t, "cust-1", data["customerId"])
	assert.Equal(t, "Pending Shipment", data["status"])
	assert.InDelta(t, 35.00, data["totalAmount"].(float64), 0.001)
	assert.Len(t, data["items"].([]any), 2)
}

func TestCreateOrder_IdempotentReplayReturnsSameOrder(t *testing.T) {
	srv, _ := newTestServer(t, &stubInventory{})

	first := decodeBody(t, postOrder(t, srv, validOrderBody, "key-1"))
	second := decodeBody(t, postOrder(t, srv, validOrderBody, "key-1"))

	firstID := first["data"].(map[string]any)["orderId"]
	secondID := second["data"].(map[string]any)["orderId"]
	assert.Equal(t, firstID, secondID)
}

func TestCreateOrder_ValidationFailures(t *testing.T) {
	srv, _ := newTestServer(t, &stubInventory{})

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{broken`},
		{"missing customer", `{"items":[{"productId":"p-1","quantity":1,"price":1}]}`},
		{"no items", `{"customerId":"c-1","items":[]}`},
		{"zero quantity", `{"customerId":"c-1","items":[{"productId":"p-1","quantity":0,"price":1}]}`},
		{"negative price", `{"customerId":"c-1","items":[{"productId":"p-1","quantity":1,"price":-1}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postOrder(t, srv, tc.body, "")
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decodeBody(t, resp)
			errBody := body["error"].(map[string]any)
			assert.Equal(t, "VALIDATION_ERROR", errBody["code"])
		})
	}
}

func TestCreateOrder_InsufficientInventoryConflict(t *testing.T) {
	srv, _ := newTestServer(t, &stubInventory{short: map[string]int{"p-1": 1}})

	resp := postOrder(t, srv, validOrderBody, "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeBody(t, resp)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "INSUFFICIENT_INVENTORY", errBody["code"])

	details := errBody["details"].([]any)
	require.Len(t, details, 1)
	d := details[0].(map[string]any)
	assert.Equal(t, "p-1", d["productId"])
	assert.Equal(t, float64(2), d["requested"])
	assert.Equal(t, float64(1), d["available"])
}

func TestGetOrder(t *testing.T) {
	srv, store := newTestServer(t, &stubInventory{})

	created := decodeBody(t, postOrder(t, srv, validOrderBody, ""))
	orderID := created["data"].(map[string]any)["orderId"].(string)
	require.Contains(t, store.orders, uuid.MustParse(orderID))

	resp, err := srv.Client().Get(srv.URL + "/api/v1/orders/" + orderID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, orderID, body["data"].(map[string]any)["orderId"])

	// unknown order
	resp, err = srv.Client().Get(srv.URL + "/api/v1/orders/" + uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// malformed id
	resp, err = srv.Client().Get(srv.URL + "/api/v1/orders/not-a-uuid")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

type denyAllLimiter struct{}

func (denyAllLimiter) AllowRequest(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func TestRateLimit_Denied(t *testing.T) {
	store := newStubStore()
	svc := service.New(store, &stubInventory{}, nil, nil)
	srv := httptest.NewServer(rest.NewRouter(rest.RouterDeps{
		Handler:          rest.NewHandler(svc),
		Limiter:          denyAllLimiter{},
		RateLimitEnabled: true,
		RateLimit:        1,
		RateWindow:       time.Minute,
	}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &stubInventory{})
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
