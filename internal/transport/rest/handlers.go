package rest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordercore/order-service/internal/domain"
	appCtx "github.com/ordercore/order-service/internal/pkg/context"
	"github.com/ordercore/order-service/internal/service"
	"github.com/ordercore/order-service/internal/transport/rest/response"
)

type Handler struct {
	svc *service.OrderService
}

func NewHandler(svc *service.OrderService) *Handler {
	return &Handler{svc: svc}
}

type orderItemRequest struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type createOrderRequest struct {
	CustomerID string             `json:"customerId"`
	Items      []orderItemRequest `json:"items"`
}

type orderItemResponse struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type orderResponse struct {
	OrderID     string              `json:"orderId"`
	CustomerID  string              `json:"customerId"`
	Items       []orderItemResponse `json:"items"`
	TotalAmount float64             `json:"totalAmount"`
	Status      string              `json:"status"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, string(domain.CodeValidation), "invalid body", nil)
		return
	}

	if meta := validateCreate(req); len(meta) > 0 {
		fail(w, r, http.StatusBadRequest, string(domain.CodeValidation), "invalid order request", meta)
		return
	}

	items := make([]domain.OrderItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = domain.OrderItem{
			ProductID: strings.TrimSpace(it.ProductID),
			Quantity:  it.Quantity,
			UnitPrice: decimal.NewFromFloat(it.Price).Round(2),
		}
	}

	o, err := h.svc.CreateOrder(r.Context(), service.CreateOrderInput{
		CustomerID:     strings.TrimSpace(req.CustomerID),
		Items:          items,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		response.Err(w, err, requestID(r))
		return
	}

	response.Data(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, string(domain.CodeValidation), "invalid orderID", map[string]string{
			"order_id": "must be a valid uuid",
		})
		return
	}

	o, err := h.svc.GetOrder(r.Context(), orderID)
	if err != nil {
		response.Err(w, err, requestID(r))
		return
	}

	response.Data(w, http.StatusOK, toOrderResponse(o))
}

func validateCreate(req createOrderRequest) map[string]string {
	meta := map[string]string{}
	if strings.TrimSpace(req.CustomerID) == "" {
		meta["customer_id"] = "required"
	}
	if len(req.Items) == 0 {
		meta["items"] = "at least one item is required"
	}
	for i, it := range req.Items {
		key := "items[" + strconv.Itoa(i) + "]"
		if strings.TrimSpace(it.ProductID) == "" {
			meta[key+".productId"] = "required"
		}
		if it.Quantity <= 0 {
			meta[key+".quantity"] = "must be positive"
		}
		if it.Price < 0 {
			meta[key+".price"] = "must not be negative"
		}
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func toOrderResponse(o *domain.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.UnitPrice.InexactFloat64(),
		}
	}
	return orderResponse{
		OrderID:     o.ID.String(),
		CustomerID:  o.CustomerID,
		Items:       items,
		TotalAmount: o.TotalAmount.InexactFloat64(),
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func requestID(r *http.Request) string {
	if rid := appCtx.RequestID(r.Context()); rid != "" {
		return rid
	}
	return "no-request-id"
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	response.Fail(w, status, code, message, meta, requestID(r))
}
