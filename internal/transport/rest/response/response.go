package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ordercore/order-service/internal/domain"
)

// Envelope is the success envelope:
// {"data": ...}
type Envelope struct {
	Data any `json:"data,omitempty"`
}

// ErrorBody:
// {"error":{"code":"...","message":"...","meta":{...},"details":[...],"request_id":"..."}}
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

type ErrorPayload struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Meta    map[string]string `json:"meta,omitempty"`
	// Details carries the per-item shortfall list for INSUFFICIENT_INVENTORY.
	Details   []domain.InventoryShortfall `json:"details,omitempty"`
	RequestID string                      `json:"request_id,omitempty"`
}

// JSON writes raw JSON with Content-Type.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Data wraps payload with {"data": ...}
func Data(w http.ResponseWriter, status int, payload any) {
	JSON(w, status, Envelope{Data: payload})
}

// Fail writes an error body with an explicit code and message.
func Fail(w http.ResponseWriter, status int, code, message string, meta map[string]string, requestID string) {
	JSON(w, status, ErrorBody{
		Error: ErrorPayload{
			Code:      code,
			Message:   message,
			Meta:      meta,
			RequestID: requestID,
		},
	})
}

// Err maps a service error to its HTTP rendering. Unknown errors become an
// opaque 500 so internals never leak to clients.
func Err(w http.ResponseWriter, err error, requestID string) {
	var ae *domain.AppError
	if !errors.As(err, &ae) {
		Fail(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil, requestID)
		return
	}

	JSON(w, StatusFor(ae.Code), ErrorBody{
		Error: ErrorPayload{
			Code:      string(ae.Code),
			Message:   ae.Message,
			Meta:      ae.Meta,
			Details:   ae.Shortfalls,
			RequestID: requestID,
		},
	})
}

// StatusFor is the error-code to HTTP-status table.
func StatusFor(code domain.ErrCode) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeOrderNotFound:
		return http.StatusNotFound
	case domain.CodeInsufficientInv, domain.CodeInvalidTransition, domain.CodeDuplicateEvent:
		return http.StatusConflict
	case domain.CodeInventoryUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
