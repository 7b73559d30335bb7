package domain

import (
	"errors"
	"fmt"
)

type ErrCode string

const (
	CodeValidation           ErrCode = "VALIDATION_ERROR"
	CodeInsufficientInv      ErrCode = "INSUFFICIENT_INVENTORY"
	CodeInventoryUnavailable ErrCode = "INVENTORY_SERVICE_UNAVAILABLE"
	CodeOrderNotFound        ErrCode = "ORDER_NOT_FOUND"
	CodeInvalidTransition    ErrCode = "INVALID_STATUS_TRANSITION"
	CodeDuplicateEvent       ErrCode = "DUPLICATE_EVENT"
)

// InventoryShortfall is the per-item detail carried by INSUFFICIENT_INVENTORY.
// Order matches the request item order.
type InventoryShortfall struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type AppError struct {
	Code    ErrCode
	Message string
	Meta    map[string]string

	// Shortfalls is set only for INSUFFICIENT_INVENTORY.
	Shortfalls []InventoryShortfall
}

func (e *AppError) Error() string {
	if len(e.Meta) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Meta)
}

func ErrValidation(msg string) error { return &AppError{Code: CodeValidation, Message: msg} }
func ErrValidationMeta(msg string, meta map[string]string) error {
	return &AppError{Code: CodeValidation, Message: msg, Meta: meta}
}

func ErrInsufficientInventory(details []InventoryShortfall) error {
	return &AppError{
		Code:       CodeInsufficientInv,
		Message:    "insufficient inventory for one or more items",
		Shortfalls: details,
	}
}

func ErrInventoryUnavailable(msg string) error {
	if msg == "" {
		msg = "inventory service unavailable"
	}
	return &AppError{Code: CodeInventoryUnavailable, Message: msg}
}

func ErrOrderNotFound(orderID string) error {
	return &AppError{Code: CodeOrderNotFound, Message: "order not found", Meta: map[string]string{"order_id": orderID}}
}

func ErrInvalidTransition(from, to OrderStatus) error {
	return &AppError{
		Code:    CodeInvalidTransition,
		Message: "status transition not allowed",
		Meta:    map[string]string{"from": string(from), "to": string(to)},
	}
}

func ErrDuplicateEvent(eventID string) error {
	return &AppError{Code: CodeDuplicateEvent, Message: "event already processed", Meta: map[string]string{"event_id": eventID}}
}

// CodeOf extracts the domain code from an error chain, or "" for plain errors.
func CodeOf(err error) ErrCode {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// ErrCacheMiss is returned by the cache layer when a key is absent.
var ErrCacheMiss = errors.New("cache miss")
