package domain

import "strings"

type OrderStatus string

const (
	StatusPendingShipment OrderStatus = "Pending Shipment"
	StatusShipped         OrderStatus = "Shipped"
	StatusDelivered       OrderStatus = "Delivered"
)

func (s OrderStatus) Valid() bool {
	return s == StatusPendingShipment || s == StatusShipped || s == StatusDelivered
}

// CanTransitionTo enforces the forward-only lifecycle:
// Pending Shipment -> Shipped -> Delivered, no back-edges.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case StatusPendingShipment:
		return next == StatusShipped
	case StatusShipped:
		return next == StatusDelivered
	default:
		return false
	}
}

// EventType derives the event type recorded for a status change,
// e.g. "Pending Shipment" -> "order.pending_shipment".
func (s OrderStatus) EventType() string {
	return "order." + strings.ReplaceAll(strings.ToLower(string(s)), " ", "_")
}
