// Package inventory wraps the external availability collaborator behind the
// circuit breaker. No retry lives at this level; callers decide.
package inventory

import (
	"context"

	"github.com/ordercore/order-service/internal/circuitbreaker"
	"github.com/ordercore/order-service/internal/domain"
	"github.com/ordercore/order-service/internal/pkg/logger"
)

type AvailabilityRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type AvailabilityResult struct {
	ProductID         string `json:"productId"`
	Available         bool   `json:"available"`
	AvailableQuantity int    `json:"availableQuantity"`
}

// Checker is the RPC shape the external inventory collaborator must satisfy.
type Checker interface {
	CheckBatchAvailability(ctx context.Context, reqs []AvailabilityRequest) ([]AvailabilityResult, error)
}

// Client guards a Checker with a circuit breaker and normalizes every failure
// (including an open circuit) to INVENTORY_SERVICE_UNAVAILABLE.
type Client struct {
	checker Checker
	breaker *circuitbreaker.CircuitBreaker
}

func NewClient(checker Checker, breaker *circuitbreaker.CircuitBreaker) *Client {
	return &Client{checker: checker, breaker: breaker}
}

// CheckBatchAvailability preserves request order in its results so callers can
// line up details[i] with items[i].
func (c *Client) CheckBatchAvailability(ctx context.Context, reqs []AvailabilityRequest) ([]AvailabilityResult, error) {
	var raw []AvailabilityResult

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		raw, opErr = c.checker.CheckBatchAvailability(ctx, reqs)
		return opErr
	})
	if err != nil {
		logger.Logger.Warn().
			Err(err).
			Str("component", "inventory_client").
			Str("breaker_state", c.breaker.State().String()).
			Msg("availability check failed")
		return nil, domain.ErrInventoryUnavailable(err.Error())
	}

	// Re-align to request order; a result the collaborator dropped counts as
	// unavailable rather than silently accepted.
	byProduct := make(map[string]AvailabilityResult, len(raw))
	for _, r := range raw {
		byProduct[r.ProductID] = r
	}

	out := make([]AvailabilityResult, len(reqs))
	for i, req := range reqs {
		if r, ok := byProduct[req.ProductID]; ok {
			out[i] = r
			continue
		}
		out[i] = AvailabilityResult{ProductID: req.ProductID, Available: false, AvailableQuantity: 0}
	}
	return out, nil
}
