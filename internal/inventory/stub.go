package inventory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
)

const defaultStock = 100

// StubChecker simulates the external inventory collaborator: an in-memory
// stock map with a configurable transient failure rate (percent).
type StubChecker struct {
	mu          sync.Mutex
	stock       map[string]int
	failureRate int
	rng         *rand.Rand
}

func NewStub(failureRatePercent int, seed int64) *StubChecker {
	return &StubChecker{
		stock:       make(map[string]int),
		failureRate: failureRatePercent,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// SetStock overrides the stock level for a product. Unknown products default
// to a generous level so the happy path does not depend on seeding.
func (s *StubChecker) SetStock(productID string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[productID] = quantity
}

func (s *StubChecker) CheckBatchAvailability(ctx context.Context, reqs []AvailabilityRequest) ([]AvailabilityResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failureRate > 0 && s.rng.Intn(100) < s.failureRate {
		return nil, errors.New("inventory service temporarily unavailable")
	}

	out := make([]AvailabilityResult, len(reqs))
	for i, req := range reqs {
		level, ok := s.stock[req.ProductID]
		if !ok {
			level = defaultStock
		}
		out[i] = AvailabilityResult{
			ProductID:         req.ProductID,
			Available:         level >= req.Quantity,
			AvailableQuantity: level,
		}
	}
	return out, nil
}
