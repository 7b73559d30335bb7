package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without invoking the operation while the circuit is open.
var ErrOpen = errors.New("circuit breaker is open")

// ErrTimeout is returned when the operation exceeds the per-call timeout.
// A timeout counts as a failure.
var ErrTimeout = errors.New("circuit breaker: operation timed out")

// State represents the state of a circuit breaker
type State int

const (
	StateClosed   State = iota // Normal operation - requests pass through
	StateOpen                  // Circuit is open - requests fail immediately
	StateHalfOpen              // Testing if the dependency recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold int           // failures before the circuit opens
	Timeout          time.Duration // per-operation wall-clock limit
	ResetTimeout     time.Duration // open -> half-open delay
}

// CircuitBreaker guards an external operation with a failure-count threshold.
type CircuitBreaker struct {
	failureThreshold int
	timeout          time.Duration
	resetTimeout     time.Duration

	mu           sync.RWMutex
	state        State
	failureCount int
	lastFailure  time.Time
	nextAttempt  time.Time
}

func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: cfg.FailureThreshold,
		timeout:          cfg.Timeout,
		resetTimeout:     cfg.ResetTimeout,
		state:            StateClosed,
	}
}

// Execute runs op with circuit breaker protection and the configured timeout.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if time.Now().Before(cb.nextAttempt) {
			cb.mu.Unlock()
			return ErrOpen
		}
		// Reset window elapsed: probe with one call.
		cb.state = StateHalfOpen
	}
	cb.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, cb.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(opCtx) }()

	var err error
	select {
	case err = <-done:
	case <-opCtx.Done():
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			err = ErrTimeout
		} else {
			err = opCtx.Err()
		}
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) recordFailure() {
	now := time.Now()
	cb.failureCount++
	cb.lastFailure = now

	// A half-open probe failure reopens immediately; otherwise open on threshold.
	if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.state = StateOpen
		cb.nextAttempt = now.Add(cb.resetTimeout)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.failureCount = 0
	cb.state = StateClosed
}

// Snapshot is the observable breaker state.
type Snapshot struct {
	State        State
	FailureCount int
	LastFailure  time.Time
	NextAttempt  time.Time
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return Snapshot{
		State:        cb.state,
		FailureCount: cb.failureCount,
		LastFailure:  cb.lastFailure,
		NextAttempt:  cb.nextAttempt,
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// FailureCount returns the current failure count
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failureCount
}
