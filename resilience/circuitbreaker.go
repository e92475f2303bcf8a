package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lookatitude/letta-voice-gateway/o11y"
)

// State is a circuit breaker's current state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned by Execute when the breaker is open and fast-
// failing calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker protects a single external dependency. It trips to open
// after failureThreshold consecutive failures, fast-fails every call while
// open, and after resetTimeout allows exactly one trial call (half-open)
// that decides whether to close again or reopen.
type CircuitBreaker struct {
	mu               sync.Mutex
	failureThreshold int
	resetTimeout     time.Duration
	state            State
	failureCount     int
	openedAt         time.Time
}

// NewCircuitBreaker creates a CircuitBreaker. A failureThreshold <= 0
// defaults to 5; a resetTimeout <= 0 defaults to 30s.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            StateClosed,
	}
}

// State returns the breaker's current state, transitioning open→half_open
// as a side effect if resetTimeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		cb.state = StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed with a zeroed failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
}

// Execute runs fn if the breaker permits it. In the closed and half-open
// states fn is called directly; in the open state (before resetTimeout
// elapses) Execute fast-fails with ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	cb.mu.Lock()
	state := cb.stateLocked()
	if state == StateOpen {
		cb.mu.Unlock()
		return nil, ErrCircuitOpen
	}
	cb.mu.Unlock()

	result, err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failureCount++
		if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
			if cb.state != StateOpen {
				o11y.Counter(ctx, "resilience.circuit_breaker.opened", 1)
			}
			cb.state = StateOpen
			cb.openedAt = time.Now()
		}
		return result, err
	}

	if cb.state != StateClosed {
		o11y.Counter(ctx, "resilience.circuit_breaker.closed", 1)
	}
	cb.state = StateClosed
	cb.failureCount = 0
	return result, nil
}
