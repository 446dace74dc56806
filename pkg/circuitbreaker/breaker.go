package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute when the circuit rejects the call.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of the circuit breaker
type State int

const (
	StateClosed   State = iota // Normal operation, requests allowed
	StateHalfOpen              // Probing whether the downstream recovered
	StateOpen                  // Requests are rejected until ResetTimeout elapses
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int64
	ResetTimeout     time.Duration
	HalfOpenMaxCalls int64
	// IsFailure decides which errors returned through Execute count against the
	// downstream. Defaults to every non-nil error.
	IsFailure func(error) bool
	// OnStateChange is called without the lock held after every transition
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker trips after FailureThreshold consecutive failures, rejects calls
// for ResetTimeout and then lets HalfOpenMaxCalls probes through.
type CircuitBreaker struct {
	name             string
	failureThreshold int64
	resetTimeout     time.Duration
	halfOpenMaxCalls int64
	isFailure        func(error) bool
	onStateChange    func(name string, from, to State)
	now              func() time.Time

	mu              sync.Mutex
	state           State
	failureCount    int64
	halfOpenCalls   int64
	rejected        int64
	lastStateChange time.Time
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		resetTimeout:     config.ResetTimeout,
		halfOpenMaxCalls: config.HalfOpenMaxCalls,
		isFailure:        config.IsFailure,
		onStateChange:    config.OnStateChange,
		now:              time.Now,
		state:            StateClosed,
		lastStateChange:  time.Now(),
	}
}

// Allow reports whether a call may proceed. An open circuit moves to half-open
// once ResetTimeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	from := cb.state
	allowed := cb.allowLocked()
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return allowed
}

func (cb *CircuitBreaker) allowLocked() bool {
	if cb.state == StateOpen && cb.now().Sub(cb.lastStateChange) >= cb.resetTimeout {
		cb.transitionLocked(StateHalfOpen)
	}

	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.halfOpenMaxCalls {
			cb.halfOpenCalls++
			return true
		}
	}
	cb.rejected++
	return false
}

// Success reports a successful call. A successful probe closes the circuit.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateHalfOpen:
		cb.transitionLocked(StateClosed)
	case StateClosed:
		cb.failureCount = 0
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// Failure reports a failed call. A failed probe reopens the circuit.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionLocked(StateOpen)
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// Execute runs fn when the circuit allows it and records the outcome.
// Context cancellation and errors rejected by IsFailure do not count as failures.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.Allow() {
		return ErrOpen
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.Success()
	case ctx.Err() != nil:
	case cb.isFailure(err):
		cb.Failure()
	default:
		// The downstream answered; the caller got it wrong
		cb.Success()
	}
	return err
}

// Reset forces the breaker back to closed
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.transitionLocked(StateClosed)
	cb.mu.Unlock()

	cb.notify(from, StateClosed)
}

// RetryAfter is how long an open circuit keeps rejecting calls, zero otherwise
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return 0
	}
	remaining := cb.resetTimeout - cb.now().Sub(cb.lastStateChange)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Name returns the configured breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetMetrics returns a snapshot for the admin endpoints
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"name":              cb.name,
		"state":             cb.state.String(),
		"failure_count":     cb.failureCount,
		"failure_threshold": cb.failureThreshold,
		"half_open_calls":   cb.halfOpenCalls,
		"rejected_calls":    cb.rejected,
		"reset_timeout":     cb.resetTimeout.String(),
		"last_state_change": cb.lastStateChange,
		"time_in_state":     cb.now().Sub(cb.lastStateChange).String(),
	}
}

// transitionLocked moves to state and clears the counters. Callers hold mu.
func (cb *CircuitBreaker) transitionLocked(state State) {
	cb.state = state
	cb.failureCount = 0
	cb.halfOpenCalls = 0
	cb.lastStateChange = cb.now()
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}
