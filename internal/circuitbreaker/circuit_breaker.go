package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mls-sync/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means the circuit is testing if the upstream has recovered
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when too many requests are made in half-open state
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Config configures a circuit breaker
type Config struct {
	Name             string
	MaxFailures      int           // consecutive failures (or minimum calls for the rate check) before opening
	FailureThreshold float64       // failure rate that opens the circuit (0.0-1.0)
	Timeout          time.Duration // time to wait before attempting half-open
	HalfOpenMaxCalls int
	// IsFailure decides whether an error counts against the circuit.
	// Nil counts every error. Lookups that legitimately miss should not trip the breaker.
	IsFailure func(err error) bool
}

// CircuitBreaker stops calling an upstream after repeated failures.
// It is safe for concurrent use.
type CircuitBreaker struct {
	cfg Config

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	totalCalls       int
	halfOpenCalls    int
	consecutiveFails int
	lastFailureTime  time.Time
	lastStateChange  time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	cfg := *config
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 1
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &CircuitBreaker{
		cfg:             cfg,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute executes a function with circuit breaker protection
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.beforeRequest(ctx); err != nil {
		return err
	}

	err := fn()

	cb.afterRequest(ctx, err)

	return err
}

func (cb *CircuitBreaker) beforeRequest(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastStateChange) <= cb.cfg.Timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.halfOpenCalls = 0
		cb.successes = 0
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"circuitBreaker": cb.cfg.Name,
			"state":          StateHalfOpen,
		}).Info("[CircuitBreaker] transitioning to half-open")
		fallthrough

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			return ErrTooManyRequests
		}
		cb.halfOpenCalls++
		return nil

	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(ctx context.Context, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++

	if err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err)) {
		cb.onFailure(ctx)
	} else {
		cb.onSuccess(ctx)
	}
}

func (cb *CircuitBreaker) onSuccess(ctx context.Context) {
	cb.successes++
	cb.consecutiveFails = 0

	if cb.state == StateHalfOpen && cb.successes >= cb.cfg.HalfOpenMaxCalls {
		cb.setState(StateClosed)
		cb.reset()
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"circuitBreaker": cb.cfg.Name,
			"state":          StateClosed,
		}).Info("[CircuitBreaker] closed after successful recovery")
	}
}

func (cb *CircuitBreaker) onFailure(ctx context.Context) {
	cb.failures++
	cb.consecutiveFails++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.shouldOpen() {
			cb.setState(StateOpen)
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"circuitBreaker":   cb.cfg.Name,
				"state":            StateOpen,
				"failures":         cb.failures,
				"totalCalls":       cb.totalCalls,
				"failureRate":      cb.failureRate(),
				"consecutiveFails": cb.consecutiveFails,
			}).Warn("[CircuitBreaker] opened due to failures")
		}

	case StateHalfOpen:
		cb.setState(StateOpen)
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"circuitBreaker": cb.cfg.Name,
			"state":          StateOpen,
		}).Warn("[CircuitBreaker] reopened after failure in half-open state")
	}
}

func (cb *CircuitBreaker) shouldOpen() bool {
	if cb.consecutiveFails >= cb.cfg.MaxFailures {
		return true
	}
	// rate check needs a minimum sample
	if cb.totalCalls < cb.cfg.MaxFailures || cb.cfg.FailureThreshold <= 0 {
		return false
	}
	return cb.failureRate() >= cb.cfg.FailureThreshold
}

func (cb *CircuitBreaker) failureRate() float64 {
	if cb.totalCalls == 0 {
		return 0.0
	}
	return float64(cb.failures) / float64(cb.totalCalls)
}

func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	cb.lastStateChange = time.Now()
}

func (cb *CircuitBreaker) reset() {
	cb.failures = 0
	cb.successes = 0
	cb.totalCalls = 0
	cb.halfOpenCalls = 0
	cb.consecutiveFails = 0
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	Failures         int       `json:"failures"`
	Successes        int       `json:"successes"`
	TotalCalls       int       `json:"totalCalls"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	FailureRate      float64   `json:"failureRate"`
	LastFailureTime  time.Time `json:"lastFailureTime"`
	LastStateChange  time.Time `json:"lastStateChange"`
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() *Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return &Stats{
		Name:             cb.cfg.Name,
		State:            cb.state,
		Failures:         cb.failures,
		Successes:        cb.successes,
		TotalCalls:       cb.totalCalls,
		ConsecutiveFails: cb.consecutiveFails,
		FailureRate:      cb.failureRate(),
		LastFailureTime:  cb.lastFailureTime,
		LastStateChange:  cb.lastStateChange,
	}
}
