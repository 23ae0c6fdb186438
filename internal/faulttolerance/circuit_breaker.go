package faulttolerance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CircuitBreakerState represents the current state of the circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	MaxFailures      int           // Consecutive counted failures before opening
	Timeout          time.Duration // Open duration before a half-open trial call is let through
	SuccessThreshold int           // Consecutive half-open successes needed to close
	Name             string        // Name for logging

	// Counts selects the errors that count as failures. Nil counts all.
	// Errors it rejects are passed through and reset nothing.
	Counts func(error) bool
}

// CircuitBreaker stops calling a failing upstream for a cool-down period.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *logrus.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     CircuitBreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig, logger *logrus.Logger) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.Name == "" {
		config.Name = "CircuitBreaker"
	}

	return &CircuitBreaker{
		config: config,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitBreakerOpen
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			return false
		}
		cb.setState(StateHalfOpen)
		cb.successes = 0
	}
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && (cb.config.Counts == nil || cb.config.Counts(err)) {
		cb.failures++
		cb.successes = 0
		switch {
		case cb.state == StateHalfOpen:
			cb.open()
			cb.logger.Warnf("[%s] Circuit breaker reopened from HALF_OPEN due to failure", cb.config.Name)
		case cb.state == StateClosed && cb.failures >= cb.config.MaxFailures:
			cb.open()
			cb.logger.Warnf("[%s] Circuit breaker OPENED after %d failures", cb.config.Name, cb.failures)
		}
		return
	}
	if err != nil {
		return
	}

	cb.failures = 0
	cb.successes++
	if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessThreshold {
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) open() {
	cb.setState(StateOpen)
	cb.openedAt = cb.now()
}

func (cb *CircuitBreaker) setState(state CircuitBreakerState) {
	if cb.state != state {
		cb.logger.Infof("[%s] Circuit breaker state changed: %s -> %s", cb.config.Name, cb.state, state)
		cb.state = state
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Check reports an error while the breaker is open. It fits HealthMonitor.AddCheck.
func (cb *CircuitBreaker) Check(ctx context.Context) error {
	if cb.State() == StateOpen {
		return ErrCircuitBreakerOpen
	}
	return nil
}
