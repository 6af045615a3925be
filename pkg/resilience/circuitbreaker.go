// Package resilience holds the fault-tolerance helpers shared by the
// indexer and the searcher: conflict retry with backoff, per-task timeouts
// and the circuit breaker in front of the result cache.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is in the Open state.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current phase of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// CircuitBreakerConfig controls failure thresholds and recovery timing.
// IsFailure decides which errors count against the circuit; by default every
// non-nil error does. OnStateChange is called with the lock held and must
// not call back into the breaker.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	IsFailure           func(error) bool
	OnStateChange       func(name string, from, to State)
}

func defaultCBConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker fails fast once FailureThreshold consecutive calls have
// failed. After ResetTimeout it lets HalfOpenMaxRequests probes through; the
// first probe outcome closes or reopens it.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
}

// NewCircuitBreaker fills zero config fields with defaults.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	d := defaultCBConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = d.ResetTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = d.HalfOpenMaxRequests
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
		now:    time.Now,
	}
}

// Call runs fn through cb and passes its result back. When the circuit is
// open fn is not called and the error wraps ErrCircuitOpen.
func Call[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	v, err := fn()
	cb.record(err)
	return v, err
}

// Execute is Call for functions with no result.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	_, err := Call(cb, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures is the current run of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit and forgets past failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed, "manual reset")
	cb.failures = 0
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, wait)
		}
		// This call is the first probe.
		cb.transition(StateHalfOpen, "reset timeout elapsed")
		cb.probes = 1
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, cb.name)
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil || !cb.cfg.IsFailure(err) {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.transition(StateClosed, "probe succeeded")
		}
		return
	}
	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.transition(StateOpen, "probe failed")
	case cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.transition(StateOpen, "failure threshold reached")
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State, reason string) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.probes = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	cb.logger.Log(context.Background(), level, "circuit "+to.String(),
		"from", from.String(), "reason", reason, "consecutive_failures", cb.failures)
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}
