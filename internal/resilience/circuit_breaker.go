// SPDX-License-Identifier: MIT

// Package resilience tracks per-provider failure state so the fan-out can
// skip upstreams that are currently failing.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/submaker/submaker/internal/metrics"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Defaults match the upstream failure profile observed in production.
const (
	DefaultFailureThreshold         = 3
	DefaultResetTimeout             = 60 * time.Second
	DefaultHalfOpenSuccessThreshold = 2
)

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CircuitBreaker implements a closed / open / half-open state machine.
// Open circuits reject immediately; after the reset timeout a limited probe
// stream runs in half-open until enough successes close the circuit again.
type CircuitBreaker struct {
	mu                sync.Mutex
	name              string
	state             State
	failures          int
	halfOpenSuccesses int

	threshold        int
	resetTimeout     time.Duration
	halfOpenRequired int

	openedAt    time.Time
	lastFailure time.Time
	clock       clock
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

func WithClock(c clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

func WithThreshold(n int) Option {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.threshold = n
		}
	}
}

func WithResetTimeout(d time.Duration) Option {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.resetTimeout = d
		}
	}
}

func WithHalfOpenSuccesses(n int) Option {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.halfOpenRequired = n
		}
	}
}

// New creates a circuit breaker named after its provider.
func New(name string, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		state:            StateClosed,
		threshold:        DefaultFailureThreshold,
		resetTimeout:     DefaultResetTimeout,
		halfOpenRequired: DefaultHalfOpenSuccessThreshold,
		clock:            realClock{},
	}
	for _, opt := range opts {
		opt(cb)
	}
	metrics.SetCircuitBreakerState(cb.name, string(cb.state))
	return cb
}

// Execute runs fn respecting the breaker state.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// Allow reports whether a request may proceed, transitioning open circuits
// to half-open once the reset timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) >= cb.resetTimeout {
			cb.transitionTo(StateHalfOpen)
			return true
		}
		return false
	default: // StateHalfOpen: probe traffic allowed
		return true
	}
}

// IsHealthy is the fan-out gate: false only while the circuit is open and
// the reset timeout has not elapsed.
func (cb *CircuitBreaker) IsHealthy() bool {
	return cb.Allow()
}

// RetryIn returns how long until an open circuit admits a probe, and zero
// for closed or half-open circuits.
func (cb *CircuitBreaker) RetryIn() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	remaining := cb.resetTimeout - cb.clock.Now().Sub(cb.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordFailure registers a failed call against the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.clock.Now()

	if cb.state == StateHalfOpen {
		// Failed probe: back to open, reset timer restarts.
		metrics.RecordCircuitBreakerTrip(cb.name, "half_open_failure")
		cb.transitionTo(StateOpen)
		return
	}
	if cb.state == StateClosed && cb.failures >= cb.threshold {
		metrics.RecordCircuitBreakerTrip(cb.name, "threshold_exceeded")
		cb.transitionTo(StateOpen)
	}
}

// RecordSuccess registers a successful call. In half-open the circuit closes
// only after the configured number of consecutive probe successes.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.halfOpenRequired {
			cb.transitionTo(StateClosed)
		}
	case StateClosed:
		cb.failures = 0
	case StateOpen:
		// A success while open can only come from a request admitted just
		// before the trip; ignore it.
	}
}

// transitionTo handles state transitions. Caller must hold the lock.
func (cb *CircuitBreaker) transitionTo(newState State) {
	if cb.state == newState {
		return
	}
	cb.state = newState
	switch newState {
	case StateOpen:
		cb.openedAt = cb.clock.Now()
		cb.halfOpenSuccesses = 0
	case StateHalfOpen:
		cb.halfOpenSuccesses = 0
	case StateClosed:
		cb.failures = 0
		cb.halfOpenSuccesses = 0
	}
	metrics.SetCircuitBreakerState(cb.name, string(newState))
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Registry holds one breaker per provider.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	opts     []Option
}

// NewRegistry creates a registry; opts apply to every breaker it creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker), opts: opts}
}

// For returns the breaker for a provider, creating it on first use.
func (r *Registry) For(provider string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[provider]
	if !ok {
		cb = New(provider, r.opts...)
		r.breakers[provider] = cb
	}
	return cb
}

// States returns a snapshot of all known breaker states.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State()
	}
	return out
}
