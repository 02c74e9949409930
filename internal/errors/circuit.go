package errors

import (
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = New(BreakerOpen, "circuit breaker is open")

// State represents the circuit breaker state.
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

const (
	defaultErrorThreshold  = 5
	defaultWindowDuration  = 30 * time.Second
	defaultMinSamples      = 20
	defaultErrorRate       = 0.5
	defaultBaseOpenTimeout = 5 * time.Second
	defaultMaxOpenTimeout  = 60 * time.Second
)

type outcome struct {
	at      time.Time
	success bool
}

// CircuitBreaker implements the per-external-dependency breaker:
// closed/open/half-open states, a rolling failure window,
// and an exponentially doubling open timer.
type CircuitBreaker struct {
	name string

	errorThreshold int
	windowDuration time.Duration
	minSamples     int
	errorRate      float64
	baseTimeout    time.Duration
	maxTimeout     time.Duration

	mu          sync.Mutex
	state       State
	history     []outcome
	openedAt    time.Time
	openTimeout time.Duration
	halfOpenBusy bool
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.errorThreshold = n }
}

func WithWindow(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.windowDuration = d }
}

func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.baseTimeout = d }
}

func WithMaxOpenTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.maxTimeout = d }
}

// NewCircuitBreaker builds a breaker with the default thresholds:
// 5 failures or 50% error rate over 20+ samples within a 30s window;
// open timer starts at 5s and doubles up to 60s.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:           name,
		errorThreshold: defaultErrorThreshold,
		windowDuration: defaultWindowDuration,
		minSamples:     defaultMinSamples,
		errorRate:      defaultErrorRate,
		baseTimeout:    defaultBaseOpenTimeout,
		maxTimeout:     defaultMaxOpenTimeout,
		state:          StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.openTimeout = cb.baseTimeout
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Failures returns the count of failures currently inside the rolling
// window.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trimLocked(time.Now())
	n := 0
	for _, o := range cb.history {
		if !o.success {
			n++
		}
	}
	return n
}

// State returns the current state, resolving an expired open timer into
// half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) > cb.openTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) trimLocked(now time.Time) {
	cutoff := now.Add(-cb.windowDuration)
	i := 0
	for i < len(cb.history) && cb.history[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		cb.history = cb.history[i:]
	}
}

// Allow reports whether a call may proceed without consuming the single
// half-open probe slot.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateOpen:
		return false
	case StateHalfOpen:
		return !cb.halfOpenBusy
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordLocked(success bool) {
	now := time.Now()
	cb.history = append(cb.history, outcome{at: now, success: success})
	cb.trimLocked(now)

	if success {
		return
	}

	failures := 0
	for _, o := range cb.history {
		if !o.success {
			failures++
		}
	}
	rate := float64(failures) / float64(len(cb.history))

	if failures >= cb.errorThreshold || (len(cb.history) >= cb.minSamples && rate >= cb.errorRate) {
		cb.state = StateOpen
		cb.openedAt = now
	}
}

// RecordSuccess records a successful call. A success observed while
// half-open closes the breaker, resets the open timer to the base
// value, and clears the failure window so stale pre-recovery failures
// cannot immediately reopen it. A success while already closed simply
// joins the rolling window.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.currentStateLocked() == StateHalfOpen {
		cb.state = StateClosed
		cb.halfOpenBusy = false
		cb.openTimeout = cb.baseTimeout
		cb.history = nil
		return
	}

	cb.recordLocked(true)
}

// RecordFailure records a failed call. A failure observed while
// half-open re-opens the breaker with a doubled timer, capped at
// maxTimeout.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.currentStateLocked() == StateHalfOpen {
		cb.halfOpenBusy = false
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.openTimeout *= 2
		if cb.openTimeout > cb.maxTimeout {
			cb.openTimeout = cb.maxTimeout
		}
		return
	}

	cb.recordLocked(false)
}

// Execute runs fn through the breaker, returning ErrCircuitOpen without
// calling fn if the breaker is open or a half-open probe is already in
// flight.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	state := cb.currentStateLocked()

	switch state {
	case StateOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenBusy {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.halfOpenBusy = true
		cb.mu.Unlock()

		if err := fn(); err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		return nil
	default:
		cb.mu.Unlock()
		if err := fn(); err != nil {
			cb.recordFailureClosed()
			return err
		}
		cb.RecordSuccess()
		return nil
	}
}

func (cb *CircuitBreaker) recordFailureClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.recordLocked(false)
}

// CircuitExecuteWithResult runs fn through the breaker, calling fallback
// instead of fn when the breaker denies the call.
func CircuitExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	if !cb.Allow() {
		return fallback()
	}
	cb.mu.Lock()
	state := cb.currentStateLocked()
	if state == StateHalfOpen {
		cb.halfOpenBusy = true
	}
	cb.mu.Unlock()

	result, err := fn()
	if err != nil {
		cb.RecordFailure()
		return result, err
	}
	cb.RecordSuccess()
	return result, nil
}
