package telemetry

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
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

// ErrCircuitOpen is returned without running the operation while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards a failing dependency. After FailureThreshold
// consecutive failures it opens and rejects calls until RecoveryTime has
// passed since the last failure; then a single probe decides whether it
// closes again or reopens.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failureCount int
	lastFailure  time.Time
	probing      bool

	threshold int
	recovery  time.Duration
	now       func() time.Time
	onChange  func(from, to BreakerState)
}

type BreakerOption func(*CircuitBreaker)

// WithBreakerClock replaces time.Now, for tests.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithStateChange registers a callback invoked after every transition.
// It runs outside the breaker lock.
func WithStateChange(fn func(from, to BreakerState)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

func NewCircuitBreaker(cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	cfg = cfg.withDefaults()
	cb := &CircuitBreaker{
		state:     StateClosed,
		threshold: cfg.FailureThreshold,
		recovery:  cfg.RecoveryTime,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs op when the breaker allows it and records the outcome. The
// error of op is returned unchanged; callers decide whether to retry.
func (cb *CircuitBreaker) Execute(op func() error) (err error) {
	if err := cb.acquire(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			cb.record(errors.Errorf("operation panicked: %v", r))
			panic(r)
		}
		cb.record(err)
	}()
	return op()
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.recovery {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probing = true
	case StateHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	from := cb.state
	if err == nil {
		cb.failureCount = 0
		cb.probing = false
		cb.state = StateClosed
	} else {
		cb.failureCount++
		cb.lastFailure = cb.now()
		switch cb.state {
		case StateHalfOpen:
			cb.probing = false
			cb.state = StateOpen
		case StateClosed:
			if cb.failureCount >= cb.threshold {
				cb.state = StateOpen
			}
		}
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to BreakerState) {
	if from != to && cb.onChange != nil {
		cb.onChange(from, to)
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}
