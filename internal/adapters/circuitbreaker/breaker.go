package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

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
		return "half_open"
	}
	return "unknown"
}

// Options tunes a breaker. Zero values fall back to defaults.
type Options struct {
	// HalfOpenSuccesses is the number of consecutive successes that close a
	// half-open breaker (default 3)
	HalfOpenSuccesses int
	// IsFailure decides whether an error counts against the breaker
	// (default: every non-nil error)
	IsFailure func(error) bool
	// OnStateChange is invoked outside the lock after every transition
	OnStateChange func(from, to State)
	now           func() time.Time
}

type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time

	maxFailures int
	timeout     time.Duration
	opts        Options
}

func New(maxFailures int, timeout time.Duration) *CircuitBreaker {
	return NewWithOptions(maxFailures, timeout, Options{})
}

func NewWithOptions(maxFailures int, timeout time.Duration, opts Options) *CircuitBreaker {
	if opts.HalfOpenSuccesses <= 0 {
		opts.HalfOpenSuccesses = 3
	}
	if opts.IsFailure == nil {
		opts.IsFailure = func(err error) bool { return err != nil }
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &CircuitBreaker{
		state:       StateClosed,
		maxFailures: maxFailures,
		timeout:     timeout,
		opts:        opts,
	}
}

func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen {
		if cb.opts.now().Sub(cb.lastFailure) <= cb.timeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.successes = 0
	}
	probing := cb.state
	cb.mu.Unlock()
	cb.notify(from, probing)

	err := fn()

	cb.mu.Lock()
	before := cb.state
	if err != nil && cb.opts.IsFailure(err) {
		cb.failures++
		cb.lastFailure = cb.opts.now()
		// a failed trial call reopens immediately
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		}
	} else if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.opts.HalfOpenSuccesses {
			cb.state = StateClosed
			cb.failures = 0
		}
	} else {
		cb.failures = 0
	}
	after := cb.state
	cb.mu.Unlock()
	cb.notify(before, after)

	return err
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.opts.OnStateChange != nil {
		cb.opts.OnStateChange(from, to)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
