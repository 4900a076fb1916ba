package queue

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker position. The numeric values feed the
// breaker-state gauge.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half_open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops batch processing after consecutive systemic delivery
// failures and probes recovery after a cooldown. Individual recipient
// failures never feed it; only wholesale item failures do.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	state    BreakerState
	failures int
	openedAt time.Time
	onChange func(from, to BreakerState)
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 10
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// OnStateChange registers a callback invoked (under the breaker lock) on
// every transition. Set it before the breaker sees traffic.
func (b *CircuitBreaker) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Allow reports whether processing may proceed. An open breaker whose
// cooldown has elapsed moves to half-open and lets one batch through as a
// probe.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.transition(BreakerHalfOpen)
			return true
		}
		return false
	}
	return true
}

// RecordSuccess resets the failure streak. In half-open it closes the
// breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
}

// RecordFailure counts a systemic fault. In half-open a single failure
// reopens the breaker; closed trips at the threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.open()
		return
	}

	b.failures++
	if b.state == BreakerClosed && b.failures >= b.threshold {
		b.open()
	}
}

func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) open() {
	b.openedAt = b.now()
	b.failures = 0
	b.transition(BreakerOpen)
}

func (b *CircuitBreaker) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
