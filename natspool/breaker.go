package natspool

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen indicates dials are suspended after repeated failures
var ErrCircuitOpen = errors.New("nats dial circuit open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker stops dialing after maxFailures consecutive dial failures. After
// cooldown a single trial dial is let through; its outcome closes or reopens
// the circuit.
type breaker struct {
	mu sync.Mutex

	state    breakerState
	failures int
	openedAt time.Time
	probing  bool

	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

func newBreaker(maxFailures int, cooldown time.Duration) *breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}

	return &breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = breakerHalfOpen
		b.probing = true
		return true
	default:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = breakerClosed
	b.failures = 0
	b.probing = false
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probing = false

	if b.state == breakerHalfOpen || b.failures >= b.maxFailures {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
}

// cancel gives back a dial slot whose outcome is unknown because the caller
// gave up. An abandoned trial sends the circuit back to open for another
// cooldown so the next trial can run.
func (b *breaker) cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen && b.probing {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
	b.probing = false
}

func (b *breaker) current() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
