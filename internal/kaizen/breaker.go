package kaizen

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current position.
type BreakerState string

const (
	// BreakerClosed permits actions.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen refuses actions until the cooldown elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen permits a single probe action after the cooldown.
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker halts the loop after consecutive action failures. A failed
// rollback force-opens it immediately: at that point the system's actual
// configuration is unknown and no further automated change is safe.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	clock     Clock
	logger    *slog.Logger

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, cooldown time.Duration, clock Clock, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clock,
		logger:    logger,
		state:     BreakerClosed,
	}
}

// Allow reports whether an action may proceed. An open breaker whose
// cooldown has elapsed transitions to half-open and admits one probe.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	default: // open
		if b.clock.Now().Sub(b.openedAt) >= b.cooldown {
			b.state = BreakerHalfOpen
			b.logger.Info("circuit breaker half-open after cooldown")
			return nil
		}
		return ErrBreakerOpen
	}
}

// RecordSuccess resets the breaker after a completed action.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerClosed {
		b.logger.Info("circuit breaker closed after successful action")
	}
	b.state = BreakerClosed
	b.failures = 0
}

// RecordFailure counts a failed action. A half-open probe failure reopens
// immediately; in the closed state the threshold applies.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.open("consecutive action failures")
	}
}

// ForceOpen opens the breaker regardless of the failure count.
func (b *CircuitBreaker) ForceOpen(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open(reason)
}

func (b *CircuitBreaker) open(reason string) {
	b.state = BreakerOpen
	b.openedAt = b.clock.Now()
	b.logger.Warn("circuit breaker opened", "reason", reason, "failures", b.failures)
}

// State returns the current position without side effects.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
