package kaizen

import (
	"sync"
	"time"
)

// ActionLimiter bounds how many actions the loop may execute per fixed
// window. A denied acquisition skips the cycle; it is not an action failure
// and does not feed the circuit breaker.
type ActionLimiter struct {
	limit  int
	window time.Duration
	clock  Clock

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewActionLimiter creates a limiter allowing limit actions per window.
func NewActionLimiter(limit int, window time.Duration, clock Clock) *ActionLimiter {
	return &ActionLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
	}
}

// TryAcquire consumes one action slot, or returns ErrRateLimited when the
// window's budget is spent. The count only advances on success.
func (l *ActionLimiter) TryAcquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}
	if l.count >= l.limit {
		return ErrRateLimited
	}
	l.count++
	return nil
}

// Remaining reports how many action slots are left in the current window.
func (l *ActionLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.windowStart.IsZero() && l.clock.Now().Sub(l.windowStart) >= l.window {
		return l.limit
	}
	left := l.limit - l.count
	if left < 0 {
		left = 0
	}
	return left
}
