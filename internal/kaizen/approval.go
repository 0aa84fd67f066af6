package kaizen

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ApprovalGate holds high-risk actions until an operator decides. No
// decision within the timeout counts as rejection: silence must never apply
// a risky change.
type ApprovalGate struct {
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]chan bool
}

// NewApprovalGate creates a gate with the given decision timeout.
func NewApprovalGate(timeout time.Duration, logger *slog.Logger) *ApprovalGate {
	return &ApprovalGate{
		timeout: timeout,
		logger:  logger,
		pending: make(map[uuid.UUID]chan bool),
	}
}

// Await blocks until the action is approved, rejected, or the timeout
// elapses. Returns nil on approval, ErrApprovalRejected on rejection, and
// ErrApprovalTimeout when no decision arrives in time.
func (g *ApprovalGate) Await(ctx context.Context, actionID uuid.UUID) error {
	ch := make(chan bool, 1)

	g.mu.Lock()
	g.pending[actionID] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, actionID)
		g.mu.Unlock()
	}()

	g.logger.Info("awaiting approval for high-risk action",
		"action_id", actionID, "timeout", g.timeout)

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrApprovalTimeout
	case approved := <-ch:
		if !approved {
			return ErrApprovalRejected
		}
		return nil
	}
}

// Resolve delivers an operator decision for a pending action.
func (g *ApprovalGate) Resolve(actionID uuid.UUID, approved bool) error {
	g.mu.Lock()
	ch, ok := g.pending[actionID]
	g.mu.Unlock()
	if !ok {
		return ErrNoPendingApproval
	}

	select {
	case ch <- approved:
		return nil
	default:
		// A second decision for the same action has nowhere to go.
		return ErrNoPendingApproval
	}
}

// Pending lists the actions currently awaiting a decision.
func (g *ApprovalGate) Pending() []uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]uuid.UUID, 0, len(g.pending))
	for id := range g.pending {
		out = append(out, id)
	}
	return out
}
