// Package kaizen implements the autonomous self-improvement loop.
//
// One cycle runs Monitor → Analyzer → Executor → Learner: aggregate recent
// invocations, ask a language model to diagnose anomalies, apply a bounded
// configuration change through the safety gates, and evaluate the result.
// Every step leaves a persisted artifact, so the loop's full history is
// reconstructable from the diagnoses, si_actions, and learnings tables.
package kaizen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shiko-ai/shiko/internal/model"
)

// Store is the persistence surface the loop needs. *storage.DB satisfies it.
type Store interface {
	ScanInvocations(ctx context.Context, from, to time.Time) ([]model.Invocation, error)
	InsertDiagnosis(ctx context.Context, d model.Diagnosis) (model.Diagnosis, error)
	UpdateDiagnosisStatus(ctx context.Context, id uuid.UUID, status model.DiagnosisStatus) error
	InsertAction(ctx context.Context, a model.SIAction) (model.SIAction, error)
	UpdateActionOutcome(ctx context.Context, id uuid.UUID, outcome model.ActionOutcome, post *model.MetricsSnapshot, execMS int64, errMsg *string) error
	InsertLearning(ctx context.Context, l model.Learning) (model.Learning, error)
	RecentDiagnoses(ctx context.Context, limit int) ([]model.Diagnosis, error)
	RecentActions(ctx context.Context, limit int) ([]model.SIAction, error)
	RecentLearnings(ctx context.Context, limit int) ([]model.Learning, error)
}

// Clock abstracts time for the breaker, limiter, and executor so tests can
// drive them deterministically.
type Clock interface {
	Now() time.Time
}

// realClock is the production clock.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// NewClock returns the wall clock.
func NewClock() Clock { return realClock{} }

// Safety gate sentinels. The orchestrator maps these to a skipped cycle, not
// a failed one.
var (
	// ErrBreakerOpen means the circuit breaker is refusing actions.
	ErrBreakerOpen = errors.New("kaizen: circuit breaker open")
	// ErrRateLimited means the action budget for the current window is spent.
	ErrRateLimited = errors.New("kaizen: action rate limit reached")
	// ErrCycleInProgress means a cycle was requested while one is running.
	ErrCycleInProgress = errors.New("kaizen: cycle already in progress")
	// ErrApprovalTimeout means no decision arrived within the approval window.
	ErrApprovalTimeout = errors.New("kaizen: approval timed out")
	// ErrApprovalRejected means an operator rejected the action.
	ErrApprovalRejected = errors.New("kaizen: approval rejected")
	// ErrNoPendingApproval means Resolve was called for an unknown action.
	ErrNoPendingApproval = errors.New("kaizen: no pending approval")
)

// ValidationError reports the first allowlist bound an action violates.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("kaizen: action rejected: %s: %s", e.Field, e.Reason)
}
