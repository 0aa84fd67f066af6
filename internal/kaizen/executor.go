package kaizen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shiko-ai/shiko/internal/config"
	"github.com/shiko-ai/shiko/internal/model"
	"github.com/shiko-ai/shiko/internal/overrides"
)

// Executor applies a diagnosis's suggested action behind the safety gates.
//
// Gate order is fixed: circuit breaker, then action rate limit, then
// allowlist, then (for high-risk types) operator approval. Only after every
// gate passes does the action record advance to executing and the override
// get written. A failed apply is rolled back; a failed rollback force-opens
// the breaker because the live configuration is then unknown.
type Executor struct {
	store     Store
	resolver  *overrides.Resolver
	monitor   *Monitor
	breaker   *CircuitBreaker
	limiter   *ActionLimiter
	allowlist *Allowlist
	approvals *ApprovalGate
	highRisk  map[model.ActionType]bool
	settling  time.Duration
	clock     Clock
	logger    *slog.Logger
}

// NewExecutor wires the executor to its gates.
func NewExecutor(
	store Store,
	resolver *overrides.Resolver,
	monitor *Monitor,
	breaker *CircuitBreaker,
	limiter *ActionLimiter,
	allowlist *Allowlist,
	approvals *ApprovalGate,
	cfg config.KaizenConfig,
	clock Clock,
	logger *slog.Logger,
) *Executor {
	highRisk := make(map[model.ActionType]bool, len(cfg.HighRiskTypes))
	for _, t := range cfg.HighRiskTypes {
		highRisk[model.ActionType(t)] = true
	}
	return &Executor{
		store:     store,
		resolver:  resolver,
		monitor:   monitor,
		breaker:   breaker,
		limiter:   limiter,
		allowlist: allowlist,
		approvals: approvals,
		highRisk:  highRisk,
		settling:  cfg.SettlingInterval,
		clock:     clock,
		logger:    logger,
	}
}

// Execute runs the diagnosis's suggested action to a terminal outcome.
//
// Gate refusals (ErrBreakerOpen, ErrRateLimited, *ValidationError) are
// returned before any action record exists; the cycle is skipped, not
// failed. Once the record exists, every exit path leaves it in a terminal
// outcome.
func (e *Executor) Execute(ctx context.Context, diag model.Diagnosis, pre model.MetricsSnapshot) (model.SIAction, error) {
	if diag.SuggestedAction == nil {
		return model.SIAction{}, fmt.Errorf("kaizen: diagnosis %s has no suggested action", diag.ID)
	}
	action := *diag.SuggestedAction

	// Gates, in order. None of these mutate persistent state.
	if err := e.breaker.Allow(); err != nil {
		return model.SIAction{}, err
	}
	if err := e.limiter.TryAcquire(); err != nil {
		return model.SIAction{}, err
	}
	if err := e.allowlist.Validate(action); err != nil {
		return model.SIAction{}, err
	}

	// Record the attempt. This also marks the diagnosis actioned and
	// enforces the one-action-per-diagnosis constraint.
	rec, err := e.store.InsertAction(ctx, model.SIAction{
		DiagnosisID: diag.ID,
		Action:      action,
		PreMetrics:  pre,
	})
	if err != nil {
		return model.SIAction{}, fmt.Errorf("kaizen: record action: %w", err)
	}
	start := e.clock.Now()

	if e.highRisk[action.Type] {
		if err := e.approvals.Await(ctx, rec.ID); err != nil {
			var outcome model.ActionOutcome
			var msg string
			switch {
			case errors.Is(err, ErrApprovalTimeout):
				outcome = model.OutcomeApprovalTimeout
				msg = err.Error()
			case errors.Is(err, ErrApprovalRejected):
				outcome = model.OutcomeApprovalRejected
				msg = err.Error()
			default:
				// The wait was cancelled, not decided. Record that, never a
				// rejection the operator did not make.
				outcome = model.OutcomeFailed
				msg = fmt.Sprintf("approval wait aborted: %v", err)
			}
			if updErr := e.store.UpdateActionOutcome(ctx, rec.ID, outcome, nil, e.sinceMS(start), &msg); updErr != nil {
				return rec, fmt.Errorf("kaizen: record approval outcome: %w", updErr)
			}
			rec.Outcome = outcome
			rec.ErrorMessage = &msg
			e.logger.Info("high-risk action not executed", "action_id", rec.ID, "outcome", outcome)
			return rec, nil
		}
	}

	if err := e.store.UpdateActionOutcome(ctx, rec.ID, model.OutcomeExecuting, nil, e.sinceMS(start), nil); err != nil {
		return rec, fmt.Errorf("kaizen: mark action executing: %w", err)
	}
	rec.Outcome = model.OutcomeExecuting

	outcome, errMsg := e.apply(ctx, rec, action)

	var post *model.MetricsSnapshot
	if outcome == model.OutcomeCompleted {
		// Let the change settle, then measure its effect.
		if err := e.settle(ctx); err == nil {
			if snap, snapErr := e.monitor.Snapshot(ctx); snapErr == nil {
				post = &snap
			} else {
				e.logger.Warn("post-action snapshot failed", "action_id", rec.ID, "error", snapErr)
			}
		}
	}

	if err := e.store.UpdateActionOutcome(ctx, rec.ID, outcome, post, e.sinceMS(start), errMsg); err != nil {
		return rec, fmt.Errorf("kaizen: record action outcome: %w", err)
	}
	rec.Outcome = outcome
	rec.PostMetrics = post
	rec.ErrorMessage = errMsg
	rec.ExecutionTimeMS = e.sinceMS(start)

	// Feed the breaker. Approval refusals never reach this point.
	if outcome == model.OutcomeCompleted {
		e.breaker.RecordSuccess()
	} else {
		e.breaker.RecordFailure()
	}

	e.logger.Info("action finished",
		"action_id", rec.ID,
		"type", action.Type,
		"outcome", outcome,
		"execution_time_ms", rec.ExecutionTimeMS)
	return rec, nil
}

// apply writes the override and rolls back on failure. Returns the terminal
// outcome and an optional error message for the record.
func (e *Executor) apply(ctx context.Context, rec model.SIAction, action model.Action) (model.ActionOutcome, *string) {
	key, err := action.OverrideKey()
	if err != nil {
		msg := err.Error()
		return model.OutcomeFailed, &msg
	}
	value, err := action.OverrideValue()
	if err != nil {
		msg := err.Error()
		return model.OutcomeFailed, &msg
	}

	// Capture the prior state for rollback.
	prev, hadPrev := e.resolver.Snapshot()[key]

	if err := e.resolver.Set(ctx, key, value, &rec.ID); err != nil {
		e.logger.Error("action apply failed, rolling back", "action_id", rec.ID, "key", key, "error", err)
		if rbErr := e.rollback(ctx, key, prev, hadPrev); rbErr != nil {
			e.breaker.ForceOpen("rollback failed")
			msg := fmt.Sprintf("apply failed: %v; rollback failed: %v", err, rbErr)
			return model.OutcomeFailed, &msg
		}
		msg := err.Error()
		return model.OutcomeRolledBack, &msg
	}
	return model.OutcomeCompleted, nil
}

func (e *Executor) rollback(ctx context.Context, key string, prev any, hadPrev bool) error {
	if hadPrev {
		return e.resolver.Set(ctx, key, prev, nil)
	}
	return e.resolver.Delete(ctx, key)
}

// settle waits the settling interval, honoring cancellation.
func (e *Executor) settle(ctx context.Context) error {
	if e.settling <= 0 {
		return nil
	}
	timer := time.NewTimer(e.settling)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) sinceMS(start time.Time) int64 {
	return e.clock.Now().Sub(start).Milliseconds()
}
