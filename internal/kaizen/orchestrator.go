package kaizen

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shiko-ai/shiko/internal/config"
	"github.com/shiko-ai/shiko/internal/model"
)

// Orchestrator drives the loop. A single cycle slot is enforced with a
// try-lock: a cycle requested while one runs is rejected with
// ErrCycleInProgress rather than queued, because a queued cycle would act on
// a window the running cycle is already changing.
type Orchestrator struct {
	monitor  *Monitor
	analyzer *Analyzer
	executor *Executor
	learner  *Learner
	store    Store
	breaker  *CircuitBreaker
	cfg      config.KaizenConfig
	clock    Clock
	logger   *slog.Logger

	cycleMu sync.Mutex

	mu   sync.Mutex
	last *model.CycleResult
}

// NewOrchestrator assembles the loop.
func NewOrchestrator(
	monitor *Monitor,
	analyzer *Analyzer,
	executor *Executor,
	learner *Learner,
	store Store,
	breaker *CircuitBreaker,
	cfg config.KaizenConfig,
	clock Clock,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		monitor:  monitor,
		analyzer: analyzer,
		executor: executor,
		learner:  learner,
		store:    store,
		breaker:  breaker,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// RunCycle executes one cycle. Safe for concurrent callers: only one cycle
// runs at a time, and contenders get ErrCycleInProgress immediately.
//
// The cycle itself runs on a context detached from the caller's
// cancellation. A manual trigger whose client disconnects mid-cycle must not
// strand an action record in a non-terminal outcome, so every trigger path
// gets the same run-to-completion guarantee as the timer.
func (o *Orchestrator) RunCycle(ctx context.Context) (model.CycleResult, error) {
	if !o.cycleMu.TryLock() {
		return model.CycleResult{}, ErrCycleInProgress
	}
	defer o.cycleMu.Unlock()

	result := o.cycle(context.WithoutCancel(ctx))

	o.mu.Lock()
	o.last = &result
	o.mu.Unlock()

	o.logger.Info("cycle finished",
		"status", result.Status,
		"skip_reason", result.SkipReason,
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds())
	return result, nil
}

// cycle runs Monitor → Analyzer → Executor → Learner. Every failure is
// absorbed into the result; the loop never propagates a panic-worthy state
// and never mutates safety gates on infrastructure errors.
func (o *Orchestrator) cycle(ctx context.Context) model.CycleResult {
	result := model.CycleResult{StartedAt: o.clock.Now()}
	defer func() {
		result.FinishedAt = o.clock.Now()
	}()

	snap, triggers, err := o.monitor.Check(ctx)
	if err != nil {
		result.Status = model.CycleStorageError
		result.SkipReason = err.Error()
		return result
	}
	if len(triggers) == 0 {
		result.Status = model.CycleNoTriggers
		return result
	}
	result.Triggers = triggers

	diag, err := o.analyzer.Analyze(ctx, triggers)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// A timed-out model call counts against the breaker: repeated
			// hangs should pause the loop just like repeated failed actions.
			o.breaker.RecordFailure()
		}
		result.Status = model.CycleStorageError
		result.SkipReason = err.Error()
		return result
	}
	result.DiagnosisID = &diag.ID

	if diag.Status == model.DiagnosisDiscarded {
		result.Status = model.CycleDiscarded
		return result
	}
	if diag.SuggestedAction == nil {
		o.discard(ctx, diag.ID)
		result.Status = model.CycleSkipped
		result.SkipReason = "diagnosis suggested no action"
		return result
	}

	action, err := o.executor.Execute(ctx, diag, snap)
	if err != nil {
		var vErr *ValidationError
		switch {
		case errors.Is(err, ErrBreakerOpen), errors.Is(err, ErrRateLimited), errors.As(err, &vErr):
			// Gate refusal: the diagnosis stays in the trail as discarded.
			o.discard(ctx, diag.ID)
			result.Status = model.CycleSkipped
			result.SkipReason = err.Error()
		default:
			result.Status = model.CycleStorageError
			result.SkipReason = err.Error()
		}
		return result
	}
	result.ActionID = &action.ID
	result.Outcome = action.Outcome

	learning, err := o.learner.Evaluate(ctx, action)
	if err != nil {
		result.Status = model.CycleStorageError
		result.SkipReason = err.Error()
		return result
	}
	result.LearningID = &learning.ID
	result.Reward = &learning.RewardValue

	// The reward feeds back into the trigger thresholds of the metrics that
	// started this cycle; a change that hurt raises the bar for acting on
	// the same signal again.
	o.monitor.ScaleThresholds(result.Triggers, learning.RewardValue)

	result.Status = model.CycleExecuted
	return result
}

func (o *Orchestrator) discard(ctx context.Context, id uuid.UUID) {
	if err := o.store.UpdateDiagnosisStatus(ctx, id, model.DiagnosisDiscarded); err != nil {
		o.logger.Warn("could not discard diagnosis", "diagnosis_id", id, "error", err)
	}
}

// Run executes cycles on the configured interval until ctx is cancelled. An
// in-flight cycle always finishes (RunCycle detaches from cancellation), and
// Run returns only between cycles. Intended to be run in an errgroup.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.CycleInterval)
	defer ticker.Stop()

	o.logger.Info("kaizen loop started", "interval", o.cfg.CycleInterval)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("kaizen loop stopped")
			return nil
		case <-ticker.C:
			if _, err := o.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
				o.logger.Error("cycle error", "error", err)
			}
		}
	}
}

// LastResult returns the most recent cycle result, or nil before the first
// cycle.
func (o *Orchestrator) LastResult() *model.CycleResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	cp := *o.last
	return &cp
}
