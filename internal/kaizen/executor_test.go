package kaizen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiko-ai/shiko/internal/config"
	"github.com/shiko-ai/shiko/internal/model"
	"github.com/shiko-ai/shiko/internal/overrides"
	"github.com/shiko-ai/shiko/internal/testutil"
)

type executorFixture struct {
	store     *fakeStore
	clock     *fakeClock
	resolver  *overrides.Resolver
	monitor   *Monitor
	breaker   *CircuitBreaker
	limiter   *ActionLimiter
	approvals *ApprovalGate
	executor  *Executor
}

func newExecutorFixture(t *testing.T, cfg config.KaizenConfig) *executorFixture {
	t.Helper()
	store := newFakeStore()
	clock := newFakeClock()
	logger := testutil.TestLogger()
	resolver := overrides.NewResolver(store, logger)
	monitor := NewMonitor(store, cfg, clock, logger)
	breaker := NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, clock, logger)
	limiter := NewActionLimiter(cfg.ActionLimit, cfg.ActionWindow, clock)
	approvals := NewApprovalGate(cfg.ApprovalTimeout, logger)
	exec := NewExecutor(store, resolver, monitor, breaker, limiter, NewAllowlist(cfg.Bounds), approvals, cfg, clock, logger)
	return &executorFixture{
		store: store, clock: clock, resolver: resolver, monitor: monitor,
		breaker: breaker, limiter: limiter, approvals: approvals, executor: exec,
	}
}

func (f *executorFixture) insertDiagnosis(t *testing.T, action model.Action) model.Diagnosis {
	t.Helper()
	d, err := f.store.InsertDiagnosis(context.Background(), model.Diagnosis{
		Severity:        model.SeverityHigh,
		Description:     "latency regression",
		SuggestedAction: &action,
	})
	require.NoError(t, err)
	return d
}

func budgetAction(tokens float64) model.Action {
	return model.Action{
		Type:   model.ActionAdjustThinkingBudget,
		Params: map[string]any{"budget_tokens": tokens},
	}
}

func preSnapshot() model.MetricsSnapshot {
	return model.MetricsSnapshot{SampleCount: 60, ErrorRate: 0.2, LatencyP50: 400, LatencyP95: 2000}
}

func TestExecutorHappyPath(t *testing.T) {
	f := newExecutorFixture(t, testKaizenConfig())
	diag := f.insertDiagnosis(t, budgetAction(1024))
	seedInvocations(f.store, f.clock, 30, 0.05, 400, 0.85) // post-snapshot data

	rec, err := f.executor.Execute(context.Background(), diag, preSnapshot())
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeCompleted, rec.Outcome)
	require.NotNil(t, rec.PostMetrics)
	assert.Equal(t, 30, rec.PostMetrics.SampleCount)

	// The override landed in the cache and in the store, attributed to the action.
	assert.Equal(t, 1024.0, f.resolver.Float("reasoning.budget_tokens", 0))
	saved := f.store.overrides["reasoning.budget_tokens"]
	require.NotNil(t, saved.AppliedByAction)
	assert.Equal(t, rec.ID, *saved.AppliedByAction)

	// Diagnosis marked actioned, breaker fed a success.
	assert.Equal(t, model.DiagnosisActioned, f.store.diagnoses[diag.ID].Status)
	assert.Equal(t, BreakerClosed, f.breaker.State())
}

func TestExecutorGateOrderBreakerFirst(t *testing.T) {
	f := newExecutorFixture(t, testKaizenConfig())
	f.breaker.ForceOpen("test")
	diag := f.insertDiagnosis(t, budgetAction(100000)) // would also fail allowlist

	_, err := f.executor.Execute(context.Background(), diag, preSnapshot())
	assert.ErrorIs(t, err, ErrBreakerOpen)

	// Breaker refusal must not consume an action slot or create a record.
	assert.Equal(t, testKaizenConfig().ActionLimit, f.limiter.Remaining())
	assert.Empty(t, f.store.actions)
}

func TestExecutorRateLimitRefusal(t *testing.T) {
	cfg := testKaizenConfig()
	cfg.ActionLimit = 1
	f := newExecutorFixture(t, cfg)

	d1 := f.insertDiagnosis(t, budgetAction(1024))
	_, err := f.executor.Execute(context.Background(), d1, preSnapshot())
	require.NoError(t, err)

	d2 := f.insertDiagnosis(t, budgetAction(2048))
	_, err = f.executor.Execute(context.Background(), d2, preSnapshot())
	assert.ErrorIs(t, err, ErrRateLimited)
	_, exists := f.store.actionByDiagnosis(d2.ID)
	assert.False(t, exists, "rate-limited action must not be recorded")
}

func TestExecutorAllowlistRefusal(t *testing.T) {
	f := newExecutorFixture(t, testKaizenConfig())
	diag := f.insertDiagnosis(t, budgetAction(100000))

	_, err := f.executor.Execute(context.Background(), diag, preSnapshot())
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Empty(t, f.store.actions)
	assert.Equal(t, BreakerClosed, f.breaker.State(), "gate refusal is not an action failure")
}

func TestExecutorRollbackOnApplyFailure(t *testing.T) {
	f := newExecutorFixture(t, testKaizenConfig())
	f.store.upsertErr = errors.New("db write failed")
	f.store.upsertFail = 1 // apply fails, rollback (a delete) succeeds
	diag := f.insertDiagnosis(t, budgetAction(1024))

	rec, err := f.executor.Execute(context.Background(), diag, preSnapshot())
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeRolledBack, rec.Outcome)
	require.NotNil(t, rec.ErrorMessage)
	assert.NotContains(t, f.store.overrides, "reasoning.budget_tokens")
	assert.Equal(t, BreakerClosed, f.breaker.State(), "single rolled-back action stays under threshold")
}

func TestExecutorRollbackRestoresPreviousValue(t *testing.T) {
	f := newExecutorFixture(t, testKaizenConfig())
	require.NoError(t, f.resolver.Set(context.Background(), "reasoning.budget_tokens", float64(4096), nil))

	f.store.upsertErr = errors.New("db write failed")
	f.store.upsertFail = 1
	diag := f.insertDiagnosis(t, budgetAction(1024))

	rec, err := f.executor.Execute(context.Background(), diag, preSnapshot())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRolledBack, rec.Outcome)
	assert.Equal(t, 4096.0, f.resolver.Float("reasoning.budget_tokens", 0))
}

func TestExecutorRollbackFailureForcesBreakerOpen(t *testing.T) {
	f := newExecutorFixture(t, testKaizenConfig())
	require.NoError(t, f.resolver.Set(context.Background(), "reasoning.budget_tokens", float64(4096), nil))

	f.store.upsertErr = errors.New("db down")
	f.store.upsertFail = -1 // apply and rollback both fail
	diag := f.insertDiagnosis(t, budgetAction(1024))

	rec, err := f.executor.Execute(context.Background(), diag, preSnapshot())
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeFailed, rec.Outcome)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "rollback failed")
	assert.Equal(t, BreakerOpen, f.breaker.State(), "unknown live config must halt the loop")
}

func TestExecutorOneActionPerDiagnosis(t *testing.T) {
	f := newExecutorFixture(t, testKaizenConfig())
	diag := f.insertDiagnosis(t, budgetAction(1024))

	_, err := f.executor.Execute(context.Background(), diag, preSnapshot())
	require.NoError(t, err)

	_, err = f.executor.Execute(context.Background(), diag, preSnapshot())
	require.Error(t, err)
	assert.ErrorIs(t, err, errDuplicate)
}

func TestExecutorHighRiskApprovalTimeout(t *testing.T) {
	f := newExecutorFixture(t, testKaizenConfig()) // 50ms approval timeout
	diag := f.insertDiagnosis(t, model.Action{
		Type:   model.ActionDisableMode,
		Params: map[string]any{"mode": "tree"},
	})

	rec, err := f.executor.Execute(context.Background(), diag, preSnapshot())
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeApprovalTimeout, rec.Outcome)
	assert.NotContains(t, f.store.overrides, "reasoning.mode.tree.disabled")
	assert.Equal(t, BreakerClosed, f.breaker.State(), "approval outcomes never feed the breaker")
}

func TestExecutorHighRiskApproved(t *testing.T) {
	cfg := testKaizenConfig()
	cfg.ApprovalTimeout = 2 * time.Second
	f := newExecutorFixture(t, cfg)
	diag := f.insertDiagnosis(t, model.Action{
		Type:   model.ActionDisableMode,
		Params: map[string]any{"mode": "tree"},
	})

	done := make(chan model.SIAction, 1)
	go func() {
		rec, err := f.executor.Execute(context.Background(), diag, preSnapshot())
		require.NoError(t, err)
		done <- rec
	}()

	require.Eventually(t, func() bool { return len(f.approvals.Pending()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.approvals.Resolve(f.approvals.Pending()[0], true))

	rec := <-done
	assert.Equal(t, model.OutcomeCompleted, rec.Outcome)
	assert.True(t, f.resolver.Bool("reasoning.mode.tree.disabled", false))
}

func TestExecutorApprovalWaitCancelled(t *testing.T) {
	cfg := testKaizenConfig()
	cfg.ApprovalTimeout = 2 * time.Second
	f := newExecutorFixture(t, cfg)
	diag := f.insertDiagnosis(t, model.Action{
		Type:   model.ActionDisableMode,
		Params: map[string]any{"mode": "tree"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan model.SIAction, 1)
	go func() {
		rec, err := f.executor.Execute(ctx, diag, preSnapshot())
		require.NoError(t, err)
		done <- rec
	}()

	require.Eventually(t, func() bool { return len(f.approvals.Pending()) == 1 }, time.Second, time.Millisecond)
	cancel()

	rec := <-done
	assert.Equal(t, model.OutcomeFailed, rec.Outcome, "a cancelled wait is not an operator decision")
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "approval wait aborted")
	assert.NotContains(t, f.store.overrides, "reasoning.mode.tree.disabled")
	assert.Equal(t, BreakerClosed, f.breaker.State())
}

func TestExecutorHighRiskRejected(t *testing.T) {
	cfg := testKaizenConfig()
	cfg.ApprovalTimeout = 2 * time.Second
	f := newExecutorFixture(t, cfg)
	diag := f.insertDiagnosis(t, model.Action{
		Type:   model.ActionDisableMode,
		Params: map[string]any{"mode": "dialectic"},
	})

	done := make(chan model.SIAction, 1)
	go func() {
		rec, err := f.executor.Execute(context.Background(), diag, preSnapshot())
		require.NoError(t, err)
		done <- rec
	}()

	require.Eventually(t, func() bool { return len(f.approvals.Pending()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.approvals.Resolve(f.approvals.Pending()[0], false))

	rec := <-done
	assert.Equal(t, model.OutcomeApprovalRejected, rec.Outcome)
	assert.NotContains(t, f.store.overrides, "reasoning.mode.dialectic.disabled")
}
