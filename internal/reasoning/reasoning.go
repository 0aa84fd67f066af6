// Package reasoning executes structured reasoning requests against a
// language model.
//
// Each reasoning mode shapes the prompt differently; the engine reads its
// tunables (thinking budget, retry count, timeout, disabled modes) through
// the overrides resolver so the improvement loop can adjust them at runtime.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shiko-ai/shiko/internal/llm"
	"github.com/shiko-ai/shiko/internal/model"
	"github.com/shiko-ai/shiko/internal/overrides"
)

// ErrUnknownMode is returned for a reasoning mode outside the catalogue.
var ErrUnknownMode = errors.New("reasoning: unknown mode")

// ErrModeDisabled is returned when the requested mode has been disabled at
// runtime.
var ErrModeDisabled = errors.New("reasoning: mode disabled")

// Defaults are the static fallbacks used when no override is set.
type Defaults struct {
	BudgetTokens int
	RetryCount   int
	Timeout      time.Duration
}

// Request is one reasoning problem.
type Request struct {
	Problem string
	Mode    model.ReasoningMode
	Context string // optional background the caller wants considered
}

// Result is the outcome of a reasoning request.
type Result struct {
	Mode         model.ReasoningMode
	Answer       string
	QualityScore float64
	LatencyMS    int64
	Attempts     int
}

// Engine runs reasoning requests.
type Engine struct {
	completer llm.Completer
	resolver  *overrides.Resolver
	logger    *slog.Logger
	defaults  Defaults
}

// NewEngine creates a reasoning engine.
func NewEngine(completer llm.Completer, resolver *overrides.Resolver, logger *slog.Logger, defaults Defaults) *Engine {
	return &Engine{
		completer: completer,
		resolver:  resolver,
		logger:    logger,
		defaults:  defaults,
	}
}

// Reason answers one problem in the requested mode. Transient completion
// failures are retried up to the configured retry count; each attempt runs
// under the configured timeout.
func (e *Engine) Reason(ctx context.Context, req Request) (Result, error) {
	if !model.IsKnownMode(req.Mode) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownMode, req.Mode)
	}
	if e.resolver.Bool(ModeDisabledKey(req.Mode), false) {
		return Result{}, fmt.Errorf("%w: %s", ErrModeDisabled, req.Mode)
	}

	budget := e.resolver.Int("reasoning.budget_tokens", e.defaults.BudgetTokens)
	retries := e.resolver.Int("reasoning.retry_count", e.defaults.RetryCount)
	timeout := time.Duration(e.resolver.Float("reasoning.timeout_ms", float64(e.defaults.Timeout.Milliseconds()))) * time.Millisecond

	start := time.Now()
	var answer string
	var err error
	attempts := 0
	for attempt := 0; attempt <= retries; attempt++ {
		attempts++
		answer, err = e.complete(ctx, req, budget, timeout)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		e.logger.Warn("reasoning attempt failed",
			"mode", req.Mode, "attempt", attempt+1, "error", err)
	}
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Result{Mode: req.Mode, LatencyMS: latency, Attempts: attempts},
			fmt.Errorf("reasoning: %s mode failed after %d attempts: %w", req.Mode, attempts, err)
	}

	return Result{
		Mode:         req.Mode,
		Answer:       answer,
		QualityScore: ScoreAnswer(answer),
		LatencyMS:    latency,
		Attempts:     attempts,
	}, nil
}

func (e *Engine) complete(ctx context.Context, req Request, budget int, timeout time.Duration) (string, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	user := req.Problem
	if req.Context != "" {
		user = "Background:\n" + req.Context + "\n\nProblem:\n" + req.Problem
	}

	return e.completer.Complete(attemptCtx, llm.Request{
		System:    modePrompt(req.Mode),
		User:      user,
		MaxTokens: budget,
	})
}

// ModeDisabledKey is the override key that disables a reasoning mode.
func ModeDisabledKey(mode model.ReasoningMode) string {
	return "reasoning.mode." + string(mode) + ".disabled"
}
