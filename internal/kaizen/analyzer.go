package kaizen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shiko-ai/shiko/internal/llm"
	"github.com/shiko-ai/shiko/internal/model"
)

// maxRawOutput caps how much unparseable model output is preserved on a
// discarded diagnosis.
const maxRawOutput = 4000

// defaultLLMTimeout bounds loop-initiated model calls when no timeout is
// configured. The cycle runs detached from caller cancellation and holds the
// cycle slot, so a model call without a deadline could hang the loop.
const defaultLLMTimeout = time.Minute

// Diagnoser is the language-model surface the analyzer needs. *llm.Gateway
// satisfies it.
type Diagnoser interface {
	Diagnose(ctx context.Context, triggers []model.TriggerMetric, lessons []string) (llm.DiagnosisPayload, error)
}

// Analyzer turns a set of triggers into a persisted diagnosis. Every
// invocation that reaches the model yields a diagnosis row: a parseable
// response becomes a pending diagnosis, an unparseable one becomes a
// discarded diagnosis carrying the raw output. Nothing is silently dropped.
type Analyzer struct {
	store     Store
	diagnoser Diagnoser
	timeout   time.Duration
	logger    *slog.Logger
}

// NewAnalyzer creates an analyzer. A non-positive timeout falls back to
// defaultLLMTimeout.
func NewAnalyzer(store Store, diagnoser Diagnoser, timeout time.Duration, logger *slog.Logger) *Analyzer {
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	return &Analyzer{store: store, diagnoser: diagnoser, timeout: timeout, logger: logger}
}

// Analyze diagnoses the triggers. Transport failures are returned as errors;
// a parse failure returns the persisted discarded diagnosis with a nil error.
func (a *Analyzer) Analyze(ctx context.Context, triggers []model.TriggerMetric) (model.Diagnosis, error) {
	lessons := a.recentLessons(ctx)

	diagCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	payload, err := a.diagnoser.Diagnose(diagCtx, triggers, lessons)
	if err != nil {
		var parseErr *llm.ParseError
		if !errors.As(err, &parseErr) {
			return model.Diagnosis{}, fmt.Errorf("kaizen: analyze: %w", err)
		}

		raw := parseErr.Raw
		if len(raw) > maxRawOutput {
			raw = raw[:maxRawOutput]
		}
		d, insertErr := a.store.InsertDiagnosis(ctx, model.Diagnosis{
			Triggers:       triggers,
			Severity:       model.SeverityLow,
			Description:    "model output could not be parsed",
			SuspectedCause: &raw,
			Status:         model.DiagnosisDiscarded,
		})
		if insertErr != nil {
			return model.Diagnosis{}, fmt.Errorf("kaizen: persist discarded diagnosis: %w", insertErr)
		}
		a.logger.Warn("diagnosis discarded, unparseable model output",
			"diagnosis_id", d.ID, "parse_error", parseErr.Err)
		return d, nil
	}

	d, err := a.store.InsertDiagnosis(ctx, model.Diagnosis{
		Triggers:        triggers,
		Severity:        model.ParseSeverity(payload.Severity),
		Description:     payload.Description,
		SuspectedCause:  payload.SuspectedCause,
		SuggestedAction: payload.SuggestedAction,
		ActionRationale: payload.ActionRationale,
		Status:          model.DiagnosisPending,
	})
	if err != nil {
		return model.Diagnosis{}, fmt.Errorf("kaizen: persist diagnosis: %w", err)
	}

	a.logger.Info("diagnosis recorded",
		"diagnosis_id", d.ID,
		"severity", d.Severity,
		"has_action", d.SuggestedAction != nil)
	return d, nil
}

// recentLessons collects lessons from the latest learnings as context for
// the diagnosis prompt. Best effort: a read failure just means no context.
func (a *Analyzer) recentLessons(ctx context.Context) []string {
	learnings, err := a.store.RecentLearnings(ctx, 5)
	if err != nil {
		a.logger.Warn("could not load recent learnings for diagnosis context", "error", err)
		return nil
	}
	var lessons []string
	for _, l := range learnings {
		lessons = append(lessons, l.Lessons...)
	}
	return lessons
}
