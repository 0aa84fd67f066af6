package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shiko-ai/shiko/internal/model"
)

// ParseError reports that the model answered but its output could not be
// parsed as the expected JSON document. Raw carries the full response so the
// caller can preserve it in the audit trail instead of dropping it.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("llm: parse model output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DiagnosisPayload is the structured result of a diagnosis completion.
type DiagnosisPayload struct {
	Severity        string        `json:"severity"`
	Description     string        `json:"description"`
	SuspectedCause  *string       `json:"suspected_cause,omitempty"`
	SuggestedAction *model.Action `json:"suggested_action,omitempty"`
	ActionRationale *string       `json:"action_rationale,omitempty"`
}

// LessonsPayload is the structured result of a lesson-extraction completion.
type LessonsPayload struct {
	Lessons         []string `json:"lessons"`
	Recommendations []string `json:"recommendations"`
}

// Gateway wraps a Completer with the prompt construction and response
// parsing the improvement loop needs.
type Gateway struct {
	completer Completer
}

// NewGateway creates a gateway over the given completer.
func NewGateway(completer Completer) *Gateway {
	return &Gateway{completer: completer}
}

// Provider reports which completer backs the gateway.
func (g *Gateway) Provider() string { return g.completer.Name() }

const diagnosisSystemPrompt = `You are a diagnostic engine for a reasoning service.
You receive performance anomalies and must produce a diagnosis as a single JSON object:
{
  "severity": "low" | "medium" | "high" | "critical",
  "description": "<what is degraded>",
  "suspected_cause": "<likely root cause, or null>",
  "suggested_action": {"type": "<action type>", "params": {...}} or null,
  "action_rationale": "<why this action should help, or null>"
}
Permitted action types and their params:
  adjust_thinking_budget {"budget_tokens": <number>}
  adjust_retry_count     {"retries": <number>}
  adjust_rate_limit      {"rps": <number>}
  adjust_timeout         {"timeout_ms": <number>}
  disable_mode           {"mode": "<reasoning mode>"}
Respond with the JSON object only.`

// Diagnose asks the model to explain a set of anomalous metrics. Transport
// failures are returned as plain errors; a response that cannot be parsed
// returns a *ParseError carrying the raw output.
func (g *Gateway) Diagnose(ctx context.Context, triggers []model.TriggerMetric, lessons []string) (DiagnosisPayload, error) {
	var b strings.Builder
	b.WriteString("Anomalies detected against baseline:\n")
	for _, t := range triggers {
		fmt.Fprintf(&b, "- %s: observed %.4f, baseline %.4f (deviation %.2f)\n",
			t.Metric, t.Observed, t.Baseline, t.Deviation)
	}
	if len(lessons) > 0 {
		b.WriteString("\nLessons from previous improvement attempts:\n")
		for _, l := range lessons {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}

	raw, err := g.completer.Complete(ctx, Request{
		System:    diagnosisSystemPrompt,
		User:      b.String(),
		MaxTokens: 1024,
	})
	if err != nil {
		return DiagnosisPayload{}, err
	}

	var payload DiagnosisPayload
	if err := unmarshalResponse(raw, &payload); err != nil {
		return DiagnosisPayload{}, &ParseError{Raw: raw, Err: err}
	}
	if payload.Description == "" {
		return DiagnosisPayload{}, &ParseError{Raw: raw, Err: fmt.Errorf("missing description")}
	}
	return payload, nil
}

const lessonsSystemPrompt = `You evaluate the outcome of a configuration change made to a reasoning service.
Given the change, its before/after metrics, and its computed reward, respond with a single JSON object:
{
  "lessons": ["<short generalizable observation>", ...],
  "recommendations": ["<what to try or avoid next>", ...]
}
Respond with the JSON object only.`

// ExtractLessons asks the model to generalize from a finished action. A
// response that cannot be parsed returns a *ParseError; the caller may treat
// lessons as optional and continue without them.
func (g *Gateway) ExtractLessons(ctx context.Context, action model.SIAction, reward float64) (LessonsPayload, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s %v\nOutcome: %s\nReward: %.4f\n",
		action.Action.Type, action.Action.Params, action.Outcome, reward)
	fmt.Fprintf(&b, "Before: error_rate=%.4f latency_p95=%.0fms samples=%d\n",
		action.PreMetrics.ErrorRate, action.PreMetrics.LatencyP95, action.PreMetrics.SampleCount)
	if action.PostMetrics != nil {
		fmt.Fprintf(&b, "After: error_rate=%.4f latency_p95=%.0fms samples=%d\n",
			action.PostMetrics.ErrorRate, action.PostMetrics.LatencyP95, action.PostMetrics.SampleCount)
	}

	raw, err := g.completer.Complete(ctx, Request{
		System:    lessonsSystemPrompt,
		User:      b.String(),
		MaxTokens: 512,
	})
	if err != nil {
		return LessonsPayload{}, err
	}

	var payload LessonsPayload
	if err := unmarshalResponse(raw, &payload); err != nil {
		return LessonsPayload{}, &ParseError{Raw: raw, Err: err}
	}
	return payload, nil
}

// unmarshalResponse extracts the first JSON object from a model response,
// tolerating markdown code fences and surrounding prose.
func unmarshalResponse(raw string, v any) error {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			s = s[i : j+1]
		}
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
