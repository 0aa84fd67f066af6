package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionType enumerates the closed set of corrective actions the executor
// knows how to apply. Adding a type means adding a variant here, a bounds
// entry in the allowlist, and an apply case in the executor; there is no
// open-ended dispatch.
type ActionType string

const (
	ActionAdjustThinkingBudget ActionType = "adjust_thinking_budget"
	ActionAdjustRetryCount     ActionType = "adjust_retry_count"
	ActionAdjustRateLimit      ActionType = "adjust_rate_limit"
	ActionAdjustTimeout        ActionType = "adjust_timeout"
	ActionDisableMode          ActionType = "disable_mode"
)

// ActionTypes lists every supported action type.
var ActionTypes = []ActionType{
	ActionAdjustThinkingBudget,
	ActionAdjustRetryCount,
	ActionAdjustRateLimit,
	ActionAdjustTimeout,
	ActionDisableMode,
}

// Action is a typed, parameterized corrective proposal embedded in a
// Diagnosis. Immutable once created.
type Action struct {
	Type   ActionType     `json:"type"`
	Params map[string]any `json:"params"`
}

// NumParam extracts a numeric parameter, accepting the float64 that
// encoding/json produces as well as native integers.
func (a Action) NumParam(name string) (float64, bool) {
	v, ok := a.Params[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// StrParam extracts a string parameter.
func (a Action) StrParam(name string) (string, bool) {
	v, ok := a.Params[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// OverrideKey maps the action to the configuration key it mutates.
func (a Action) OverrideKey() (string, error) {
	switch a.Type {
	case ActionAdjustThinkingBudget:
		return "reasoning.budget_tokens", nil
	case ActionAdjustRetryCount:
		return "reasoning.retry_count", nil
	case ActionAdjustRateLimit:
		return "server.rate_limit_rps", nil
	case ActionAdjustTimeout:
		return "reasoning.timeout_ms", nil
	case ActionDisableMode:
		mode, ok := a.StrParam("mode")
		if !ok {
			return "", fmt.Errorf("model: disable_mode action missing mode parameter")
		}
		return "reasoning.mode." + mode + ".disabled", nil
	}
	return "", fmt.Errorf("model: unknown action type %q", a.Type)
}

// OverrideValue returns the value the executor writes under OverrideKey.
func (a Action) OverrideValue() (any, error) {
	switch a.Type {
	case ActionAdjustThinkingBudget:
		if v, ok := a.NumParam("budget_tokens"); ok {
			return v, nil
		}
		return nil, fmt.Errorf("model: adjust_thinking_budget missing budget_tokens")
	case ActionAdjustRetryCount:
		if v, ok := a.NumParam("retries"); ok {
			return v, nil
		}
		return nil, fmt.Errorf("model: adjust_retry_count missing retries")
	case ActionAdjustRateLimit:
		if v, ok := a.NumParam("rps"); ok {
			return v, nil
		}
		return nil, fmt.Errorf("model: adjust_rate_limit missing rps")
	case ActionAdjustTimeout:
		if v, ok := a.NumParam("timeout_ms"); ok {
			return v, nil
		}
		return nil, fmt.Errorf("model: adjust_timeout missing timeout_ms")
	case ActionDisableMode:
		return true, nil
	}
	return nil, fmt.Errorf("model: unknown action type %q", a.Type)
}

// ActionOutcome tracks an execution attempt through its states.
// pending → executing → one terminal outcome. Terminal records are immutable.
type ActionOutcome string

const (
	OutcomePending          ActionOutcome = "pending"
	OutcomeExecuting        ActionOutcome = "executing"
	OutcomeCompleted        ActionOutcome = "completed"
	OutcomeFailed           ActionOutcome = "failed"
	OutcomeRolledBack       ActionOutcome = "rolled_back"
	OutcomeApprovalTimeout  ActionOutcome = "approval_timeout"
	OutcomeApprovalRejected ActionOutcome = "approval_rejected"
)

// Terminal reports whether the outcome is final. An action must never be
// left executing across a restart.
func (o ActionOutcome) Terminal() bool {
	switch o {
	case OutcomeCompleted, OutcomeFailed, OutcomeRolledBack,
		OutcomeApprovalTimeout, OutcomeApprovalRejected:
		return true
	}
	return false
}

// SIAction is one execution attempt of a suggested action. At most one
// SIAction references a given diagnosis, enforced by a uniqueness
// constraint on diagnosis_id at the persistence layer.
type SIAction struct {
	ID              uuid.UUID        `json:"id"`
	DiagnosisID     uuid.UUID        `json:"diagnosis_id"`
	Action          Action           `json:"action"`
	Outcome         ActionOutcome    `json:"outcome"`
	PreMetrics      MetricsSnapshot  `json:"pre_metrics"`
	PostMetrics     *MetricsSnapshot `json:"post_metrics,omitempty"`
	ExecutionTimeMS int64            `json:"execution_time_ms"`
	ErrorMessage    *string          `json:"error_message,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}
