package model

import (
	"time"

	"github.com/google/uuid"
)

// CycleStatus summarizes how one Monitor→Analyzer→Executor→Learner pass ended.
type CycleStatus string

const (
	// CycleNoTriggers means the monitor found nothing anomalous; the cycle
	// was a no-op.
	CycleNoTriggers CycleStatus = "no_triggers"
	// CycleDiscarded means the analyzer produced a discarded diagnosis
	// (unparseable language-model output) and execution was skipped.
	CycleDiscarded CycleStatus = "diagnosis_discarded"
	// CycleSkipped means a safety gate (breaker, rate limit, allowlist,
	// approval) stopped the action before application.
	CycleSkipped CycleStatus = "skipped"
	// CycleExecuted means the executor reached a terminal outcome and a
	// learning was recorded.
	CycleExecuted CycleStatus = "executed"
	// CycleStorageError means an infrastructure dependency (storage or the
	// language-model transport) failed mid-cycle; no in-memory safety state
	// was mutated.
	CycleStorageError CycleStatus = "storage_error"
)

// CycleResult is the Orchestrator's report for one cycle. Not persisted as a
// table; the persisted artifacts are the diagnosis, action, and learning it
// references.
type CycleResult struct {
	Status      CycleStatus     `json:"status"`
	SkipReason  string          `json:"skip_reason,omitempty"`
	Triggers    []TriggerMetric `json:"triggers,omitempty"`
	DiagnosisID *uuid.UUID      `json:"diagnosis_id,omitempty"`
	ActionID    *uuid.UUID      `json:"action_id,omitempty"`
	Outcome     ActionOutcome   `json:"outcome,omitempty"`
	LearningID  *uuid.UUID      `json:"learning_id,omitempty"`
	Reward      *float64        `json:"reward,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}
