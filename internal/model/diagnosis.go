package model

import (
	"time"

	"github.com/google/uuid"
)

// Severity grades a diagnosis.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalizes a severity string, defaulting to low on
// unrecognized input so a sloppy language-model response never drops a record.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s)
	}
	return SeverityLow
}

// DiagnosisStatus tracks the single status transition a diagnosis may make.
type DiagnosisStatus string

const (
	// DiagnosisPending means the diagnosis awaits Executor intake.
	DiagnosisPending DiagnosisStatus = "pending"
	// DiagnosisActioned means exactly one action references this diagnosis.
	DiagnosisActioned DiagnosisStatus = "actioned"
	// DiagnosisDiscarded means the analyzer could not produce a usable
	// diagnosis (parse failure, gateway error). Kept for the audit trail.
	DiagnosisDiscarded DiagnosisStatus = "discarded"
)

// TriggerMetric is an anomaly signal emitted by the Monitor: an observed
// metric value that deviates from its baseline beyond the configured
// threshold. Transient: persisted only embedded in a Diagnosis.
type TriggerMetric struct {
	Metric    string  `json:"metric"`
	Observed  float64 `json:"observed"`
	Baseline  float64 `json:"baseline"`
	Deviation float64 `json:"deviation"` // relative deviation, e.g. 0.35 = 35% off baseline
}

// Diagnosis is the persisted root-cause analysis of one cycle's triggers.
// Created by the Analyzer; its status is mutated at most once (by Executor
// intake or by the Analyzer itself on parse failure); never deleted.
type Diagnosis struct {
	ID              uuid.UUID       `json:"id"`
	Triggers        []TriggerMetric `json:"triggers"`
	Severity        Severity        `json:"severity"`
	Description     string          `json:"description"`
	SuspectedCause  *string         `json:"suspected_cause,omitempty"`
	SuggestedAction *Action         `json:"suggested_action,omitempty"`
	ActionRationale *string         `json:"action_rationale,omitempty"`
	Status          DiagnosisStatus `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}
