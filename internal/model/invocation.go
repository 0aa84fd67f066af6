// Package model defines the persisted record types shared by the storage
// layer, the request path, and the kaizen self-improvement loop.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ReasoningMode identifies one of the structured-reasoning strategies
// exposed as MCP tools.
type ReasoningMode string

const (
	ModeLinear    ReasoningMode = "linear"
	ModeTree      ReasoningMode = "tree"
	ModeDialectic ReasoningMode = "dialectic"
	ModeDecision  ReasoningMode = "decision"
	ModeEvidence  ReasoningMode = "evidence"
)

// KnownModes lists every reasoning mode the server ships.
// The allowlist uses it to bound the disable_mode action's mode parameter.
var KnownModes = []ReasoningMode{ModeLinear, ModeTree, ModeDialectic, ModeDecision, ModeEvidence}

// IsKnownMode reports whether mode names a shipped reasoning mode.
func IsKnownMode(mode ReasoningMode) bool {
	for _, m := range KnownModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Invocation is the immutable record of one completed reasoning tool call.
// Written by the request path at call completion; read only by the Monitor.
type Invocation struct {
	ID           uuid.UUID     `json:"id"`
	ToolName     string        `json:"tool_name"`
	Mode         ReasoningMode `json:"mode"`
	LatencyMS    int64         `json:"latency_ms"`
	Success      bool          `json:"success"`
	QualityScore *float64      `json:"quality_score,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// MetricsSnapshot is an aggregate view of the invocation history over a
// window. The Executor captures one before and one after applying an action;
// the Learner compares the pair.
type MetricsSnapshot struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	SampleCount int       `json:"sample_count"`
	ErrorRate   float64   `json:"error_rate"`
	LatencyP50  float64   `json:"latency_p50_ms"`
	LatencyP95  float64   `json:"latency_p95_ms"`
	AvgQuality  *float64  `json:"avg_quality,omitempty"`
}
