package model

import (
	"time"

	"github.com/google/uuid"
)

// Learning is the evaluated result of one terminal action: a scalar reward,
// its per-metric breakdown, a confidence score derived from sample sizes,
// and optional qualitative lessons from the language-model collaborator.
// Exactly one Learning exists per terminal SIAction; immutable once written.
type Learning struct {
	ID              uuid.UUID          `json:"id"`
	ActionID        uuid.UUID          `json:"action_id"`
	RewardValue     float64            `json:"reward_value"`
	RewardBreakdown map[string]float64 `json:"reward_breakdown"`
	Confidence      float64            `json:"confidence"`
	Lessons         []string           `json:"lessons,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// ConfigOverride is a live tunable applied by a completed action and read by
// the request path's configuration resolver. Last writer wins.
type ConfigOverride struct {
	Key             string     `json:"key"`
	Value           any        `json:"value"`
	AppliedByAction *uuid.UUID `json:"applied_by_action,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
