package kaizen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shiko-ai/shiko/internal/llm"
	"github.com/shiko-ai/shiko/internal/model"
)

// RewardFunc scores the effect of an action from its before/after snapshots.
// Returns the aggregate reward and a per-component breakdown. Positive means
// the system got better.
type RewardFunc func(pre, post model.MetricsSnapshot) (float64, map[string]float64)

// Default reward weights. Latency and reliability dominate; quality is a
// softer signal because it is self-scored.
const (
	weightLatency = 0.4
	weightErrors  = 0.4
	weightQuality = 0.2
)

// DefaultReward compares relative improvements per metric, each clamped to
// [-1, 1] so one wild metric cannot swamp the others.
func DefaultReward(pre, post model.MetricsSnapshot) (float64, map[string]float64) {
	breakdown := make(map[string]float64, 3)

	latency := clamp(relativeImprovement(pre.LatencyP95, post.LatencyP95, 1))
	breakdown["latency"] = weightLatency * latency

	errRate := clamp(relativeImprovement(pre.ErrorRate, post.ErrorRate, 0.01))
	breakdown["error_rate"] = weightErrors * errRate

	if pre.AvgQuality != nil && post.AvgQuality != nil {
		// Quality improves upward, unlike the cost metrics.
		quality := clamp(relativeImprovement(*post.AvgQuality, *pre.AvgQuality, 0.05))
		breakdown["quality"] = weightQuality * quality
	}

	var total float64
	for _, v := range breakdown {
		total += v
	}
	return total, breakdown
}

// relativeImprovement is positive when after is lower than before, measured
// against a floored before.
func relativeImprovement(before, after, floor float64) float64 {
	if before < floor {
		before = floor
	}
	return (before - after) / before
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// LessonExtractor is the language-model surface the learner needs.
// *llm.Gateway satisfies it.
type LessonExtractor interface {
	ExtractLessons(ctx context.Context, action model.SIAction, reward float64) (llm.LessonsPayload, error)
}

// Learner evaluates terminal actions. Every terminal action gets exactly one
// learning; the uniqueness constraint on action_id backs that up.
type Learner struct {
	store     Store
	extractor LessonExtractor
	reward    RewardFunc
	monitor   *Monitor
	timeout   time.Duration
	logger    *slog.Logger

	// fullConfidenceSamples is the window size at which sample-based
	// confidence saturates at 1.
	fullConfidenceSamples int
}

// NewLearner creates a learner. A nil reward falls back to DefaultReward; a
// non-positive timeout falls back to defaultLLMTimeout.
func NewLearner(store Store, extractor LessonExtractor, reward RewardFunc, monitor *Monitor, timeout time.Duration, logger *slog.Logger) *Learner {
	if reward == nil {
		reward = DefaultReward
	}
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	return &Learner{
		store:                 store,
		extractor:             extractor,
		reward:                reward,
		monitor:               monitor,
		timeout:               timeout,
		logger:                logger,
		fullConfidenceSamples: 100,
	}
}

// Evaluate scores a terminal action, extracts lessons, persists the
// learning, and feeds the post-action reality back into the baselines.
func (l *Learner) Evaluate(ctx context.Context, action model.SIAction) (model.Learning, error) {
	if !action.Outcome.Terminal() {
		return model.Learning{}, fmt.Errorf("kaizen: cannot evaluate non-terminal action %s (%s)", action.ID, action.Outcome)
	}

	reward, breakdown, confidence := l.score(action)

	learning := model.Learning{
		ActionID:        action.ID,
		RewardValue:     reward,
		RewardBreakdown: breakdown,
		Confidence:      confidence,
	}

	// Lessons are optional context for future diagnoses; their absence
	// never blocks the learning record. The model call carries a deadline
	// so a hung provider cannot stall the cycle.
	lessonCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if payload, err := l.extractor.ExtractLessons(lessonCtx, action, reward); err != nil {
		l.logger.Warn("lesson extraction failed, recording learning without lessons",
			"action_id", action.ID, "error", err)
	} else {
		learning.Lessons = payload.Lessons
		learning.Recommendations = payload.Recommendations
	}

	saved, err := l.store.InsertLearning(ctx, learning)
	if err != nil {
		return model.Learning{}, fmt.Errorf("kaizen: persist learning: %w", err)
	}

	if action.Outcome == model.OutcomeCompleted && action.PostMetrics != nil {
		l.monitor.UpdateBaselines(*action.PostMetrics)
	}

	l.logger.Info("learning recorded",
		"learning_id", saved.ID,
		"action_id", action.ID,
		"reward", reward,
		"confidence", confidence)
	return saved, nil
}

// score computes reward, breakdown, and confidence for a terminal action.
// Outcomes that never changed anything carry zero reward; failures carry a
// fixed penalty so the diagnosis context reflects that the attempt hurt.
func (l *Learner) score(action model.SIAction) (float64, map[string]float64, float64) {
	switch action.Outcome {
	case model.OutcomeCompleted:
		if action.PostMetrics == nil {
			// Completed but unmeasurable. Neutral reward, no confidence.
			return 0, map[string]float64{"unmeasured": 0}, 0
		}
		reward, breakdown := l.reward(action.PreMetrics, *action.PostMetrics)
		return reward, breakdown, l.confidence(action.PreMetrics.SampleCount, action.PostMetrics.SampleCount)
	case model.OutcomeFailed, model.OutcomeRolledBack:
		return -0.5, map[string]float64{"execution_failure": -0.5}, 1
	default: // approval_timeout, approval_rejected
		return 0, map[string]float64{"not_executed": 0}, 1
	}
}

// confidence grows with the smaller of the two sample counts and saturates
// at fullConfidenceSamples.
func (l *Learner) confidence(preN, postN int) float64 {
	n := preN
	if postN < n {
		n = postN
	}
	if n <= 0 {
		return 0
	}
	c := float64(n) / float64(l.fullConfidenceSamples)
	if c > 1 {
		c = 1
	}
	return c
}
