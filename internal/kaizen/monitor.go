package kaizen

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shiko-ai/shiko/internal/config"
	"github.com/shiko-ai/shiko/internal/model"
)

// Metric names the monitor tracks against baselines.
const (
	MetricErrorRate  = "error_rate"
	MetricLatencyP95 = "latency_p95_ms"
	MetricAvgQuality = "avg_quality"
)

// Monitor aggregates recent invocations into windowed snapshots and compares
// them against exponentially weighted baselines. Baselines advance on healthy
// windows only, so a sustained regression keeps triggering instead of slowly
// becoming the new normal.
type Monitor struct {
	store  Store
	cfg    config.KaizenConfig
	clock  Clock
	logger *slog.Logger

	mu        sync.Mutex
	baselines map[string]float64
	scales    map[string]float64
}

// NewMonitor creates a monitor with empty baselines. The first healthy window
// seeds them.
func NewMonitor(store Store, cfg config.KaizenConfig, clock Clock, logger *slog.Logger) *Monitor {
	return &Monitor{
		store:     store,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		baselines: make(map[string]float64),
		scales:    make(map[string]float64),
	}
}

// Snapshot aggregates the invocations of the trailing metric window.
func (m *Monitor) Snapshot(ctx context.Context) (model.MetricsSnapshot, error) {
	now := m.clock.Now()
	from := now.Add(-m.cfg.MetricWindow)

	invs, err := m.store.ScanInvocations(ctx, from, now)
	if err != nil {
		return model.MetricsSnapshot{}, fmt.Errorf("kaizen: monitor snapshot: %w", err)
	}

	snap := model.MetricsSnapshot{
		WindowStart: from,
		WindowEnd:   now,
		SampleCount: len(invs),
	}
	if len(invs) == 0 {
		return snap, nil
	}

	latencies := make([]float64, 0, len(invs))
	failures := 0
	var qualitySum float64
	qualityN := 0
	for _, inv := range invs {
		latencies = append(latencies, float64(inv.LatencyMS))
		if !inv.Success {
			failures++
		}
		if inv.QualityScore != nil {
			qualitySum += *inv.QualityScore
			qualityN++
		}
	}
	sort.Float64s(latencies)

	snap.ErrorRate = float64(failures) / float64(len(invs))
	snap.LatencyP50 = percentile(latencies, 0.50)
	snap.LatencyP95 = percentile(latencies, 0.95)
	if qualityN > 0 {
		avg := qualitySum / float64(qualityN)
		snap.AvgQuality = &avg
	}
	return snap, nil
}

// Check snapshots the current window and emits a trigger for every metric
// deviating beyond its threshold. Sparse windows (below the minimum sample
// count) never trigger and never move baselines. A window with no triggers
// advances the baselines.
func (m *Monitor) Check(ctx context.Context) (model.MetricsSnapshot, []model.TriggerMetric, error) {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return model.MetricsSnapshot{}, nil, err
	}
	if snap.SampleCount < m.cfg.MinSamples {
		m.logger.Debug("window too sparse, skipping checks",
			"samples", snap.SampleCount, "min", m.cfg.MinSamples)
		return snap, nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var triggers []model.TriggerMetric
	for _, obs := range observations(snap) {
		baseline, ok := m.baselines[obs.metric]
		if !ok {
			// First sighting seeds the baseline; nothing to compare against.
			m.baselines[obs.metric] = obs.value
			continue
		}

		deviation := relativeDeviation(obs.metric, obs.value, baseline)
		threshold := m.cfg.TriggerThresholds[obs.metric]
		if s, ok := m.scales[obs.metric]; ok {
			threshold *= s
		}
		if threshold > 0 && deviation > threshold {
			triggers = append(triggers, model.TriggerMetric{
				Metric:    obs.metric,
				Observed:  obs.value,
				Baseline:  baseline,
				Deviation: deviation,
			})
		}
	}

	if len(triggers) == 0 {
		m.updateBaselinesLocked(snap)
	}
	return snap, triggers, nil
}

// UpdateBaselines folds a snapshot into the baselines. The learner calls
// this after a completed action so the loop measures future windows against
// the post-action reality.
func (m *Monitor) UpdateBaselines(snap model.MetricsSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateBaselinesLocked(snap)
}

func (m *Monitor) updateBaselinesLocked(snap model.MetricsSnapshot) {
	alpha := m.cfg.BaselineAlpha
	for _, obs := range observations(snap) {
		if old, ok := m.baselines[obs.metric]; ok {
			m.baselines[obs.metric] = alpha*obs.value + (1-alpha)*old
		} else {
			m.baselines[obs.metric] = obs.value
		}
	}
}

// Threshold scaling bounds. A scale never drops below 1, so the configured
// threshold is the floor, and never exceeds maxThresholdScale, so a run of
// bad actions cannot blind the monitor entirely.
const (
	maxThresholdScale  = 4.0
	thresholdScaleStep = 0.25
)

// ScaleThresholds folds an action's reward into the trigger thresholds of
// the metrics that fired it. A negative reward widens the threshold, so the
// same anomaly has to get worse before the loop acts on it again; a positive
// reward relaxes the widening back toward the configured value.
func (m *Monitor) ScaleThresholds(triggers []model.TriggerMetric, reward float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range triggers {
		scale, ok := m.scales[t.Metric]
		if !ok {
			scale = 1
		}
		scale *= 1 - thresholdScaleStep*reward
		if scale < 1 {
			scale = 1
		}
		if scale > maxThresholdScale {
			scale = maxThresholdScale
		}
		m.scales[t.Metric] = scale
	}
}

// ThresholdScales returns a copy of the current per-metric threshold
// multipliers.
func (m *Monitor) ThresholdScales() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.scales))
	for k, v := range m.scales {
		out[k] = v
	}
	return out
}

// Baselines returns a copy of the current baseline view.
func (m *Monitor) Baselines() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.baselines))
	for k, v := range m.baselines {
		out[k] = v
	}
	return out
}

type observation struct {
	metric string
	value  float64
}

func observations(snap model.MetricsSnapshot) []observation {
	obs := []observation{
		{MetricErrorRate, snap.ErrorRate},
		{MetricLatencyP95, snap.LatencyP95},
	}
	if snap.AvgQuality != nil {
		obs = append(obs, observation{MetricAvgQuality, *snap.AvgQuality})
	}
	return obs
}

// relativeDeviation measures how much worse observed is than baseline, as a
// fraction of the baseline. Quality degrades downward; the other metrics
// degrade upward. Baselines are floored so a near-zero baseline does not
// make every blip an infinite deviation.
func relativeDeviation(metric string, observed, baseline float64) float64 {
	switch metric {
	case MetricAvgQuality:
		floor := baseline
		if floor < 0.05 {
			floor = 0.05
		}
		return (baseline - observed) / floor
	case MetricErrorRate:
		floor := baseline
		if floor < 0.01 {
			floor = 0.01
		}
		return (observed - baseline) / floor
	default:
		floor := baseline
		if floor < 1 {
			floor = 1
		}
		return (observed - baseline) / floor
	}
}

// percentile returns the p-quantile of sorted values using nearest-rank.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
