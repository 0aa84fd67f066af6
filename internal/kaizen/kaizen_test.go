package kaizen

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shiko-ai/shiko/internal/config"
	"github.com/shiko-ai/shiko/internal/llm"
	"github.com/shiko-ai/shiko/internal/model"
)

// errDuplicate mirrors the storage layer's uniqueness violation.
var errDuplicate = errors.New("duplicate")

// fakeStore is an in-memory Store that also satisfies overrides.Store. It
// enforces the same uniqueness constraints as the real schema.
type fakeStore struct {
	mu          sync.Mutex
	invocations []model.Invocation
	diagnoses   map[uuid.UUID]model.Diagnosis
	actions     map[uuid.UUID]model.SIAction
	learnings   map[uuid.UUID]model.Learning
	overrides   map[string]model.ConfigOverride

	scanErr    error
	upsertErr  error
	upsertFail int // number of upserts to fail with upsertErr; -1 fails all
	insertErrs map[string]error // "diagnosis", "action", "learning"
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		diagnoses:  make(map[uuid.UUID]model.Diagnosis),
		actions:    make(map[uuid.UUID]model.SIAction),
		learnings:  make(map[uuid.UUID]model.Learning),
		overrides:  make(map[string]model.ConfigOverride),
		insertErrs: make(map[string]error),
	}
}

func (s *fakeStore) ScanInvocations(_ context.Context, from, to time.Time) ([]model.Invocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	var out []model.Invocation
	for _, inv := range s.invocations {
		if !inv.CreatedAt.Before(from) && inv.CreatedAt.Before(to) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertDiagnosis(_ context.Context, d model.Diagnosis) (model.Diagnosis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertErrs["diagnosis"]; err != nil {
		return model.Diagnosis{}, err
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = model.DiagnosisPending
	}
	s.diagnoses[d.ID] = d
	return d, nil
}

func (s *fakeStore) UpdateDiagnosisStatus(_ context.Context, id uuid.UUID, status model.DiagnosisStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.diagnoses[id]
	if !ok {
		return errors.New("diagnosis not found")
	}
	d.Status = status
	s.diagnoses[id] = d
	return nil
}

func (s *fakeStore) InsertAction(_ context.Context, a model.SIAction) (model.SIAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertErrs["action"]; err != nil {
		return model.SIAction{}, err
	}
	for _, existing := range s.actions {
		if existing.DiagnosisID == a.DiagnosisID {
			return model.SIAction{}, errDuplicate
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Outcome == "" {
		a.Outcome = model.OutcomePending
	}
	s.actions[a.ID] = a
	if d, ok := s.diagnoses[a.DiagnosisID]; ok {
		d.Status = model.DiagnosisActioned
		s.diagnoses[a.DiagnosisID] = d
	}
	return a, nil
}

func (s *fakeStore) UpdateActionOutcome(_ context.Context, id uuid.UUID, outcome model.ActionOutcome, post *model.MetricsSnapshot, execMS int64, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return errors.New("action not found")
	}
	a.Outcome = outcome
	if post != nil {
		a.PostMetrics = post
	}
	a.ExecutionTimeMS = execMS
	a.ErrorMessage = errMsg
	s.actions[id] = a
	return nil
}

func (s *fakeStore) InsertLearning(_ context.Context, l model.Learning) (model.Learning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertErrs["learning"]; err != nil {
		return model.Learning{}, err
	}
	for _, existing := range s.learnings {
		if existing.ActionID == l.ActionID {
			return model.Learning{}, errDuplicate
		}
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	s.learnings[l.ID] = l
	return l, nil
}

func (s *fakeStore) RecentDiagnoses(_ context.Context, _ int) ([]model.Diagnosis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Diagnosis, 0, len(s.diagnoses))
	for _, d := range s.diagnoses {
		out = append(out, d)
	}
	return out, nil
}

func (s *fakeStore) RecentActions(_ context.Context, _ int) ([]model.SIAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SIAction, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, a)
	}
	return out, nil
}

func (s *fakeStore) RecentLearnings(_ context.Context, _ int) ([]model.Learning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Learning, 0, len(s.learnings))
	for _, l := range s.learnings {
		out = append(out, l)
	}
	return out, nil
}

func (s *fakeStore) UpsertConfigOverride(_ context.Context, o model.ConfigOverride) (model.ConfigOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertFail != 0 {
		if s.upsertFail > 0 {
			s.upsertFail--
		}
		return model.ConfigOverride{}, s.upsertErr
	}
	s.overrides[o.Key] = o
	return o, nil
}

func (s *fakeStore) DeleteConfigOverride(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, key)
	return nil
}

func (s *fakeStore) ListConfigOverrides(_ context.Context) ([]model.ConfigOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ConfigOverride, 0, len(s.overrides))
	for _, o := range s.overrides {
		out = append(out, o)
	}
	return out, nil
}

func (s *fakeStore) actionByDiagnosis(id uuid.UUID) (model.SIAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a.DiagnosisID == id {
			return a, true
		}
	}
	return model.SIAction{}, false
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeDiagnoser scripts the analyzer's model responses and captures what it
// was asked.
type fakeDiagnoser struct {
	payload llm.DiagnosisPayload
	err     error

	lastTriggers []model.TriggerMetric
	lastLessons  []string
}

func (f *fakeDiagnoser) Diagnose(_ context.Context, triggers []model.TriggerMetric, lessons []string) (llm.DiagnosisPayload, error) {
	f.lastTriggers = triggers
	f.lastLessons = lessons
	return f.payload, f.err
}

// fakeExtractor scripts the learner's model responses.
type fakeExtractor struct {
	payload llm.LessonsPayload
	err     error
}

func (f *fakeExtractor) ExtractLessons(_ context.Context, _ model.SIAction, _ float64) (llm.LessonsPayload, error) {
	return f.payload, f.err
}

func testKaizenConfig() config.KaizenConfig {
	return config.KaizenConfig{
		Enabled:          true,
		CycleInterval:    5 * time.Minute,
		MetricWindow:     15 * time.Minute,
		MinSamples:       20,
		BaselineAlpha:    0.2,
		BreakerThreshold: 3,
		BreakerCooldown:  30 * time.Minute,
		ActionLimit:      5,
		ActionWindow:     time.Hour,
		HighRiskTypes:    []string{"disable_mode"},
		ApprovalTimeout:  50 * time.Millisecond,
		SettlingInterval: 0,
		TriggerThresholds: map[string]float64{
			MetricErrorRate:  0.5,
			MetricLatencyP95: 0.5,
			MetricAvgQuality: 0.3,
		},
		Bounds: map[string][2]float64{
			"adjust_thinking_budget.budget_tokens": {256, 8192},
			"adjust_retry_count.retries":           {0, 5},
			"adjust_rate_limit.rps":                {1, 100},
			"adjust_timeout.timeout_ms":            {1000, 120000},
		},
	}
}

func floatPtr(v float64) *float64 { return &v }

// seedInvocations populates the window ending at the clock's current time.
func seedInvocations(s *fakeStore, clock Clock, n int, errorRate float64, latencyMS int64, quality float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := clock.Now().Add(-time.Minute)
	failures := int(float64(n) * errorRate)
	for i := 0; i < n; i++ {
		q := quality
		s.invocations = append(s.invocations, model.Invocation{
			ID:           uuid.New(),
			ToolName:     "shiko_reason",
			Mode:         model.ModeLinear,
			LatencyMS:    latencyMS,
			Success:      i >= failures,
			QualityScore: &q,
			CreatedAt:    base,
		})
	}
}
