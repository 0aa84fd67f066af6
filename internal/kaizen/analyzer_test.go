package kaizen

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiko-ai/shiko/internal/llm"
	"github.com/shiko-ai/shiko/internal/model"
	"github.com/shiko-ai/shiko/internal/testutil"
)

func testTriggers() []model.TriggerMetric {
	return []model.TriggerMetric{
		{Metric: MetricLatencyP95, Observed: 3000, Baseline: 1000, Deviation: 2.0},
	}
}

func TestAnalyzerRecordsPendingDiagnosis(t *testing.T) {
	store := newFakeStore()
	cause := "model switched to a slower backend"
	diagnoser := &fakeDiagnoser{payload: llm.DiagnosisPayload{
		Severity:       "high",
		Description:    "p95 latency tripled",
		SuspectedCause: &cause,
		SuggestedAction: &model.Action{
			Type:   model.ActionAdjustTimeout,
			Params: map[string]any{"timeout_ms": float64(60000)},
		},
	}}
	a := NewAnalyzer(store, diagnoser, time.Second, testutil.TestLogger())

	d, err := a.Analyze(context.Background(), testTriggers())
	require.NoError(t, err)

	assert.Equal(t, model.DiagnosisPending, d.Status)
	assert.Equal(t, model.SeverityHigh, d.Severity)
	assert.Equal(t, "p95 latency tripled", d.Description)
	require.NotNil(t, d.SuggestedAction)
	assert.Equal(t, model.ActionAdjustTimeout, d.SuggestedAction.Type)
	assert.Len(t, d.Triggers, 1)

	// Persisted, not just returned.
	stored, ok := store.diagnoses[d.ID]
	require.True(t, ok)
	assert.Equal(t, model.DiagnosisPending, stored.Status)
}

func TestAnalyzerUnknownSeverityDefaultsLow(t *testing.T) {
	store := newFakeStore()
	diagnoser := &fakeDiagnoser{payload: llm.DiagnosisPayload{
		Severity:    "catastrophic",
		Description: "something",
	}}
	a := NewAnalyzer(store, diagnoser, time.Second, testutil.TestLogger())

	d, err := a.Analyze(context.Background(), testTriggers())
	require.NoError(t, err)
	assert.Equal(t, model.SeverityLow, d.Severity)
}

func TestAnalyzerParseFailureBecomesDiscardedDiagnosis(t *testing.T) {
	store := newFakeStore()
	diagnoser := &fakeDiagnoser{err: &llm.ParseError{
		Raw: "I think the problem is latency but I cannot say more.",
		Err: errors.New("no JSON object found"),
	}}
	a := NewAnalyzer(store, diagnoser, time.Second, testutil.TestLogger())

	d, err := a.Analyze(context.Background(), testTriggers())
	require.NoError(t, err, "a parse failure is an audited outcome, not a cycle error")

	assert.Equal(t, model.DiagnosisDiscarded, d.Status)
	assert.Equal(t, model.SeverityLow, d.Severity)
	require.NotNil(t, d.SuspectedCause)
	assert.Contains(t, *d.SuspectedCause, "I think the problem is latency")
	assert.Nil(t, d.SuggestedAction)

	stored, ok := store.diagnoses[d.ID]
	require.True(t, ok)
	assert.Equal(t, model.DiagnosisDiscarded, stored.Status)
}

func TestAnalyzerTruncatesOversizedRawOutput(t *testing.T) {
	store := newFakeStore()
	diagnoser := &fakeDiagnoser{err: &llm.ParseError{
		Raw: strings.Repeat("x", maxRawOutput+500),
		Err: errors.New("unexpected end of JSON input"),
	}}
	a := NewAnalyzer(store, diagnoser, time.Second, testutil.TestLogger())

	d, err := a.Analyze(context.Background(), testTriggers())
	require.NoError(t, err)
	require.NotNil(t, d.SuspectedCause)
	assert.Len(t, *d.SuspectedCause, maxRawOutput)
}

func TestAnalyzerTransportErrorPropagates(t *testing.T) {
	store := newFakeStore()
	diagnoser := &fakeDiagnoser{err: errors.New("connection refused")}
	a := NewAnalyzer(store, diagnoser, time.Second, testutil.TestLogger())

	_, err := a.Analyze(context.Background(), testTriggers())
	require.Error(t, err)
	assert.Empty(t, store.diagnoses, "transport failures must not fabricate diagnoses")
}

// hungDiagnoser blocks until its context expires, like a provider that
// accepted the connection and never answers.
type hungDiagnoser struct{}

func (hungDiagnoser) Diagnose(ctx context.Context, _ []model.TriggerMetric, _ []string) (llm.DiagnosisPayload, error) {
	<-ctx.Done()
	return llm.DiagnosisPayload{}, ctx.Err()
}

func TestAnalyzerBoundsModelCallWithDeadline(t *testing.T) {
	store := newFakeStore()
	a := NewAnalyzer(store, hungDiagnoser{}, 30*time.Millisecond, testutil.TestLogger())

	start := time.Now()
	_, err := a.Analyze(context.Background(), testTriggers())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second, "a hung model call must not stall the cycle")
	assert.Empty(t, store.diagnoses)
}

func TestAnalyzerFeedsLessonsIntoPrompt(t *testing.T) {
	store := newFakeStore()
	_, err := store.InsertLearning(context.Background(), model.Learning{
		ActionID: uuid.New(),
		Lessons:  []string{"raising the budget past 4096 gave no quality gain"},
	})
	require.NoError(t, err)

	diagnoser := &fakeDiagnoser{payload: llm.DiagnosisPayload{Description: "quality dip"}}
	a := NewAnalyzer(store, diagnoser, time.Second, testutil.TestLogger())

	_, err = a.Analyze(context.Background(), testTriggers())
	require.NoError(t, err)
	assert.Equal(t, []string{"raising the budget past 4096 gave no quality gain"}, diagnoser.lastLessons)
	assert.Equal(t, testTriggers(), diagnoser.lastTriggers)
}
