package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiko-ai/shiko/internal/config"
	"github.com/shiko-ai/shiko/internal/kaizen"
	"github.com/shiko-ai/shiko/internal/llm"
	"github.com/shiko-ai/shiko/internal/model"
	"github.com/shiko-ai/shiko/internal/overrides"
	"github.com/shiko-ai/shiko/internal/storage"
	"github.com/shiko-ai/shiko/internal/testutil"
)

// fakeStore covers the handler, kaizen, and overrides persistence surfaces.
type fakeStore struct {
	pingErr   error
	summaries []storage.InvocationSummary
	sumErr    error
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) SummarizeInvocations(context.Context, time.Time, time.Time) ([]storage.InvocationSummary, error) {
	return s.summaries, s.sumErr
}

func (s *fakeStore) ScanInvocations(context.Context, time.Time, time.Time) ([]model.Invocation, error) {
	return nil, nil
}

func (s *fakeStore) InsertDiagnosis(_ context.Context, d model.Diagnosis) (model.Diagnosis, error) {
	return d, nil
}

func (s *fakeStore) UpdateDiagnosisStatus(context.Context, uuid.UUID, model.DiagnosisStatus) error {
	return nil
}

func (s *fakeStore) InsertAction(_ context.Context, a model.SIAction) (model.SIAction, error) {
	return a, nil
}

func (s *fakeStore) UpdateActionOutcome(context.Context, uuid.UUID, model.ActionOutcome, *model.MetricsSnapshot, int64, *string) error {
	return nil
}

func (s *fakeStore) InsertLearning(_ context.Context, l model.Learning) (model.Learning, error) {
	return l, nil
}

func (s *fakeStore) RecentDiagnoses(context.Context, int) ([]model.Diagnosis, error) {
	return nil, nil
}

func (s *fakeStore) RecentActions(context.Context, int) ([]model.SIAction, error) {
	return nil, nil
}

func (s *fakeStore) RecentLearnings(context.Context, int) ([]model.Learning, error) {
	return nil, nil
}

func (s *fakeStore) UpsertConfigOverride(_ context.Context, o model.ConfigOverride) (model.ConfigOverride, error) {
	return o, nil
}

func (s *fakeStore) DeleteConfigOverride(context.Context, string) error { return nil }

func (s *fakeStore) ListConfigOverrides(context.Context) ([]model.ConfigOverride, error) {
	return nil, nil
}

type noopCompleter struct{}

func (noopCompleter) Complete(context.Context, llm.Request) (string, error) { return "{}", nil }
func (noopCompleter) Name() string                                          { return "noop" }

func newTestServer(t *testing.T, store *fakeStore) (*Server, *kaizen.Service) {
	t.Helper()
	logger := testutil.TestLogger()
	resolver := overrides.NewResolver(store, logger)
	svc := kaizen.NewService(config.KaizenConfig{
		Enabled:          true,
		MetricWindow:     15 * time.Minute,
		MinSamples:       20,
		BaselineAlpha:    0.2,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Hour,
		ActionLimit:      5,
		ActionWindow:     time.Hour,
		ApprovalTimeout:  time.Second,
	}, store, resolver, llm.NewGateway(noopCompleter{}), logger)

	srv := New(ServerConfig{
		Store:   store,
		Kaizen:  svc,
		Logger:  logger,
		Port:    0,
		Version: "test",
	})
	return srv, svc
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{})

	rec := doRequest(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealthDegradedWhenDatabaseDown(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{pingErr: errors.New("connection refused")})

	rec := doRequest(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

func TestKaizenStatus(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{})

	rec := doRequest(t, srv, http.MethodGet, "/v1/kaizen/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status kaizen.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Enabled)
	assert.Equal(t, kaizen.BreakerClosed, status.BreakerState)
	assert.Equal(t, 5, status.ActionsRemaining)
}

func TestKaizenCycleTrigger(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/kaizen/cycle", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.CycleResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, model.CycleNoTriggers, result.Status)
}

func TestApprovalValidation(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/kaizen/approvals/not-a-uuid", `{"approve":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/v1/kaizen/approvals/"+uuid.NewString(), `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/v1/kaizen/approvals/"+uuid.NewString(), `{"approve":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApprovalResolvesPendingAction(t *testing.T) {
	srv, svc := newTestServer(t, &fakeStore{})
	id := uuid.New()

	done := make(chan error, 1)
	go func() { done <- svc.Approvals.Await(context.Background(), id) }()
	require.Eventually(t, func() bool { return len(svc.Approvals.Pending()) == 1 }, time.Second, time.Millisecond)

	rec := doRequest(t, srv, http.MethodPost, "/v1/kaizen/approvals/"+id.String(), `{"approve":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, <-done)
}

func TestInvocationsSummary(t *testing.T) {
	store := &fakeStore{summaries: []storage.InvocationSummary{
		{ToolName: "shiko_reason", Calls: 42, Failures: 2, AvgLatency: 850},
	}}
	srv, _ := newTestServer(t, store)

	rec := doRequest(t, srv, http.MethodGet, "/v1/invocations/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shiko_reason")
	assert.Contains(t, rec.Body.String(), `"window":"1h0m0s"`)
}

func TestInvocationsSummaryWindowParam(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{})

	rec := doRequest(t, srv, http.MethodGet, "/v1/invocations/summary?window=30m", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"window":"30m0s"`)

	rec = doRequest(t, srv, http.MethodGet, "/v1/invocations/summary?window=banana", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := testutil.TestLogger()
	handler := recoveryMiddleware(logger, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestRequestIDPropagation(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "caller-supplied-id", rec.Header().Get("X-Request-ID"))
}
