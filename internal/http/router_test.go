package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/podscribe-backend/internal/clients/transcription"
	"github.com/yungbote/podscribe-backend/internal/data/repos"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	domainjobs "github.com/yungbote/podscribe-backend/internal/domain/jobs"
	httpH "github.com/yungbote/podscribe-backend/internal/http/handlers"
	"github.com/yungbote/podscribe-backend/internal/observability"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/realtime"
	"github.com/yungbote/podscribe-backend/internal/resilience"
	"github.com/yungbote/podscribe-backend/internal/services"
)

type fakeBatches struct {
	created *services.CreateBatchRequest
	filter  repos.BatchFilter
	err     error
}

func (f *fakeBatches) Create(_ dbctx.Context, req services.CreateBatchRequest) (*services.BatchView, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = &req
	v := services.NewBatchView(&types.Batch{ID: uuid.New(), Provider: req.Provider, Status: domainjobs.BatchStatusPending})
	return &v, nil
}

func (f *fakeBatches) List(_ dbctx.Context, filter repos.BatchFilter) ([]services.BatchView, int64, error) {
	f.filter = filter
	return []services.BatchView{}, 0, nil
}

func (f *fakeBatches) Get(_ dbctx.Context, id uuid.UUID) (*services.BatchDetail, error) {
	return nil, apperr.ErrNotFound
}

type fakeOrch struct {
	services.BatchOrchestrator
	reconcile *services.ReconcileResult
	woken     []uuid.UUID
	deleted   []uuid.UUID
}

func (f *fakeOrch) Pause(_ dbctx.Context, id uuid.UUID) (*types.Batch, error) {
	return nil, apperr.Conflictf("Can only pause running batches")
}

func (f *fakeOrch) Start(_ dbctx.Context, id uuid.UUID) (*types.Batch, error) {
	return &types.Batch{ID: id, Status: domainjobs.BatchStatusRunning}, nil
}

func (f *fakeOrch) Retry(_ dbctx.Context, id uuid.UUID) (int, error) { return 2, nil }

func (f *fakeOrch) Reconcile(_ dbctx.Context, id uuid.UUID) (*services.ReconcileResult, error) {
	return f.reconcile, nil
}

func (f *fakeOrch) Wake(_ context.Context, id uuid.UUID) error {
	f.woken = append(f.woken, id)
	return nil
}

func (f *fakeOrch) Delete(_ dbctx.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeReporter struct{ err error }

func (f fakeReporter) WriteXLSX(_ dbctx.Context, _ uuid.UUID, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := w.Write([]byte("PK"))
	return err
}

type fakeJobs struct {
	services.JobControl
	limit int
}

func (f *fakeJobs) Logs(_ dbctx.Context, _ uuid.UUID, limit int) ([]*types.ActivityLog, error) {
	f.limit = limit
	return []*types.ActivityLog{}, nil
}

func (f *fakeJobs) Cancel(_ dbctx.Context, id uuid.UUID) (*types.Job, error) {
	return nil, apperr.Conflictf("Cannot cancel job with status: done")
}

type testServer struct {
	engine  *gin.Engine
	batches *fakeBatches
	orch    *fakeOrch
	jobs    *fakeJobs
	hub     *realtime.Hub
	reg     *resilience.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Nop()
	s := &testServer{
		batches: &fakeBatches{},
		orch:    &fakeOrch{},
		jobs:    &fakeJobs{},
		hub:     realtime.NewHub(log),
		reg:     resilience.NewRegistry(log, nil),
	}
	s.engine = NewRouter(RouterConfig{
		Log:             log,
		Metrics:         observability.New(),
		HealthHandler:   httpH.NewHealthHandler(nil),
		BatchHandler:    httpH.NewBatchHandler(s.batches, s.orch, fakeReporter{}),
		JobHandler:      httpH.NewJobHandler(s.jobs),
		ProviderHandler: httpH.NewProviderHandler(transcription.Config{}, s.reg),
		RealtimeHandler: httpH.NewRealtimeHandler(log, s.hub),
	})
	return s
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var env struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Message, env.Error.Code
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do("GET", "/healthcheck", nil).Code)

	rec := s.do("GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `ps_api_requests_total{method="GET",route="/healthcheck",status="200"} 1`)
}

func TestCreateBatch(t *testing.T) {
	s := newTestServer(t)
	chID := uuid.New()

	rec := s.do("POST", "/api/batches", map[string]any{
		"channel_id":  chID,
		"episode_ids": []uuid.UUID{uuid.New()},
		"provider":    "deepgram",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, chID, *s.batches.created.ChannelID)
	require.Equal(t, "deepgram", s.batches.created.Provider)

	rec = s.do("POST", "/api/batches", "not an object")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, code := errorBody(t, rec)
	require.Equal(t, "validation", code)

	s.batches.err = apperr.Invalid("concurrency", "must be between 1 and 50")
	rec = s.do("POST", "/api/batches", map[string]any{"provider": "deepgram"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	id := uuid.New()

	rec := s.do("GET", "/api/batches/"+id.String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do("POST", "/api/batches/"+id.String()+"/pause", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	msg, code := errorBody(t, rec)
	require.Equal(t, "Can only pause running batches", msg)
	require.Equal(t, "conflict", code)

	rec = s.do("POST", "/api/jobs/"+id.String()+"/cancel", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do("POST", "/api/batches/not-a-uuid/start", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchListFilters(t *testing.T) {
	s := newTestServer(t)
	chID := uuid.New()

	rec := s.do("GET", "/api/batches?status=running&page=2&page_size=5&channel_id="+chID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "running", s.batches.filter.Status)
	require.Equal(t, 2, s.batches.filter.Page)
	require.Equal(t, 5, s.batches.filter.PageSize)
	require.Equal(t, chID, *s.batches.filter.ChannelID)

	rec = s.do("GET", "/api/batches?page=x", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchStartRetryDelete(t *testing.T) {
	s := newTestServer(t)
	id := uuid.New()

	rec := s.do("POST", "/api/batches/"+id.String()+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"running"`)

	rec = s.do("POST", "/api/batches/"+id.String()+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"jobs_retried":2`)

	rec = s.do("DELETE", "/api/batches/"+id.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []uuid.UUID{id}, s.orch.deleted)
}

func TestReconcileWakesOnlyWhenWorkRemains(t *testing.T) {
	s := newTestServer(t)
	id := uuid.New()

	s.orch.reconcile = &services.ReconcileResult{Batch: &types.Batch{ID: id, Status: domainjobs.BatchStatusRunning}, Remaining: 3}
	rec := s.do("POST", "/api/batches/"+id.String()+"/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"remaining":3`)
	require.Len(t, s.orch.woken, 1)

	s.orch.reconcile = &services.ReconcileResult{Batch: &types.Batch{ID: id, Status: domainjobs.BatchStatusCompleted}}
	rec = s.do("POST", "/api/batches/"+id.String()+"/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, s.orch.woken, 1)
}

func TestReportDownload(t *testing.T) {
	s := newTestServer(t)
	id := uuid.New()

	rec := s.do("GET", "/api/batches/"+id.String()+"/report.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Disposition"), "batch-"+id.String()+".xlsx")
	require.Equal(t, "PK", rec.Body.String())
}

func TestJobLogsLimit(t *testing.T) {
	s := newTestServer(t)
	id := uuid.New().String()

	require.Equal(t, http.StatusOK, s.do("GET", "/api/jobs/"+id+"/logs", nil).Code)
	require.Equal(t, 100, s.jobs.limit)

	require.Equal(t, http.StatusOK, s.do("GET", "/api/jobs/"+id+"/logs?limit=500", nil).Code)
	require.Equal(t, 500, s.jobs.limit)

	for _, bad := range []string{"0", "501", "abc"} {
		rec := s.do("GET", "/api/jobs/"+id+"/logs?limit="+bad, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", bad)
	}
}

func TestProviderHealthReportsOpenBreaker(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/api/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"providers"`)

	b := s.reg.Register("deepgram", resilience.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1})
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("503") })

	rec = s.do("GET", "/api/providers/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Healthy  bool                         `json:"healthy"`
		Breakers []resilience.BreakerSnapshot `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Healthy)
	require.Len(t, body.Breakers, 1)
	require.Equal(t, resilience.StateOpen, body.Breakers[0].State)
}

func TestStreamSubscribesRequestedChannels(t *testing.T) {
	s := newTestServer(t)
	batchID := uuid.New()
	channel := realtime.BatchChannel(batchID)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/stream?channels="+channel, nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.engine.ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool { return s.hub.SubscriberCount(channel) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, s.hub.SubscriberCount(realtime.GlobalChannel))
	cancel()
	<-done
	require.Zero(t, s.hub.SubscriberCount(channel))
}
