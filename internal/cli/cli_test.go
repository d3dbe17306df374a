package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/podscribe-backend/internal/domain"
	"github.com/yungbote/podscribe-backend/internal/domain/jobs"
	"github.com/yungbote/podscribe-backend/internal/services"
)

func TestAPIClientListJobs(t *testing.T) {
	batchID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/jobs", r.URL.Path)
		require.Equal(t, batchID.String(), r.URL.Query().Get("batch_id"))
		require.Equal(t, "failed", r.URL.Query().Get("status"))
		require.Equal(t, "5", r.URL.Query().Get("page_size"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jobs":  []types.Job{{ID: uuid.New(), Provider: "deepgram", Status: jobs.JobStatusFailed}},
			"total": 7,
			"page":  1,
		})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL+"/", srv.Client())
	got, total, err := c.ListJobs(context.Background(), JobQuery{BatchID: &batchID, Status: "failed", Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.EqualValues(t, 7, total)
	require.Equal(t, "deepgram", got[0].Provider)
}

func TestAPIClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/pause"))
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"message":"batch is not running","code":"conflict"}}`))
	}))
	defer srv.Close()

	_, err := NewAPIClient(srv.URL, srv.Client()).BatchAction(context.Background(), uuid.New(), "pause")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.Status)
	require.Equal(t, "conflict", apiErr.Code)
	require.Equal(t, "batch is not running", apiErr.Message)
}

func TestAPIClientGetBatch(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"batch":{"id":"` + id.String() + `","name":"nightly","status":"running",` +
			`"total_episodes":4,"completed_episodes":1,"progress_percent":25,"jobs":[{"status":"transcribing","episode_title":"ep"}]}}`))
	}))
	defer srv.Close()

	got, err := NewAPIClient(srv.URL, srv.Client()).GetBatch(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id, got.ID)
	require.Equal(t, "nightly", got.Name)
	require.Equal(t, 25.0, got.ProgressPercent)
	require.Len(t, got.Jobs, 1)
}

func TestParseIDArg(t *testing.T) {
	_, err := parseIDArg(nil, "batch")
	require.Error(t, err)
	_, err = parseIDArg([]string{"nope"}, "batch")
	require.Error(t, err)
	id := uuid.New()
	got, err := parseIDArg([]string{id.String()}, "batch")
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestRunRejectsUnknownCommands(t *testing.T) {
	require.Error(t, Run([]string{"frobnicate"}))
	require.Error(t, Run([]string{"batch", "explode", uuid.NewString()}))
	require.Error(t, Run([]string{"batch", "start"}), "id is required")
	require.Error(t, Run([]string{"maintenance", "reindex", "not-a-uuid"}))
}

func TestWriteJobTable(t *testing.T) {
	step := "transcribe"
	var buf bytes.Buffer
	writeJobTable(&buf, []types.Job{{ID: uuid.New(), Provider: "whisper", Status: "transcribing", Progress: 40, CurrentStep: &step}}, 3)
	out := buf.String()
	require.Contains(t, out, "STATUS")
	require.Contains(t, out, "40%")
	require.Contains(t, out, "transcribe")
	require.Contains(t, out, "showing 1 of 3")
}

func detail(status string, completed, total int) *services.BatchDetail {
	b := &types.Batch{ID: uuid.New(), Name: "weekly", Provider: "deepgram", Status: status, TotalEpisodes: total, CompletedEpisodes: completed}
	return &services.BatchDetail{
		BatchView: services.BatchView{Batch: b, ProgressPercent: b.ProgressPercent()},
		Jobs: []services.JobSummary{
			{Status: jobs.JobStatusTranscribing, Progress: 55, EpisodeTitle: "Interview"},
			{Status: jobs.JobStatusDone, Progress: 100, EpisodeTitle: "Finished one"},
		},
	}
}

func TestWatchModelKeepsPollingWhileRunning(t *testing.T) {
	m := newWatchModel(nil, 0)
	next, cmd := m.Update(batchMsg{detail: detail(jobs.BatchStatusRunning, 1, 4)})
	wm := next.(watchModel)
	require.False(t, wm.done)
	require.NotNil(t, cmd)

	view := wm.View()
	require.Contains(t, view, "weekly")
	require.Contains(t, view, "completed 1  failed 0  pending 3  of 4")
	require.Contains(t, view, "Interview")
	require.NotContains(t, view, "Finished one")
}

func TestWatchModelQuitsOnTerminalBatch(t *testing.T) {
	m := newWatchModel(nil, 0)
	next, cmd := m.Update(batchMsg{detail: detail(jobs.BatchStatusCompleted, 4, 4)})
	wm := next.(watchModel)
	require.True(t, wm.done)
	require.NotNil(t, cmd)
	_, isQuit := cmd().(tea.QuitMsg)
	require.True(t, isQuit)
	require.Contains(t, wm.View(), "finished: completed")
}

func TestWatchModelFetchAndErrors(t *testing.T) {
	calls := 0
	want := detail(jobs.BatchStatusRunning, 0, 2)
	m := newWatchModel(func(context.Context) (*services.BatchDetail, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection refused")
		}
		return want, nil
	}, 0)

	msg := m.fetchCmd()()
	errMsg, ok := msg.(watchErrMsg)
	require.True(t, ok)
	next, cmd := m.Update(errMsg)
	require.NotNil(t, cmd, "errors schedule another poll")
	require.Contains(t, next.View(), "connection refused")

	msg = m.fetchCmd()()
	got, ok := msg.(batchMsg)
	require.True(t, ok)
	require.Same(t, want, got.detail)

	_, cmd = next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	_, isQuit := cmd().(tea.QuitMsg)
	require.True(t, isQuit)
}
