package services

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/podscribe-backend/internal/clients/transcription"
	"github.com/yungbote/podscribe-backend/internal/data/repos"
	"github.com/yungbote/podscribe-backend/internal/data/repos/testutil"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	domainjobs "github.com/yungbote/podscribe-backend/internal/domain/jobs"
	"github.com/yungbote/podscribe-backend/internal/domain/media"
	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
)

func newBatchService(h *harness) BatchService {
	p := stubProvider{name: "x", caps: transcription.Capabilities{Name: "x", CostPerHourCents: 36}}
	return NewBatchService(h.db, testutil.Logger(h.t), h.repos, h.pub, stubLookup{p: p})
}

func countRows(t *testing.T, h *harness, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := h.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestCreateBatchFromExistingChannel(t *testing.T) {
	h := newHarness(t)
	ch := testutil.SeedChannel(t, h.ctx, h.db, "existing", "Alice")
	e1 := testutil.SeedEpisode(t, h.ctx, h.db, ch.ID, "ex-1", 1800)
	e2 := testutil.SeedEpisode(t, h.ctx, h.db, ch.ID, "ex-2", 1800)
	svc := newBatchService(h)

	v, err := svc.Create(h.dbc(), CreateBatchRequest{
		ChannelID:  &ch.ID,
		EpisodeIDs: []uuid.UUID{e1.ID, e2.ID},
		Provider:   "x",
		Speakers:   []string{"Alice", "Bob"},
		Config:     map[string]interface{}{"language": "en"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.Status != domainjobs.BatchStatusPending || v.TotalEpisodes != 2 {
		t.Fatalf("unexpected batch: %+v", v.Batch)
	}
	if v.Concurrency != domainjobs.DefaultBatchConcurrency {
		t.Fatalf("expected default concurrency, got %d", v.Concurrency)
	}
	if v.EstimatedCostCents != 36 {
		t.Fatalf("one hour at 36c/h should estimate 36, got %d", v.EstimatedCostCents)
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal(v.Config, &cfg); err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg["language"] != "en" || len(cfg["speakers"].([]interface{})) != 2 {
		t.Fatalf("unexpected config: %v", cfg)
	}

	jobs, err := h.repos.Jobs.ListByBatch(h.dbc(), v.ID)
	if err != nil {
		t.Fatalf("ListByBatch: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected one job per episode, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.Status != domainjobs.JobStatusPending || j.Provider != "x" {
			t.Fatalf("unexpected job: %+v", j)
		}
		if st := h.episode(j.EpisodeID).Status; st != media.EpisodeStatusQueued {
			t.Fatalf("episode should be queued, got %s", st)
		}
	}
	if h.sink.count("batch_update", "batch:"+v.ID.String()) != 1 {
		t.Fatalf("expected one batch_update for the new batch")
	}
}

func TestCreateBatchImportsChannelAndEpisodes(t *testing.T) {
	h := newHarness(t)
	testutil.SeedChannel(t, h.ctx, h.db, "my-show")
	svc := newBatchService(h)
	dur := 900

	first, err := svc.Create(h.dbc(), CreateBatchRequest{
		ChannelData: &ChannelInput{Name: "My Show!", YoutubeChannelID: "UC-my-show"},
		EpisodesData: []EpisodeInput{
			{YoutubeID: "v1", Title: "First", DurationSeconds: &dur},
			{YoutubeID: "v2", Title: "Second", DurationSeconds: &dur},
			{YoutubeID: "v1", Title: "First again"},
		},
		Provider:    "x",
		Concurrency: 3,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.TotalEpisodes != 2 {
		t.Fatalf("duplicate youtube ids should collapse, got %d", first.TotalEpisodes)
	}
	ch, err := h.repos.Channels.GetByYoutubeChannelID(h.dbc(), "UC-my-show")
	if err != nil || ch == nil {
		t.Fatalf("channel not created: %v", err)
	}
	if ch.Slug != "my-show-1" {
		t.Fatalf("expected deduped slug my-show-1, got %s", ch.Slug)
	}
	if ch.EpisodeCount != 2 || ch.TotalDurationSeconds != 1800 {
		t.Fatalf("channel stats not updated: count=%d secs=%d", ch.EpisodeCount, ch.TotalDurationSeconds)
	}

	second, err := svc.Create(h.dbc(), CreateBatchRequest{
		ChannelData: &ChannelInput{Name: "My Show!", YoutubeChannelID: "UC-my-show"},
		EpisodesData: []EpisodeInput{
			{YoutubeID: "v2", Title: "Second"},
			{YoutubeID: "v3", Title: "Third", DurationSeconds: &dur},
		},
		Provider: "x",
	})
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if second.ChannelID == nil || *second.ChannelID != ch.ID {
		t.Fatalf("second batch should reuse the channel")
	}
	if n := countRows(t, h, &types.Channel{}); n != 2 {
		t.Fatalf("expected 2 channels, got %d", n)
	}
	if n := countRows(t, h, &types.Episode{}); n != 3 {
		t.Fatalf("existing episodes should be reused, got %d rows", n)
	}
	// v2 keeps its stored duration; v3 adds another 900s.
	if second.EstimatedCostCents != 18 {
		t.Fatalf("expected estimate 18, got %d", second.EstimatedCostCents)
	}
}

func TestCreateBatchValidation(t *testing.T) {
	h := newHarness(t)
	ch := testutil.SeedChannel(t, h.ctx, h.db, "val")
	svc := newBatchService(h)

	cases := []struct {
		name string
		req  CreateBatchRequest
	}{
		{"missing provider", CreateBatchRequest{ChannelID: &ch.ID, EpisodeIDs: []uuid.UUID{uuid.New()}}},
		{"concurrency too high", CreateBatchRequest{ChannelID: &ch.ID, EpisodeIDs: []uuid.UUID{uuid.New()}, Provider: "x", Concurrency: 101}},
		{"concurrency negative", CreateBatchRequest{ChannelID: &ch.ID, EpisodeIDs: []uuid.UUID{uuid.New()}, Provider: "x", Concurrency: -1}},
		{"no mode", CreateBatchRequest{Provider: "x"}},
		{"unknown provider", CreateBatchRequest{ChannelID: &ch.ID, EpisodeIDs: []uuid.UUID{uuid.New()}, Provider: "nope"}},
		{"unknown episode", CreateBatchRequest{ChannelID: &ch.ID, EpisodeIDs: []uuid.UUID{uuid.New()}, Provider: "x"}},
		{"blank youtube id", CreateBatchRequest{
			ChannelData:  &ChannelInput{Name: "Show", YoutubeChannelID: "UC-x"},
			EpisodesData: []EpisodeInput{{Title: "no id"}},
			Provider:     "x",
		}},
		{"empty import", CreateBatchRequest{
			ChannelData: &ChannelInput{Name: "Show", YoutubeChannelID: "UC-x"},
			Provider:    "x",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(h.dbc(), tc.req)
			if !apperr.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if n := countRows(t, h, &types.Batch{}); n != 0 {
		t.Fatalf("rejected requests must not persist batches, got %d", n)
	}
	if n := countRows(t, h, &types.Channel{}); n != 1 {
		t.Fatalf("rejected imports must not persist channels, got %d", n)
	}
}

func TestCreateBatchUnknownChannel(t *testing.T) {
	h := newHarness(t)
	missing := uuid.New()
	_, err := newBatchService(h).Create(h.dbc(), CreateBatchRequest{
		ChannelID:  &missing,
		EpisodeIDs: []uuid.UUID{uuid.New()},
		Provider:   "x",
	})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBatchDetailListsJobsInCreationOrder(t *testing.T) {
	h := newHarness(t)
	b, jobs := testutil.SeedBatchWithJobs(t, h.ctx, h.db, "x", 2, domainjobs.BatchStatusRunning,
		domainjobs.JobStatusDone, domainjobs.JobStatusFailed, "", "")
	// An episode that disappeared still shows up with a placeholder title.
	if err := h.db.Where("id = ?", jobs[3].EpisodeID).Delete(&types.Episode{}).Error; err != nil {
		t.Fatalf("delete episode: %v", err)
	}
	h.setBatch(b.ID, map[string]interface{}{"completed_episodes": 1, "failed_episodes": 1})

	d, err := newBatchService(h).Get(h.dbc(), b.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(d.Jobs) != 4 {
		t.Fatalf("expected 4 jobs, got %d", len(d.Jobs))
	}
	for i, j := range jobs {
		if d.Jobs[i].ID != j.ID {
			t.Fatalf("job %d out of order", i)
		}
	}
	if d.Jobs[3].EpisodeTitle != "Unknown" {
		t.Fatalf("missing episode should read Unknown, got %q", d.Jobs[3].EpisodeTitle)
	}
	if d.ChannelName == nil {
		t.Fatalf("expected channel name")
	}
	if d.ProgressPercent != 50 {
		t.Fatalf("expected 50%% progress, got %v", d.ProgressPercent)
	}
}

func TestListBatchesFiltersByStatus(t *testing.T) {
	h := newHarness(t)
	testutil.SeedBatchWithJobs(t, h.ctx, h.db, "x", 2, domainjobs.BatchStatusRunning, "")
	testutil.SeedBatchWithJobs(t, h.ctx, h.db, "x", 2, domainjobs.BatchStatusCompleted, domainjobs.JobStatusDone)
	testutil.SeedBatchWithJobs(t, h.ctx, h.db, "x", 2, domainjobs.BatchStatusRunning, "")

	out, total, err := newBatchService(h).List(h.dbc(), repos.BatchFilter{Status: domainjobs.BatchStatusRunning})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(out) != 2 {
		t.Fatalf("expected 2 running batches, got total=%d len=%d", total, len(out))
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My Show!":            "my-show",
		"  Lex Fridman   ":    "lex-fridman",
		"The -- Daily":        "the-daily",
		"Café Talk":           "caf-talk",
		"!!!":                 "channel",
		"Episode 42: Answers": "episode-42-answers",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
