package jobs

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/podscribe-backend/internal/data/repos/testutil"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	domainjobs "github.com/yungbote/podscribe-backend/internal/domain/jobs"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/pkg/pointers"
)

func TestJobRepoRejectsDuplicatePair(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewJobRepo(db, testutil.Logger(t))

	b, jobs := testutil.SeedBatchWithJobs(t, ctx, db, "deepgram", 2, domainjobs.BatchStatusPending, "")
	dup := &types.Job{BatchID: &b.ID, EpisodeID: jobs[0].EpisodeID, Provider: "deepgram"}
	err := repo.CreateMany(dbctx.New(ctx), []*types.Job{dup})
	if !apperr.IsConflict(err) {
		t.Fatalf("expected ConflictError for duplicate job, got %v", err)
	}
}

func TestJobRepoCancelEarlyLeavesCheckpointedJobs(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewJobRepo(db, testutil.Logger(t))

	b, jobs := testutil.SeedBatchWithJobs(t, ctx, db, "deepgram", 2, domainjobs.BatchStatusRunning,
		domainjobs.JobStatusPending, domainjobs.JobStatusPending, domainjobs.JobStatusTranscribing)

	eps, err := repo.CancelEarly(dbctx.New(ctx), b.ID)
	if err != nil {
		t.Fatalf("CancelEarly: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("expected 2 cancelled episodes, got %d", len(eps))
	}
	for i, want := range []string{domainjobs.JobStatusCancelled, domainjobs.JobStatusCancelled, domainjobs.JobStatusTranscribing} {
		got, err := repo.GetByID(dbctx.New(ctx), jobs[i].ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Status != want {
			t.Fatalf("job %d: expected %s, got %s", i, want, got.Status)
		}
	}
}

func TestJobRepoRetryResetAndAutoRetryCeiling(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewJobRepo(db, testutil.Logger(t))

	_, jobs := testutil.SeedBatchWithJobs(t, ctx, db, "deepgram", 2, domainjobs.BatchStatusRunning, domainjobs.JobStatusFailed)
	id := jobs[0].ID
	if err := repo.UpdateFields(dbctx.New(ctx), id, map[string]interface{}{
		"error_message": "boom",
		"error_code":    "provider_error",
		"started_at":    pointers.Now(),
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	for attempt := 1; attempt <= domainjobs.MaxJobRetries; attempt++ {
		ok, err := repo.ClaimAutoRetry(dbctx.New(ctx), id, domainjobs.MaxJobRetries)
		if err != nil || !ok {
			t.Fatalf("auto retry %d should be claimed: ok=%v err=%v", attempt, ok, err)
		}
		if err := repo.UpdateFields(dbctx.New(ctx), id, map[string]interface{}{"status": domainjobs.JobStatusFailed}); err != nil {
			t.Fatalf("fail again: %v", err)
		}
	}
	ok, err := repo.ClaimAutoRetry(dbctx.New(ctx), id, domainjobs.MaxJobRetries)
	if err != nil {
		t.Fatalf("ClaimAutoRetry: %v", err)
	}
	if ok {
		t.Fatalf("a fourth automatic retry must be refused")
	}

	n, err := repo.ResetForRetry(dbctx.New(ctx), []uuid.UUID{id}, false)
	if err != nil || n != 1 {
		t.Fatalf("manual reset should still apply: n=%d err=%v", n, err)
	}
	got, _ := repo.GetByID(dbctx.New(ctx), id)
	if got.Status != domainjobs.JobStatusPending || got.ErrorMessage != nil || got.ErrorCode != nil || got.StartedAt != nil {
		t.Fatalf("manual reset did not clear fields: %+v", got)
	}
	if got.RetryCount != domainjobs.MaxJobRetries {
		t.Fatalf("retry_count must not decrease, got %d", got.RetryCount)
	}
}

func TestJobRepoStatusCountsAndCost(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewJobRepo(db, testutil.Logger(t))

	b, jobs := testutil.SeedBatchWithJobs(t, ctx, db, "deepgram", 2, domainjobs.BatchStatusRunning,
		domainjobs.JobStatusDone, domainjobs.JobStatusDone, domainjobs.JobStatusFailed, domainjobs.JobStatusPending)
	_ = repo.UpdateFields(dbctx.New(ctx), jobs[0].ID, map[string]interface{}{"cost_cents": 7})
	_ = repo.UpdateFields(dbctx.New(ctx), jobs[1].ID, map[string]interface{}{"cost_cents": 5})

	counts, err := repo.StatusCounts(dbctx.New(ctx), b.ID)
	if err != nil {
		t.Fatalf("StatusCounts: %v", err)
	}
	if counts[domainjobs.JobStatusDone] != 2 || counts[domainjobs.JobStatusFailed] != 1 || counts[domainjobs.JobStatusPending] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	cost, err := repo.SumCost(dbctx.New(ctx), b.ID)
	if err != nil || cost != 12 {
		t.Fatalf("SumCost: cost=%d err=%v", cost, err)
	}

	pending, err := repo.ListByBatch(dbctx.New(ctx), b.ID, domainjobs.JobStatusPending)
	if err != nil || len(pending) != 1 || pending[0].ID != jobs[3].ID {
		t.Fatalf("ListByBatch pending: %v %d", err, len(pending))
	}
}

func TestJobRepoListByBatchBreaksCreatedAtTies(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewJobRepo(db, testutil.Logger(t))

	b, jobs := testutil.SeedBatchWithJobs(t, ctx, db, "deepgram", 2, domainjobs.BatchStatusRunning, "", "", "", "")
	same := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	if err := db.Model(&types.Job{}).Where("batch_id = ?", b.ID).UpdateColumn("created_at", same).Error; err != nil {
		t.Fatalf("stamp created_at: %v", err)
	}

	want := make([]string, 0, len(jobs))
	for _, j := range jobs {
		want = append(want, j.ID.String())
	}
	sort.Strings(want)
	for i := 0; i < 3; i++ {
		got, err := repo.ListByBatch(dbctx.New(ctx), b.ID)
		if err != nil {
			t.Fatalf("ListByBatch: %v", err)
		}
		ids := make([]string, 0, len(got))
		for _, j := range got {
			ids = append(ids, j.ID.String())
		}
		if strings.Join(ids, ",") != strings.Join(want, ",") {
			t.Fatalf("jobs sharing created_at should come back by id: got %v want %v", ids, want)
		}
	}
}

func TestJobRepoReclaimStaleOnlyTouchesIdleActiveJobs(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewJobRepo(db, testutil.Logger(t))

	b, jobs := testutil.SeedBatchWithJobs(t, ctx, db, "deepgram", 2, domainjobs.BatchStatusRunning,
		domainjobs.JobStatusTranscribing, domainjobs.JobStatusEmbedding, domainjobs.JobStatusPending)
	now := time.Now().UTC()
	for i, at := range []time.Time{now.Add(-3 * time.Hour), now, now.Add(-3 * time.Hour)} {
		if err := db.Model(&types.Job{}).Where("id = ?", jobs[i].ID).UpdateColumn("updated_at", at).Error; err != nil {
			t.Fatalf("stamp updated_at: %v", err)
		}
	}
	cutoff := now.Add(-time.Hour)

	stale, err := repo.ListStale(dbctx.New(ctx), b.ID, cutoff)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != jobs[0].ID {
		t.Fatalf("only the idle transcribing job is stale, got %d", len(stale))
	}

	reset := map[string]interface{}{"status": domainjobs.JobStatusPending}
	ok, err := repo.ReclaimStale(dbctx.New(ctx), jobs[0].ID, cutoff, reset)
	if err != nil || !ok {
		t.Fatalf("stale job should be reclaimed: ok=%v err=%v", ok, err)
	}
	ok, err = repo.ReclaimStale(dbctx.New(ctx), jobs[0].ID, cutoff, map[string]interface{}{"status": domainjobs.JobStatusPending})
	if err != nil || ok {
		t.Fatalf("a reclaimed job is no longer stale: ok=%v err=%v", ok, err)
	}
	ok, err = repo.ReclaimStale(dbctx.New(ctx), jobs[1].ID, cutoff, map[string]interface{}{"status": domainjobs.JobStatusPending})
	if err != nil || ok {
		t.Fatalf("a job with recent progress must be left alone: ok=%v err=%v", ok, err)
	}
}

func TestClampLogLimit(t *testing.T) {
	cases := map[int]int{0: 100, -5: 100, 1: 1, 500: 500, 501: 500}
	for in, want := range cases {
		if got := ClampLogLimit(in); got != want {
			t.Fatalf("ClampLogLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
