package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/podscribe-backend/internal/domain"
	"github.com/yungbote/podscribe-backend/internal/domain/jobs"
	"github.com/yungbote/podscribe-backend/internal/domain/media"
)

func SeedChannel(tb testing.TB, ctx context.Context, tx *gorm.DB, slug string, speakers ...string) *types.Channel {
	tb.Helper()
	if speakers == nil {
		speakers = []string{}
	}
	raw, _ := json.Marshal(speakers)
	c := &types.Channel{
		ID:       uuid.New(),
		Slug:     slug,
		Name:     "Channel " + slug,
		Speakers: datatypes.JSON(raw),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed channel: %v", err)
	}
	return c
}

func SeedEpisode(tb testing.TB, ctx context.Context, tx *gorm.DB, channelID uuid.UUID, youtubeID string, durationSeconds int) *types.Episode {
	tb.Helper()
	e := &types.Episode{
		ID:              uuid.New(),
		ChannelID:       channelID,
		YoutubeID:       youtubeID,
		Title:           "Episode " + youtubeID,
		DurationSeconds: &durationSeconds,
		PublishedAt:     PtrTime(time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)),
		Status:          media.EpisodeStatusQueued,
	}
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		tb.Fatalf("seed episode: %v", err)
	}
	return e
}

func SeedBatch(tb testing.TB, ctx context.Context, tx *gorm.DB, channelID *uuid.UUID, provider string, concurrency, total int, status string) *types.Batch {
	tb.Helper()
	b := &types.Batch{
		ID:            uuid.New(),
		ChannelID:     channelID,
		Name:          "batch",
		Provider:      provider,
		Concurrency:   concurrency,
		Config:        datatypes.JSON([]byte(`{"speakers":[]}`)),
		TotalEpisodes: total,
		Status:        status,
	}
	if err := tx.WithContext(ctx).Create(b).Error; err != nil {
		tb.Fatalf("seed batch: %v", err)
	}
	return b
}

func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, batchID *uuid.UUID, episodeID uuid.UUID, provider, status string) *types.Job {
	tb.Helper()
	j := &types.Job{
		ID:        uuid.New(),
		BatchID:   batchID,
		EpisodeID: episodeID,
		Provider:  provider,
		Status:    status,
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}

// SeedBatchWithJobs creates a channel, n episodes and a batch with one job per
// episode, each job in the matching status from statuses (pending when short).
func SeedBatchWithJobs(tb testing.TB, ctx context.Context, tx *gorm.DB, provider string, concurrency int, batchStatus string, statuses ...string) (*types.Batch, []*types.Job) {
	tb.Helper()
	ch := SeedChannel(tb, ctx, tx, "chan-"+uuid.NewString()[:8], "Alice")
	n := len(statuses)
	b := SeedBatch(tb, ctx, tx, &ch.ID, provider, concurrency, n, batchStatus)
	out := make([]*types.Job, 0, n)
	for i := 0; i < n; i++ {
		ep := SeedEpisode(tb, ctx, tx, ch.ID, fmt.Sprintf("yt%s%02d", b.ID.String()[:6], i), 600)
		st := statuses[i]
		if st == "" {
			st = jobs.JobStatusPending
		}
		j := SeedJob(tb, ctx, tx, &b.ID, ep.ID, provider, st)
		// Distinct created_at keeps creation-order assertions stable.
		created := time.Now().UTC().Add(time.Duration(i) * time.Millisecond)
		if err := tx.WithContext(ctx).Model(j).Update("created_at", created).Error; err != nil {
			tb.Fatalf("stamp job created_at: %v", err)
		}
		j.CreatedAt = created
		out = append(out, j)
	}
	return b, out
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
