package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/podscribe-backend/internal/data/repos"
	"github.com/yungbote/podscribe-backend/internal/data/repos/testutil"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

func sampleChunks() []TextChunk {
	return []TextChunk{
		{Text: "first", TextForEmbedding: "Speaker: Alice\n---\nfirst", PrimarySpeaker: "Alice", Speakers: []string{"Alice"}, StartMs: 0, EndMs: 1000, Index: 0, WordCount: 1},
		{Text: "second", TextForEmbedding: "Speaker: Bob\n---\nsecond", PrimarySpeaker: "Bob", Speakers: []string{"Bob"}, StartMs: 1000, EndMs: 2000, Index: 1, WordCount: 1},
	}
}

func TestIndexEpisodeReplacesVectorsAndRows(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	set := repos.NewSet(db, logger.Nop())
	ch := testutil.SeedChannel(t, ctx, db, "idx", "Alice")
	ep := testutil.SeedEpisode(t, ctx, db, ch.ID, "yt-index", 60)

	store := newFakeStore()
	ix := NewIndexer(NewEmbedder(&fakeAI{}, nil, logger.Nop(), EmbedderOptions{}), store, nil, set.Chunks, logger.Nop())

	for i := 0; i < 2; i++ {
		n, err := ix.IndexEpisode(ctx, testDBC(), ep, ch, sampleChunks())
		if err != nil {
			t.Fatalf("IndexEpisode: %v", err)
		}
		if n != 2 {
			t.Fatalf("indexed %d, want 2", n)
		}
	}
	if got, _ := store.CountByEpisode(ctx, ep.ID); got != 2 {
		t.Fatalf("points = %d, want 2 after re-index", got)
	}
	if store.deletes != 2 {
		t.Fatalf("deletes = %d, want one per run", store.deletes)
	}

	rows, err := set.Chunks.ListByEpisode(testDBC(), ep.ID)
	if err != nil {
		t.Fatalf("ListByEpisode: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	points := store.points[ep.ID]
	if points[0].ID != rows[0].QdrantPointID {
		t.Fatalf("row and point ids diverge")
	}
	p := points[0].Payload
	if p["speaker"] != "Alice" || p["channel_slug"] != "idx" || p["published_at"] != "2024-03-04T00:00:00Z" {
		t.Fatalf("unexpected payload: %v", p)
	}
	if len(points[0].Vector) != 3 {
		t.Fatalf("missing vector")
	}
}

func TestIndexEpisodeRetriesTransientStoreErrors(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	set := repos.NewSet(db, logger.Nop())
	ch := testutil.SeedChannel(t, ctx, db, "retry", "Alice")
	ep := testutil.SeedEpisode(t, ctx, db, ch.ID, "yt-retry", 60)

	store := newFakeStore()
	store.failures = 1
	ix := NewIndexer(NewEmbedder(&fakeAI{}, nil, logger.Nop(), EmbedderOptions{}), store, nil, set.Chunks, logger.Nop())
	ix.retry.Initial = time.Millisecond
	ix.retry.Max = 2 * time.Millisecond

	if _, err := ix.IndexEpisode(ctx, testDBC(), ep, ch, sampleChunks()); err != nil {
		t.Fatalf("IndexEpisode: %v", err)
	}
	if got, _ := store.CountByEpisode(ctx, ep.ID); got != 2 {
		t.Fatalf("points = %d, want 2", got)
	}
}

func TestIndexEpisodeWithoutVectorStoreKeepsRows(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	set := repos.NewSet(db, logger.Nop())
	ch := testutil.SeedChannel(t, ctx, db, "rows", "Alice")
	ep := testutil.SeedEpisode(t, ctx, db, ch.ID, "yt-rows", 60)

	ix := NewIndexer(nil, nil, nil, set.Chunks, logger.Nop())
	n, err := ix.IndexEpisode(ctx, testDBC(), ep, ch, sampleChunks())
	if err != nil || n != 2 {
		t.Fatalf("IndexEpisode = %d, %v", n, err)
	}
	if err := ix.DeleteEpisodeVectors(ctx, ep.ID); err != nil {
		t.Fatalf("DeleteEpisodeVectors without store: %v", err)
	}
}
