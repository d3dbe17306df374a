package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/podscribe-backend/internal/data/repos"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/platform/qdrant"
	"github.com/yungbote/podscribe-backend/internal/resilience"
)

// Indexer embeds an episode's chunks, replaces its vectors and mirrors the
// chunk rows in Postgres.
type Indexer struct {
	embedder *Embedder
	vectors  qdrant.Store
	breaker  *resilience.Breaker
	retry    resilience.Policy
	chunks   repos.ChunkRepo
	log      *logger.Logger
}

// NewIndexer accepts a nil embedder or store; the chunk rows are still
// written but no vectors are produced.
func NewIndexer(embedder *Embedder, vectors qdrant.Store, breaker *resilience.Breaker, chunks repos.ChunkRepo, log *logger.Logger) *Indexer {
	policy := resilience.DefaultPolicy()
	policy.Retryable = qdrant.IsTransient
	return &Indexer{
		embedder: embedder,
		vectors:  vectors,
		breaker:  breaker,
		retry:    policy,
		chunks:   chunks,
		log:      log.With("service", "Indexer"),
	}
}

func (ix *Indexer) enabled() bool { return ix.embedder != nil && ix.vectors != nil }

// IndexEpisode returns the number of chunks stored.
func (ix *Indexer) IndexEpisode(ctx context.Context, dbc dbctx.Context, ep *types.Episode, ch *types.Channel, chunks []TextChunk) (int, error) {
	if ep == nil {
		return 0, fmt.Errorf("index: episode required")
	}

	rows := make([]*types.Chunk, 0, len(chunks))
	points := make([]qdrant.Point, 0, len(chunks))
	for _, c := range chunks {
		speakers, _ := json.Marshal(c.Speakers)
		pointID := uuid.New()
		row := &types.Chunk{
			ID:            uuid.New(),
			EpisodeID:     ep.ID,
			QdrantPointID: pointID,
			Text:          c.Text,
			Speakers:      datatypes.JSON(speakers),
			StartMs:       c.StartMs,
			EndMs:         c.EndMs,
			ChunkIndex:    c.Index,
			WordCount:     c.WordCount,
		}
		if c.PrimarySpeaker != "" {
			sp := c.PrimarySpeaker
			row.PrimarySpeaker = &sp
		}
		rows = append(rows, row)
		points = append(points, qdrant.Point{ID: pointID, Payload: chunkPayload(row, c, ep, ch)})
	}

	if ix.enabled() {
		if err := ix.writeVectors(ctx, ep.ID, chunks, points); err != nil {
			return 0, err
		}
	} else if len(chunks) > 0 {
		ix.log.Warn("Vector indexing disabled; storing chunks only", "episode_id", ep.ID)
	}

	if err := ix.chunks.ReplaceForEpisode(dbc, ep.ID, rows); err != nil {
		return 0, fmt.Errorf("persist chunks: %w", err)
	}
	return len(rows), nil
}

// DeleteEpisodeVectors removes every point tagged with the episode id.
func (ix *Indexer) DeleteEpisodeVectors(ctx context.Context, episodeID uuid.UUID) error {
	if ix.vectors == nil {
		return nil
	}
	return ix.qdrantCall(ctx, func(ctx context.Context) error {
		return ix.vectors.DeleteByEpisode(ctx, episodeID)
	})
}

func (ix *Indexer) writeVectors(ctx context.Context, episodeID uuid.UUID, chunks []TextChunk, points []qdrant.Point) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.TextForEmbedding
	}
	vecs, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	for i := range points {
		points[i].Vector = vecs[i]
	}
	// A re-run replaces whatever an earlier attempt indexed.
	if err := ix.DeleteEpisodeVectors(ctx, episodeID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if len(points) == 0 {
		return nil
	}
	if err := ix.qdrantCall(ctx, func(ctx context.Context) error {
		return ix.vectors.Upsert(ctx, points)
	}); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	return nil
}

func (ix *Indexer) qdrantCall(ctx context.Context, fn func(ctx context.Context) error) error {
	return resilience.Retry(ctx, ix.retry, func(ctx context.Context) error {
		if ix.breaker == nil {
			return fn(ctx)
		}
		return ix.breaker.Execute(ctx, fn)
	})
}

func chunkPayload(row *types.Chunk, c TextChunk, ep *types.Episode, ch *types.Channel) map[string]any {
	payload := map[string]any{
		"chunk_id":      row.ID.String(),
		"episode_id":    ep.ID.String(),
		"channel_id":    ep.ChannelID.String(),
		"speaker":       c.PrimarySpeaker,
		"speakers":      c.Speakers,
		"text":          c.Text,
		"episode_title": ep.Title,
		"start_ms":      c.StartMs,
		"end_ms":        c.EndMs,
		"chunk_index":   c.Index,
		"word_count":    c.WordCount,
	}
	if ch != nil {
		payload["channel_name"] = ch.Name
		payload["channel_slug"] = ch.Slug
	}
	if ep.PublishedAt != nil {
		payload["published_at"] = ep.PublishedAt.UTC().Format(time.RFC3339)
	}
	return payload
}
