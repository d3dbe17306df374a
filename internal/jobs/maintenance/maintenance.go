// Package maintenance holds the periodic housekeeping sweeps and the
// on-demand episode reindex.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/yungbote/podscribe-backend/internal/data/repos"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	"github.com/yungbote/podscribe-backend/internal/pipeline"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/podscribe-backend/internal/pkg/pointers"
	"github.com/yungbote/podscribe-backend/internal/platform/gcp"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

// AudioStore is the part of the local media tools the sweeps touch.
type AudioStore interface {
	StaleAudio(cutoff time.Time) ([]string, error)
	Remove(path string) error
}

// RemoteAudio is the staging bucket used by providers that read remote
// objects. Uploads are normally removed after each job; the sweep catches
// the ones a crashed worker left behind.
type RemoteAudio interface {
	ListOlderThan(ctx context.Context, prefix string, cutoff time.Time) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// EpisodeIndexer rebuilds an episode's chunks and vectors.
type EpisodeIndexer interface {
	DeleteEpisodeVectors(ctx context.Context, episodeID uuid.UUID) error
	IndexEpisode(ctx context.Context, dbc dbctx.Context, ep *types.Episode, ch *types.Channel, chunks []pipeline.TextChunk) (int, error)
}

type Config struct {
	AudioMaxAge     time.Duration
	CleanupInterval time.Duration
	StatsInterval   time.Duration
}

type Service struct {
	log     *logger.Logger
	repos   repos.Set
	audio   AudioStore
	remote  RemoteAudio
	chunker *pipeline.Chunker
	indexer EpisodeIndexer
	cfg     Config
	now     func() time.Time
}

// New builds the sweeps. remote may be nil when no staging bucket is set.
func New(baseLog *logger.Logger, rs repos.Set, audio AudioStore, remote RemoteAudio, chunker *pipeline.Chunker, indexer EpisodeIndexer, cfg Config) *Service {
	if cfg.AudioMaxAge <= 0 {
		cfg.AudioMaxAge = 24 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 5 * time.Minute
	}
	return &Service{
		log:     baseLog.With("service", "Maintenance"),
		repos:   rs,
		audio:   audio,
		remote:  remote,
		chunker: chunker,
		indexer: indexer,
		cfg:     cfg,
		now:     time.Now,
	}
}

// CleanupAudio deletes downloaded audio older than AudioMaxAge. Every file is
// attempted; failures are collected.
func (s *Service) CleanupAudio(ctx context.Context) (int, error) {
	stale, err := s.audio.StaleAudio(s.now().Add(-s.cfg.AudioMaxAge))
	if err != nil {
		return 0, fmt.Errorf("list stale audio: %w", err)
	}
	var errs *multierror.Error
	removed := 0
	for _, path := range stale {
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}
		if err := s.audio.Remove(path); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("Cleaned up old audio files", "count", removed)
	}
	return removed, errs.ErrorOrNil()
}

// CleanupRemoteAudio deletes staged objects older than AudioMaxAge.
func (s *Service) CleanupRemoteAudio(ctx context.Context) (int, error) {
	if s.remote == nil {
		return 0, nil
	}
	stale, err := s.remote.ListOlderThan(ctx, gcp.AudioPrefix, s.now().Add(-s.cfg.AudioMaxAge))
	if err != nil {
		return 0, fmt.Errorf("list staged audio: %w", err)
	}
	var errs *multierror.Error
	removed := 0
	for _, key := range stale {
		if err := s.remote.Delete(ctx, key); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("Cleaned up staged audio objects", "count", removed)
	}
	return removed, errs.ErrorOrNil()
}

// RecountChannels recomputes each channel's episode, transcribed and
// duration totals and returns how many rows changed.
func (s *Service) RecountChannels(ctx context.Context) (int, error) {
	dbc := dbctx.Context{Ctx: ctx}
	ids, err := s.repos.Channels.ListIDs(dbc)
	if err != nil {
		return 0, fmt.Errorf("list channels: %w", err)
	}
	var errs *multierror.Error
	changed := 0
	for _, id := range ids {
		ok, err := s.repos.Channels.RecountStats(dbc, id)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("channel %s: %w", id, err))
			continue
		}
		if ok {
			changed++
		}
	}
	if changed > 0 {
		s.log.Info("Updated channel statistics", "channels", changed)
	}
	return changed, errs.ErrorOrNil()
}

// ReindexEpisode re-chunks the stored utterances and replaces the episode's
// vectors. Returns the number of chunks written.
func (s *Service) ReindexEpisode(ctx context.Context, episodeID uuid.UUID) (int, error) {
	dbc := dbctx.Context{Ctx: ctx}
	ep, err := s.repos.Episodes.GetByID(dbc, episodeID)
	if err != nil {
		return 0, err
	}
	ch, err := s.repos.Channels.GetByID(dbc, ep.ChannelID)
	if err != nil {
		return 0, err
	}
	rows, err := s.repos.Utterances.ListByEpisode(dbc, episodeID)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("episode %s has no stored utterances", episodeID)
	}

	labeled := make([]pipeline.LabeledUtterance, 0, len(rows))
	for _, u := range rows {
		labeled = append(labeled, pipeline.LabeledUtterance{
			Speaker:    u.Speaker,
			SpeakerRaw: pointers.Deref(u.SpeakerRaw),
			Text:       u.Text,
			StartMs:    u.StartMs,
			EndMs:      u.EndMs,
			Confidence: u.Confidence,
		})
	}
	chunks := s.chunker.Chunk(labeled, &pipeline.EpisodeContext{
		EpisodeTitle: ep.Title,
		ChannelName:  ch.Name,
		PublishedAt:  ep.PublishedAt,
	})

	if err := s.indexer.DeleteEpisodeVectors(ctx, episodeID); err != nil {
		return 0, fmt.Errorf("delete vectors: %w", err)
	}
	n, err := s.indexer.IndexEpisode(ctx, dbc, ep, ch, chunks)
	if err != nil {
		return 0, err
	}
	s.log.Info("Reindexed episode", "episode_id", episodeID, "chunks", n)
	return n, nil
}

// Start runs the audio and channel sweeps on their intervals until ctx ends.
func (s *Service) Start(ctx context.Context) {
	go s.every(ctx, "cleanup-audio", s.cfg.CleanupInterval, func(ctx context.Context) error {
		_, err := s.CleanupAudio(ctx)
		_, rerr := s.CleanupRemoteAudio(ctx)
		return multierror.Append(err, rerr).ErrorOrNil()
	})
	go s.every(ctx, "channel-stats", s.cfg.StatsInterval, func(ctx context.Context) error {
		_, err := s.RecountChannels(ctx)
		return err
	})
}

func (s *Service) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.log.Error("Maintenance task panic", "task", name, "panic", r)
					}
				}()
				if err := fn(ctx); err != nil {
					s.log.Warn("Maintenance task failed", "task", name, "error", err)
				}
			}()
		}
	}
}
