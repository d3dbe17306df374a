package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/podscribe-backend/internal/clients/transcription"
	"github.com/yungbote/podscribe-backend/internal/data/repos"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	domainjobs "github.com/yungbote/podscribe-backend/internal/domain/jobs"
	"github.com/yungbote/podscribe-backend/internal/domain/media"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/podscribe-backend/internal/platform/gcp"
	"github.com/yungbote/podscribe-backend/internal/platform/localmedia"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/realtime"
)

const (
	progressDownloading  = 5
	progressUploading    = 12
	progressTranscribing = 20
	progressLabeling     = 50
	progressChunking     = 65
	progressEmbedding    = 80
	progressDone         = 100
)

const (
	stepDownloading  = "Downloading audio"
	stepUploading    = "Staging audio"
	stepTranscribing = "Transcribing"
	stepLabeling     = "Identifying speakers"
	stepChunking     = "Creating chunks"
	stepEmbedding    = "Generating embeddings"
	stepDone         = "Complete"
)

var tracer = otel.Tracer("github.com/yungbote/podscribe-backend/internal/pipeline")

// ProviderSource resolves a job's provider name.
type ProviderSource interface {
	Get(ctx context.Context, name string) (transcription.Provider, error)
}

// StageObserver records per-stage latency and outcome ("ok", "error").
type StageObserver interface {
	ObserveStage(provider, stage, status string, dur time.Duration)
}

type ExecutorDeps struct {
	DB        *gorm.DB
	Log       *logger.Logger
	Repos     repos.Set
	Media     localmedia.Tools
	Providers ProviderSource
	// Bucket stages audio for providers that only read remote objects; nil
	// makes those providers fail at the uploading stage.
	Bucket    gcp.AudioBucket
	Labeler   *SpeakerLabeler
	Chunker   *Chunker
	Indexer   *Indexer
	Backup    *BackupWriter
	Publisher *realtime.Publisher
	Wait      transcription.WaitOptions
	Observer  StageObserver
}

// Executor drives one job through download, transcription, speaker labeling,
// chunking and indexing.
type Executor struct {
	deps ExecutorDeps
	log  *logger.Logger
}

func NewExecutor(deps ExecutorDeps) (*Executor, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("executor: missing db")
	}
	if deps.Media == nil || deps.Providers == nil || deps.Indexer == nil {
		return nil, fmt.Errorf("executor: missing media, providers or indexer")
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Labeler == nil {
		deps.Labeler = NewSpeakerLabeler(nil, nil, deps.Log)
	}
	if deps.Chunker == nil {
		deps.Chunker = NewChunker(DefaultChunkerConfig())
	}
	if deps.Wait == (transcription.WaitOptions{}) {
		deps.Wait = transcription.DefaultWaitOptions()
	}
	return &Executor{deps: deps, log: deps.Log.With("service", "PipelineExecutor")}, nil
}

/*
Run executes one attempt of the job. The job must be pending.

Outcomes:
  - nil: the job is done and its episode finalized.
  - ErrInterrupted (wrapped): the job was paused, cancelled or released
    elsewhere; nothing was counted.
  - any other error: the job and episode were marked failed.

Audio is removed on every path. A rerun always starts at download.
*/
func (e *Executor) Run(ctx context.Context, jobID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := e.deps.Repos.Jobs.GetByID(dbc, jobID)
	if err != nil {
		return err
	}
	if job.Status != domainjobs.JobStatusPending {
		return fmt.Errorf("%w: job %s is %s", ErrInterrupted, job.ID, job.Status)
	}

	ctx, span := tracer.Start(ctx, "pipeline.run")
	span.SetAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.provider", job.Provider),
	)
	defer span.End()

	r := &run{
		ctx:   ctx,
		db:    e.deps.DB,
		repos: e.deps.Repos,
		pub:   e.deps.Publisher,
		log:   e.log.With("job_id", job.ID),
		job:   job,
	}

	st := &attempt{run: r}
	defer st.cleanup(e)

	err = e.execute(st)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInterrupted):
		r.log.Info("Job attempt interrupted", "reason", err.Error())
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return r.fail(err)
}

// attempt carries what the stages produce.
type attempt struct {
	*run
	channel   *types.Channel
	provider  transcription.Provider
	opts      RunOptions
	audioPath string
	remoteKey string
	result    *transcription.TranscriptResult
	labeled   []LabeledUtterance
	chunks    []TextChunk
	indexed   int
}

func (e *Executor) execute(a *attempt) error {
	if err := e.load(a); err != nil {
		return err
	}

	if err := a.advance(domainjobs.JobStatusDownloading, progressDownloading, stepDownloading, map[string]interface{}{
		"started_at": time.Now().UTC(),
	}); err != nil {
		return err
	}
	a.setEpisodeStatus(a.ctx, media.EpisodeStatusProcessing)
	if err := e.stage(a, "download", func(ctx context.Context) error {
		path, err := e.deps.Media.DownloadAudio(ctx, a.episode.YoutubeID)
		if err != nil {
			return fmt.Errorf("download audio: %w", err)
		}
		a.audioPath = path
		return nil
	}); err != nil {
		return err
	}

	source := transcription.AudioSource{LocalPath: a.audioPath}
	if a.provider.Capabilities().RequiresRemoteAudio {
		if err := a.advance(domainjobs.JobStatusUploading, progressUploading, stepUploading, nil); err != nil {
			return err
		}
		if err := e.stage(a, "upload", func(ctx context.Context) error {
			if e.deps.Bucket == nil {
				return fmt.Errorf("provider %s needs staged audio but no bucket is configured", a.provider.Name())
			}
			key := gcp.AudioKey(a.episode.YoutubeID, a.audioPath)
			uri, err := e.deps.Bucket.Upload(ctx, key, a.audioPath)
			if err != nil {
				return fmt.Errorf("stage audio: %w", err)
			}
			a.remoteKey = key
			source.RemoteURI = uri
			return nil
		}); err != nil {
			return err
		}
	}

	if err := a.advance(domainjobs.JobStatusTranscribing, progressTranscribing, stepTranscribing, nil); err != nil {
		return err
	}
	if err := e.stage(a, "transcribe", func(ctx context.Context) error {
		res, err := transcription.Transcribe(ctx, a.provider, source, a.opts.SpeakersExpected, a.opts.Language, e.deps.Wait)
		if err != nil {
			return err
		}
		a.result = res
		return nil
	}); err != nil {
		return err
	}
	if err := e.checkpointTranscript(a); err != nil {
		return err
	}

	if err := e.stage(a, "label", func(ctx context.Context) error {
		known := a.opts.Speakers
		if len(known) == 0 {
			known = a.channel.SpeakerNames()
		}
		mapping := e.deps.Labeler.Identify(ctx, a.result.Utterances, known, a.episode.Title)
		a.labeled = ApplyLabels(a.result.Utterances, mapping, a.channel.DefaultUnknownSpeakerLabel)
		return nil
	}); err != nil {
		return err
	}
	if err := e.checkpointUtterances(a); err != nil {
		return err
	}

	a.chunks = e.deps.Chunker.Chunk(a.labeled, &EpisodeContext{
		EpisodeTitle: a.episode.Title,
		ChannelName:  a.channel.Name,
		PublishedAt:  a.episode.PublishedAt,
	})
	if err := a.advance(domainjobs.JobStatusEmbedding, progressEmbedding, stepEmbedding, nil); err != nil {
		return err
	}
	if err := e.stage(a, "index", func(ctx context.Context) error {
		n, err := e.deps.Indexer.IndexEpisode(ctx, dbctx.Context{Ctx: ctx}, a.episode, a.channel, a.chunks)
		if err != nil {
			return err
		}
		a.indexed = n
		return nil
	}); err != nil {
		return err
	}

	a.cleanup(e)
	e.backup(a)
	return e.finalize(a)
}

func (e *Executor) load(a *attempt) error {
	dbc := a.dbc()
	ep, err := e.deps.Repos.Episodes.GetByID(dbc, a.job.EpisodeID)
	if err != nil {
		return fmt.Errorf("load episode: %w", err)
	}
	a.episode = ep
	ch, err := e.deps.Repos.Channels.GetByID(dbc, ep.ChannelID)
	if err != nil {
		return fmt.Errorf("load channel: %w", err)
	}
	a.channel = ch

	var raw datatypes.JSON
	if a.job.BatchID != nil {
		batch, err := e.deps.Repos.Batches.GetByID(dbc, *a.job.BatchID)
		if err != nil {
			return fmt.Errorf("load batch: %w", err)
		}
		raw = batch.Config
	}
	if a.opts, err = DecodeRunOptions(raw); err != nil {
		return err
	}

	p, err := e.deps.Providers.Get(a.ctx, a.job.Provider)
	if err != nil {
		return fmt.Errorf("provider %q: %w", a.job.Provider, err)
	}
	a.provider = p
	return nil
}

// stage wraps one unit of work in a span and reports it to the observer.
func (e *Executor) stage(a *attempt, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(a.ctx, "pipeline."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if e.deps.Observer != nil {
		e.deps.Observer.ObserveStage(a.job.Provider, name, status, time.Since(start))
	}
	return err
}

// checkpointTranscript commits the transcript with the move to labeling so a
// later failure cannot lose it.
func (e *Executor) checkpointTranscript(a *attempt) error {
	raw := rawTranscript(a.result)
	err := e.deps.DB.WithContext(a.ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: a.ctx, Tx: tx}
		if err := e.deps.Repos.Episodes.UpdateFields(dbc, a.episode.ID, map[string]interface{}{
			"transcript_raw": raw,
		}); err != nil {
			return err
		}
		extra := map[string]interface{}{}
		if a.result.ProviderJobID != "" {
			extra["provider_job_id"] = a.result.ProviderJobID
		}
		return a.transition(dbc, domainjobs.JobStatusLabeling, progressLabeling, stepLabeling, extra)
	})
	if err != nil {
		return err
	}
	a.announce(domainjobs.LogLevelInfo, stepLabeling, map[string]interface{}{
		"utterances":  len(a.result.Utterances),
		"duration_ms": a.result.DurationMs,
	})
	return nil
}

// checkpointUtterances replaces the episode's utterances and commits them
// with the move to chunking.
func (e *Executor) checkpointUtterances(a *attempt) error {
	rows := make([]*types.Utterance, 0, len(a.labeled))
	for _, u := range a.labeled {
		row := &types.Utterance{
			EpisodeID:  a.episode.ID,
			Speaker:    u.Speaker,
			Text:       u.Text,
			StartMs:    u.StartMs,
			EndMs:      u.EndMs,
			Confidence: u.Confidence,
			WordCount:  u.words(),
		}
		if u.SpeakerRaw != "" {
			raw := u.SpeakerRaw
			row.SpeakerRaw = &raw
		}
		rows = append(rows, row)
	}
	err := e.deps.DB.WithContext(a.ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: a.ctx, Tx: tx}
		if err := e.deps.Repos.Utterances.ReplaceForEpisode(dbc, a.episode.ID, rows); err != nil {
			return fmt.Errorf("persist utterances: %w", err)
		}
		return a.transition(dbc, domainjobs.JobStatusChunking, progressChunking, stepChunking, nil)
	})
	if err != nil {
		return err
	}
	a.announce(domainjobs.LogLevelInfo, stepChunking, map[string]interface{}{"utterances": len(rows)})
	return nil
}

func (e *Executor) backup(a *attempt) {
	if e.deps.Backup == nil {
		return
	}
	path, err := e.deps.Backup.Write(a.episode, a.provider.Name(), a.labeled, a.result.Raw)
	if err != nil {
		a.log.Warn("Transcript backup failed", "episode_id", a.episode.ID, "error", err)
		return
	}
	a.log.Debug("Transcript backup written", "path", path)
}

func (e *Executor) finalize(a *attempt) error {
	words := 0
	for _, u := range a.labeled {
		words += u.words()
	}
	now := time.Now().UTC()
	extra := map[string]interface{}{"completed_at": now}
	if a.result.CostCents != nil {
		extra["cost_cents"] = *a.result.CostCents
	}
	err := e.deps.DB.WithContext(a.ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: a.ctx, Tx: tx}
		if err := e.deps.Repos.Episodes.UpdateFields(dbc, a.episode.ID, map[string]interface{}{
			"status":         media.EpisodeStatusDone,
			"processed_at":   now,
			"word_count":     words,
			"transcript_raw": rawTranscript(a.result),
		}); err != nil {
			return err
		}
		if err := e.deps.Repos.Channels.IncrementTranscribed(dbc, a.channel.ID); err != nil {
			return err
		}
		return a.transition(dbc, domainjobs.JobStatusDone, progressDone, stepDone, extra)
	})
	if err != nil {
		return err
	}
	a.job.CompletedAt = &now
	a.job.CostCents = a.result.CostCents
	a.announce(domainjobs.LogLevelInfo, "Transcription complete", map[string]interface{}{
		"word_count": words,
		"chunks":     a.indexed,
		"cost_cents": a.result.CostCents,
	})
	a.log.Info("Job complete", "episode_id", a.episode.ID, "words", words, "chunks", a.indexed)
	return nil
}

// cleanup removes local and staged audio. Safe to call more than once.
func (a *attempt) cleanup(e *Executor) {
	if a.audioPath != "" {
		if err := e.deps.Media.Remove(a.audioPath); err != nil {
			a.log.Warn("Audio cleanup failed", "path", a.audioPath, "error", err)
		}
		a.audioPath = ""
	}
	if a.remoteKey != "" && e.deps.Bucket != nil {
		if err := e.deps.Bucket.Delete(context.WithoutCancel(a.ctx), a.remoteKey); err != nil {
			a.log.Warn("Staged audio cleanup failed", "key", a.remoteKey, "error", err)
		}
		a.remoteKey = ""
	}
}

// rawTranscript prefers the provider's own payload and falls back to the
// normalized utterances.
func rawTranscript(res *transcription.TranscriptResult) datatypes.JSON {
	if res == nil {
		return nil
	}
	if len(res.Raw) > 0 && json.Valid(res.Raw) {
		return datatypes.JSON(res.Raw)
	}
	b, err := json.Marshal(map[string]interface{}{
		"provider_job_id": res.ProviderJobID,
		"full_text":       strings.TrimSpace(res.FullText),
		"duration_ms":     res.DurationMs,
		"utterances":      res.Utterances,
	})
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
