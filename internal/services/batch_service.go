package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/podscribe-backend/internal/clients/transcription"
	"github.com/yungbote/podscribe-backend/internal/data/repos"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	domainjobs "github.com/yungbote/podscribe-backend/internal/domain/jobs"
	"github.com/yungbote/podscribe-backend/internal/domain/media"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/realtime"
)

// ProviderLookup resolves a configured transcription provider by name.
type ProviderLookup interface {
	Get(ctx context.Context, name string) (transcription.Provider, error)
}

type ChannelInput struct {
	Name             string  `json:"name"`
	YoutubeChannelID string  `json:"youtube_channel_id"`
	YoutubeURL       *string `json:"youtube_url,omitempty"`
	Description      *string `json:"description,omitempty"`
}

type EpisodeInput struct {
	YoutubeID       string     `json:"youtube_id"`
	Title           string     `json:"title"`
	Description     *string    `json:"description,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
}

// CreateBatchRequest names either an existing channel and its episodes, or a
// channel and episodes fetched elsewhere that are created when missing.
type CreateBatchRequest struct {
	ChannelID    *uuid.UUID             `json:"channel_id,omitempty"`
	EpisodeIDs   []uuid.UUID            `json:"episode_ids,omitempty"`
	ChannelData  *ChannelInput          `json:"channel_data,omitempty"`
	EpisodesData []EpisodeInput         `json:"episodes_data,omitempty"`
	Provider     string                 `json:"provider"`
	Concurrency  int                    `json:"concurrency"`
	Speakers     []string               `json:"speakers"`
	Config       map[string]interface{} `json:"config"`
}

// BatchView is a batch as the API shows it.
type BatchView struct {
	*types.Batch
	ProgressPercent float64 `json:"progress_percent"`
}

type JobSummary struct {
	ID           uuid.UUID  `json:"id"`
	EpisodeID    uuid.UUID  `json:"episode_id"`
	EpisodeTitle string     `json:"episode_title"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	CurrentStep  *string    `json:"current_step,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CostCents    *int       `json:"cost_cents,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type BatchDetail struct {
	BatchView
	ChannelName *string      `json:"channel_name,omitempty"`
	Jobs        []JobSummary `json:"jobs"`
}

type BatchService interface {
	Create(dbc dbctx.Context, req CreateBatchRequest) (*BatchView, error)
	List(dbc dbctx.Context, f repos.BatchFilter) ([]BatchView, int64, error)
	Get(dbc dbctx.Context, id uuid.UUID) (*BatchDetail, error)
}

type batchService struct {
	db        *gorm.DB
	log       *logger.Logger
	repos     repos.Set
	pub       *realtime.Publisher
	providers ProviderLookup
	now       func() time.Time
}

func NewBatchService(db *gorm.DB, baseLog *logger.Logger, rs repos.Set, pub *realtime.Publisher, providers ProviderLookup) BatchService {
	return &batchService{
		db:        db,
		log:       baseLog.With("service", "BatchService"),
		repos:     rs,
		pub:       pub,
		providers: providers,
		now:       time.Now,
	}
}

func NewBatchView(b *types.Batch) BatchView {
	return BatchView{Batch: b, ProgressPercent: b.ProgressPercent()}
}

func (s *batchService) Create(dbc dbctx.Context, req CreateBatchRequest) (*BatchView, error) {
	if err := validateCreate(&req); err != nil {
		return nil, err
	}
	provider, err := s.providers.Get(dbc.Ctx, req.Provider)
	if err != nil {
		return nil, apperr.Invalid("provider", "%s", err.Error())
	}

	var batch *types.Batch
	err = dbc.Conn(s.db).Transaction(func(tx *gorm.DB) error {
		txc := dbc.WithTx(tx)
		var (
			channel    *types.Channel
			episodeIDs []uuid.UUID
			duration   int
			err        error
		)
		if req.ChannelID != nil {
			channel, episodeIDs, duration, err = s.existingEpisodes(txc, *req.ChannelID, req.EpisodeIDs)
		} else {
			channel, episodeIDs, duration, err = s.importEpisodes(txc, req)
		}
		if err != nil {
			return err
		}
		if len(episodeIDs) == 0 {
			return apperr.Invalid("episodes", "No episodes to process")
		}

		cfg, err := batchConfig(req.Speakers, req.Config)
		if err != nil {
			return err
		}
		batch = &types.Batch{
			ChannelID:          &channel.ID,
			Name:               fmt.Sprintf("Batch - %s - %s", channel.Name, s.now().UTC().Format("2006-01-02 15:04")),
			Provider:           provider.Name(),
			Concurrency:        req.Concurrency,
			Config:             cfg,
			TotalEpisodes:      len(episodeIDs),
			EstimatedCostCents: transcription.EstimateCost(provider, duration),
			Status:             domainjobs.BatchStatusPending,
		}
		if err := s.repos.Batches.Create(txc, batch); err != nil {
			return err
		}
		jobs := make([]*types.Job, 0, len(episodeIDs))
		for _, id := range episodeIDs {
			jobs = append(jobs, &types.Job{
				BatchID:   &batch.ID,
				EpisodeID: id,
				Provider:  provider.Name(),
				Status:    domainjobs.JobStatusPending,
			})
		}
		if err := s.repos.Jobs.CreateMany(txc, jobs); err != nil {
			return err
		}
		return s.repos.Episodes.SetStatus(txc, episodeIDs, media.EpisodeStatusQueued)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Batch created",
		"batch_id", batch.ID,
		"provider", batch.Provider,
		"episodes", batch.TotalEpisodes,
		"estimated_cost_cents", batch.EstimatedCostCents,
	)
	appendActivity(dbc.Ctx, s.repos.Activity, s.log, repos.ActivityEntry{
		BatchID: &batch.ID,
		Level:   domainjobs.LogLevelInfo,
		Message: "Batch created",
		Metadata: map[string]interface{}{
			"provider":             batch.Provider,
			"total_episodes":       batch.TotalEpisodes,
			"estimated_cost_cents": batch.EstimatedCostCents,
		},
	})
	s.pub.BatchUpdate(dbc.Ctx, batch)
	v := NewBatchView(batch)
	return &v, nil
}

func validateCreate(req *CreateBatchRequest) error {
	req.Provider = strings.TrimSpace(req.Provider)
	if req.Provider == "" {
		return apperr.Invalid("provider", "is required")
	}
	if req.Concurrency == 0 {
		req.Concurrency = domainjobs.DefaultBatchConcurrency
	}
	if req.Concurrency < domainjobs.MinBatchConcurrency || req.Concurrency > domainjobs.MaxBatchConcurrency {
		return apperr.Invalid("concurrency", "must be between %d and %d", domainjobs.MinBatchConcurrency, domainjobs.MaxBatchConcurrency)
	}
	existing := req.ChannelID != nil && len(req.EpisodeIDs) > 0
	imported := req.ChannelData != nil && len(req.EpisodesData) > 0
	if !existing && !imported {
		return apperr.Invalid("", "Must provide either (channel_id + episode_ids) or (channel_data + episodes_data)")
	}
	if imported && !existing {
		req.ChannelID = nil
		if strings.TrimSpace(req.ChannelData.Name) == "" {
			return apperr.Invalid("channel_data.name", "is required")
		}
		for i, ep := range req.EpisodesData {
			if strings.TrimSpace(ep.YoutubeID) == "" {
				return apperr.Invalid(fmt.Sprintf("episodes_data[%d].youtube_id", i), "is required")
			}
		}
	}
	return nil
}

func (s *batchService) existingEpisodes(txc dbctx.Context, channelID uuid.UUID, ids []uuid.UUID) (*types.Channel, []uuid.UUID, int, error) {
	channel, err := s.repos.Channels.GetByID(txc, channelID)
	if err != nil {
		return nil, nil, 0, err
	}
	episodes, err := s.repos.Episodes.GetByIDs(txc, ids)
	if err != nil {
		return nil, nil, 0, err
	}
	known := make(map[uuid.UUID]*types.Episode, len(episodes))
	for _, ep := range episodes {
		known[ep.ID] = ep
	}
	duration := 0
	for _, id := range ids {
		ep, ok := known[id]
		if !ok {
			return nil, nil, 0, apperr.Invalid("episode_ids", "unknown episode %s", id)
		}
		if ep.DurationSeconds != nil {
			duration += *ep.DurationSeconds
		}
	}
	return channel, ids, duration, nil
}

// importEpisodes finds or creates the channel, creates the episodes it does
// not have yet and returns every requested episode id in input order.
func (s *batchService) importEpisodes(txc dbctx.Context, req CreateBatchRequest) (*types.Channel, []uuid.UUID, int, error) {
	data := req.ChannelData
	channel, err := s.repos.Channels.GetByYoutubeChannelID(txc, data.YoutubeChannelID)
	if err != nil {
		return nil, nil, 0, err
	}
	if channel == nil {
		slug, err := s.uniqueSlug(txc, data.Name)
		if err != nil {
			return nil, nil, 0, err
		}
		speakers, err := json.Marshal(nonNil(req.Speakers))
		if err != nil {
			return nil, nil, 0, err
		}
		channel = &types.Channel{
			Slug:        slug,
			Name:        data.Name,
			Description: data.Description,
			YoutubeURL:  data.YoutubeURL,
			Speakers:    datatypes.JSON(speakers),
		}
		if data.YoutubeChannelID != "" {
			channel.YoutubeChannelID = &data.YoutubeChannelID
		}
		if err := s.repos.Channels.Create(txc, channel); err != nil {
			return nil, nil, 0, err
		}
		s.log.Info("Created channel", "channel_id", channel.ID, "slug", slug)
	}

	youtubeIDs := make([]string, 0, len(req.EpisodesData))
	seen := make(map[string]bool, len(req.EpisodesData))
	for _, ep := range req.EpisodesData {
		if !seen[ep.YoutubeID] {
			seen[ep.YoutubeID] = true
			youtubeIDs = append(youtubeIDs, ep.YoutubeID)
		}
	}
	existing, err := s.repos.Episodes.ListByChannelYoutubeIDs(txc, channel.ID, youtubeIDs)
	if err != nil {
		return nil, nil, 0, err
	}
	byYoutubeID := make(map[string]*types.Episode, len(existing))
	for _, ep := range existing {
		byYoutubeID[ep.YoutubeID] = ep
	}

	var (
		created      []*types.Episode
		createdSecs  int
		totalSeconds int
	)
	for _, in := range req.EpisodesData {
		if _, ok := byYoutubeID[in.YoutubeID]; ok {
			continue
		}
		ep := &types.Episode{
			ID:              uuid.New(),
			ChannelID:       channel.ID,
			YoutubeID:       in.YoutubeID,
			Title:           in.Title,
			Description:     in.Description,
			PublishedAt:     in.PublishedAt,
			DurationSeconds: in.DurationSeconds,
			Status:          media.EpisodeStatusPending,
		}
		byYoutubeID[in.YoutubeID] = ep
		created = append(created, ep)
		if in.DurationSeconds != nil {
			createdSecs += *in.DurationSeconds
		}
	}
	if err := s.repos.Episodes.CreateMany(txc, created); err != nil {
		return nil, nil, 0, err
	}
	if len(created) > 0 {
		if err := s.repos.Channels.AddEpisodes(txc, channel.ID, len(created), createdSecs); err != nil {
			return nil, nil, 0, err
		}
		s.log.Info("Created episodes", "channel_id", channel.ID, "count", len(created))
	}

	ids := make([]uuid.UUID, 0, len(youtubeIDs))
	for _, yt := range youtubeIDs {
		ep := byYoutubeID[yt]
		ids = append(ids, ep.ID)
		if ep.DurationSeconds != nil {
			totalSeconds += *ep.DurationSeconds
		}
	}
	return channel, ids, totalSeconds, nil
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and joins its alphanumeric runs with dashes.
func Slugify(name string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "channel"
	}
	return s
}

func (s *batchService) uniqueSlug(txc dbctx.Context, name string) (string, error) {
	base := Slugify(name)
	slug := base
	for i := 1; ; i++ {
		taken, err := s.repos.Channels.SlugExists(txc, slug)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

// batchConfig stores speakers alongside the free-form options; an explicit
// "speakers" key in extra wins.
func batchConfig(speakers []string, extra map[string]interface{}) (datatypes.JSON, error) {
	cfg := map[string]interface{}{"speakers": nonNil(speakers)}
	for k, v := range extra {
		cfg[k] = v
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, apperr.Invalid("config", "%s", err.Error())
	}
	return datatypes.JSON(raw), nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func (s *batchService) List(dbc dbctx.Context, f repos.BatchFilter) ([]BatchView, int64, error) {
	batches, total, err := s.repos.Batches.List(dbc, f)
	if err != nil {
		return nil, 0, err
	}
	out := make([]BatchView, 0, len(batches))
	for _, b := range batches {
		out = append(out, NewBatchView(b))
	}
	return out, total, nil
}

func (s *batchService) Get(dbc dbctx.Context, id uuid.UUID) (*BatchDetail, error) {
	b, err := s.repos.Batches.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	out := &BatchDetail{BatchView: NewBatchView(b), Jobs: []JobSummary{}}
	if b.ChannelID != nil {
		ch, err := s.repos.Channels.GetByID(dbc, *b.ChannelID)
		if err == nil {
			out.ChannelName = &ch.Name
		}
	}
	jobs, err := s.repos.Jobs.ListByBatch(dbc, id)
	if err != nil {
		return nil, err
	}
	episodeIDs := make([]uuid.UUID, 0, len(jobs))
	for _, j := range jobs {
		episodeIDs = append(episodeIDs, j.EpisodeID)
	}
	episodes, err := s.repos.Episodes.GetByIDs(dbc, episodeIDs)
	if err != nil {
		return nil, err
	}
	titles := make(map[uuid.UUID]string, len(episodes))
	for _, ep := range episodes {
		titles[ep.ID] = ep.Title
	}
	for _, j := range jobs {
		title, ok := titles[j.EpisodeID]
		if !ok {
			title = unknownLabel
		}
		out.Jobs = append(out.Jobs, JobSummary{
			ID:           j.ID,
			EpisodeID:    j.EpisodeID,
			EpisodeTitle: title,
			Status:       j.Status,
			Progress:     j.Progress,
			CurrentStep:  j.CurrentStep,
			ErrorMessage: j.ErrorMessage,
			CostCents:    j.CostCents,
			StartedAt:    j.StartedAt,
			CompletedAt:  j.CompletedAt,
		})
	}
	return out, nil
}
