package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/podscribe-backend/internal/data/db"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	"github.com/yungbote/podscribe-backend/internal/domain/media"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

// ChannelStats is the recomputed aggregate for one channel.
type ChannelStats struct {
	EpisodeCount         int
	TranscribedCount     int
	TotalDurationSeconds int
}

type ChannelRepo interface {
	Create(dbc dbctx.Context, c *types.Channel) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Channel, error)
	GetByYoutubeChannelID(dbc dbctx.Context, youtubeChannelID string) (*types.Channel, error)
	SlugExists(dbc dbctx.Context, slug string) (bool, error)
	ListIDs(dbc dbctx.Context) ([]uuid.UUID, error)
	IncrementTranscribed(dbc dbctx.Context, id uuid.UUID) error
	AddEpisodes(dbc dbctx.Context, id uuid.UUID, episodes, durationSeconds int) error
	RecountStats(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type channelRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChannelRepo(db *gorm.DB, baseLog *logger.Logger) ChannelRepo {
	return &channelRepo{
		db:  db,
		log: baseLog.With("repo", "ChannelRepo"),
	}
}

func (r *channelRepo) Create(dbc dbctx.Context, c *types.Channel) error {
	if c == nil {
		return nil
	}
	if err := dbc.Conn(r.db).Create(c).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Conflictf("Channel slug already exists: %s", c.Slug)
		}
		return err
	}
	return nil
}

func (r *channelRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Channel, error) {
	var c types.Channel
	err := dbc.Conn(r.db).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("channel %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByYoutubeChannelID returns nil, nil when no channel matches.
func (r *channelRepo) GetByYoutubeChannelID(dbc dbctx.Context, youtubeChannelID string) (*types.Channel, error) {
	if youtubeChannelID == "" {
		return nil, nil
	}
	var c types.Channel
	err := dbc.Conn(r.db).
		Where("youtube_channel_id = ?", youtubeChannelID).
		Limit(1).
		Find(&c).Error
	if err != nil {
		return nil, err
	}
	if c.ID == uuid.Nil {
		return nil, nil
	}
	return &c, nil
}

func (r *channelRepo) SlugExists(dbc dbctx.Context, slug string) (bool, error) {
	var n int64
	err := dbc.Conn(r.db).Model(&types.Channel{}).Where("slug = ?", slug).Count(&n).Error
	return n > 0, err
}

func (r *channelRepo) ListIDs(dbc dbctx.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := dbc.Conn(r.db).Model(&types.Channel{}).Order("created_at ASC").Pluck("id", &ids).Error
	return ids, err
}

func (r *channelRepo) IncrementTranscribed(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.Conn(r.db).
		Model(&types.Channel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"transcribed_count": gorm.Expr("transcribed_count + 1"),
			"updated_at":        time.Now().UTC(),
		}).Error
}

func (r *channelRepo) AddEpisodes(dbc dbctx.Context, id uuid.UUID, episodes, durationSeconds int) error {
	if episodes == 0 && durationSeconds == 0 {
		return nil
	}
	return dbc.Conn(r.db).
		Model(&types.Channel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"episode_count":          gorm.Expr("episode_count + ?", episodes),
			"total_duration_seconds": gorm.Expr("total_duration_seconds + ?", durationSeconds),
			"updated_at":             time.Now().UTC(),
		}).Error
}

// RecountStats recomputes the channel aggregates from its episodes and
// reports whether anything changed.
func (r *channelRepo) RecountStats(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	conn := dbc.Conn(r.db)
	var stats struct {
		EpisodeCount         int
		TranscribedCount     int
		TotalDurationSeconds int
	}
	err := conn.Model(&types.Episode{}).
		Select(`COUNT(*) AS episode_count,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS transcribed_count,
			COALESCE(SUM(duration_seconds), 0) AS total_duration_seconds`, media.EpisodeStatusDone).
		Where("channel_id = ?", id).
		Scan(&stats).Error
	if err != nil {
		return false, err
	}
	res := conn.Model(&types.Channel{}).
		Where("id = ?", id).
		Where("episode_count <> ? OR transcribed_count <> ? OR total_duration_seconds <> ?",
			stats.EpisodeCount, stats.TranscribedCount, stats.TotalDurationSeconds).
		Updates(map[string]interface{}{
			"episode_count":          stats.EpisodeCount,
			"transcribed_count":      stats.TranscribedCount,
			"total_duration_seconds": stats.TotalDurationSeconds,
			"updated_at":             time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
