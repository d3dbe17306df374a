package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/podscribe-backend/internal/data/db"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

type EpisodeRepo interface {
	CreateMany(dbc dbctx.Context, episodes []*types.Episode) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Episode, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Episode, error)
	ListByChannelYoutubeIDs(dbc dbctx.Context, channelID uuid.UUID, youtubeIDs []string) ([]*types.Episode, error)
	ListByStatus(dbc dbctx.Context, status string, limit int) ([]*types.Episode, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	SetStatus(dbc dbctx.Context, ids []uuid.UUID, status string) error
}

type episodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEpisodeRepo(db *gorm.DB, baseLog *logger.Logger) EpisodeRepo {
	return &episodeRepo{
		db:  db,
		log: baseLog.With("repo", "EpisodeRepo"),
	}
}

func (r *episodeRepo) CreateMany(dbc dbctx.Context, episodes []*types.Episode) error {
	if len(episodes) == 0 {
		return nil
	}
	if err := dbc.Conn(r.db).CreateInBatches(&episodes, 200).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Conflictf("Episode already exists")
		}
		return err
	}
	return nil
}

func (r *episodeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Episode, error) {
	var e types.Episode
	err := dbc.Conn(r.db).Where("id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("episode %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *episodeRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Episode, error) {
	var out []*types.Episode
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.Conn(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *episodeRepo) ListByChannelYoutubeIDs(dbc dbctx.Context, channelID uuid.UUID, youtubeIDs []string) ([]*types.Episode, error) {
	var out []*types.Episode
	if len(youtubeIDs) == 0 {
		return out, nil
	}
	err := dbc.Conn(r.db).
		Where("channel_id = ? AND youtube_id IN ?", channelID, youtubeIDs).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *episodeRepo) ListByStatus(dbc dbctx.Context, status string, limit int) ([]*types.Episode, error) {
	q := dbc.Conn(r.db).Where("status = ?", status).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Episode
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *episodeRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.Conn(r.db).
		Model(&types.Episode{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *episodeRepo) SetStatus(dbc dbctx.Context, ids []uuid.UUID, status string) error {
	if len(ids) == 0 {
		return nil
	}
	return dbc.Conn(r.db).
		Model(&types.Episode{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}
