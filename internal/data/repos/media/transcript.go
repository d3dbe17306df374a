package media

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/podscribe-backend/internal/domain"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

const insertBatchSize = 500

type UtteranceRepo interface {
	ReplaceForEpisode(dbc dbctx.Context, episodeID uuid.UUID, rows []*types.Utterance) error
	ListByEpisode(dbc dbctx.Context, episodeID uuid.UUID) ([]*types.Utterance, error)
}

type ChunkRepo interface {
	ReplaceForEpisode(dbc dbctx.Context, episodeID uuid.UUID, rows []*types.Chunk) error
	ListByEpisode(dbc dbctx.Context, episodeID uuid.UUID) ([]*types.Chunk, error)
}

type utteranceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUtteranceRepo(db *gorm.DB, baseLog *logger.Logger) UtteranceRepo {
	return &utteranceRepo{db: db, log: baseLog.With("repo", "UtteranceRepo")}
}

// ReplaceForEpisode deletes the episode's utterances and inserts rows in one
// transaction, joining the caller's when dbc carries one.
func (r *utteranceRepo) ReplaceForEpisode(dbc dbctx.Context, episodeID uuid.UUID, rows []*types.Utterance) error {
	return replaceAll(dbc, r.db, episodeID, &types.Utterance{}, rows)
}

func (r *utteranceRepo) ListByEpisode(dbc dbctx.Context, episodeID uuid.UUID) ([]*types.Utterance, error) {
	var out []*types.Utterance
	err := dbc.Conn(r.db).
		Where("episode_id = ?", episodeID).
		Order("start_ms ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	return &chunkRepo{db: db, log: baseLog.With("repo", "ChunkRepo")}
}

func (r *chunkRepo) ReplaceForEpisode(dbc dbctx.Context, episodeID uuid.UUID, rows []*types.Chunk) error {
	return replaceAll(dbc, r.db, episodeID, &types.Chunk{}, rows)
}

func (r *chunkRepo) ListByEpisode(dbc dbctx.Context, episodeID uuid.UUID) ([]*types.Chunk, error) {
	var out []*types.Chunk
	err := dbc.Conn(r.db).
		Where("episode_id = ?", episodeID).
		Order("chunk_index ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func replaceAll[T any](dbc dbctx.Context, db *gorm.DB, episodeID uuid.UUID, model interface{}, rows []*T) error {
	run := func(tx *gorm.DB) error {
		if err := tx.Where("episode_id = ?", episodeID).Delete(model).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(&rows, insertBatchSize).Error
	}
	if dbc.Tx != nil {
		return run(dbc.Conn(db))
	}
	return dbc.Conn(db).Transaction(run)
}
