package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/podscribe-backend/internal/domain"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

const (
	DefaultLogLimit = 100
	MaxLogLimit     = 500
)

// ActivityEntry is the input for one audit row; nil references stay NULL.
type ActivityEntry struct {
	BatchID   *uuid.UUID
	JobID     *uuid.UUID
	EpisodeID *uuid.UUID
	Level     string
	Message   string
	Metadata  map[string]interface{}
}

type ActivityLogRepo interface {
	Append(dbc dbctx.Context, entry ActivityEntry) error
	ListByJob(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]*types.ActivityLog, error)
	ListByBatch(dbc dbctx.Context, batchID uuid.UUID, limit int) ([]*types.ActivityLog, error)
}

type activityLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewActivityLogRepo(db *gorm.DB, baseLog *logger.Logger) ActivityLogRepo {
	return &activityLogRepo{
		db:  db,
		log: baseLog.With("repo", "ActivityLogRepo"),
	}
}

func (r *activityLogRepo) Append(dbc dbctx.Context, entry ActivityEntry) error {
	meta := datatypes.JSON([]byte("{}"))
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		meta = datatypes.JSON(b)
	}
	row := &types.ActivityLog{
		BatchID:   entry.BatchID,
		JobID:     entry.JobID,
		EpisodeID: entry.EpisodeID,
		Level:     entry.Level,
		Message:   entry.Message,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
	return dbc.Conn(r.db).Create(row).Error
}

// ListByJob returns the newest entries first. limit is clamped to 1..500.
func (r *activityLogRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]*types.ActivityLog, error) {
	return r.list(dbc, "job_id = ?", jobID, limit)
}

func (r *activityLogRepo) ListByBatch(dbc dbctx.Context, batchID uuid.UUID, limit int) ([]*types.ActivityLog, error) {
	return r.list(dbc, "batch_id = ?", batchID, limit)
}

func (r *activityLogRepo) list(dbc dbctx.Context, where string, id uuid.UUID, limit int) ([]*types.ActivityLog, error) {
	var out []*types.ActivityLog
	err := dbc.Conn(r.db).
		Where(where, id).
		Order("created_at DESC").
		Order("id DESC").
		Limit(ClampLogLimit(limit)).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func ClampLogLimit(limit int) int {
	if limit <= 0 {
		return DefaultLogLimit
	}
	if limit > MaxLogLimit {
		return MaxLogLimit
	}
	return limit
}
