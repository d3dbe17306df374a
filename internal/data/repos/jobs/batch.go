package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/podscribe-backend/internal/domain"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

// Outcome selects which batch counter a finished job bumps.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
)

func (o Outcome) column() string {
	if o == OutcomeFailed {
		return "failed_episodes"
	}
	return "completed_episodes"
}

type BatchFilter struct {
	ChannelID *uuid.UUID
	Status    string
	Page      int
	PageSize  int
}

type BatchRepo interface {
	Create(dbc dbctx.Context, batch *types.Batch) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Batch, error)
	List(dbc dbctx.Context, f BatchFilter) ([]*types.Batch, int64, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	TransitionStatus(dbc dbctx.Context, id uuid.UUID, from []string, updates map[string]interface{}) (bool, error)
	LockStatus(dbc dbctx.Context, id uuid.UUID) (string, bool, error)
	IncrementCounter(dbc dbctx.Context, id uuid.UUID, outcome Outcome) (bool, error)
	ReleaseFailed(dbc dbctx.Context, id uuid.UUID, n int) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type batchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBatchRepo(db *gorm.DB, baseLog *logger.Logger) BatchRepo {
	return &batchRepo{
		db:  db,
		log: baseLog.With("repo", "BatchRepo"),
	}
}

func (r *batchRepo) Create(dbc dbctx.Context, batch *types.Batch) error {
	if batch == nil {
		return nil
	}
	return dbc.Conn(r.db).Create(batch).Error
}

func (r *batchRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Batch, error) {
	var b types.Batch
	err := dbc.Conn(r.db).Where("id = ?", id).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("batch %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *batchRepo) List(dbc dbctx.Context, f BatchFilter) ([]*types.Batch, int64, error) {
	q := dbc.Conn(r.db).Model(&types.Batch{})
	if f.ChannelID != nil {
		q = q.Where("channel_id = ?", *f.ChannelID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, size := normalizePage(f.Page, f.PageSize, 20)
	var out []*types.Batch
	err := q.Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *batchRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Batch{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// TransitionStatus applies updates only while the batch is in one of from.
// It reports false when the row moved on concurrently.
func (r *batchRepo) TransitionStatus(dbc dbctx.Context, id uuid.UUID, from []string, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	q := dbc.Conn(r.db).Model(&types.Batch{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// LockStatus reads the batch status under FOR UPDATE SKIP LOCKED. It must run
// inside a transaction. found is false when the row is missing or already
// locked by a concurrent pause/cancel; callers treat both as not running.
func (r *batchRepo) LockStatus(dbc dbctx.Context, id uuid.UUID) (string, bool, error) {
	var statuses []string
	err := dbc.Conn(r.db).
		Model(&types.Batch{}).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("id = ?", id).
		Pluck("status", &statuses).Error
	if err != nil {
		return "", false, err
	}
	if len(statuses) == 0 {
		return "", false, nil
	}
	return statuses[0], true, nil
}

// IncrementCounter bumps one counter in a single statement, guarded so that
// completed + failed never exceeds total. applied is false when the guard held
// the counters back (for example a re-delivered job finishing twice).
func (r *batchRepo) IncrementCounter(dbc dbctx.Context, id uuid.UUID, outcome Outcome) (bool, error) {
	col := outcome.column()
	res := dbc.Conn(r.db).
		Model(&types.Batch{}).
		Where("id = ?", id).
		Where("completed_episodes + failed_episodes < total_episodes").
		Updates(map[string]interface{}{
			col:          gorm.Expr(col + " + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseFailed lowers failed_episodes by n, floored at zero.
func (r *batchRepo) ReleaseFailed(dbc dbctx.Context, id uuid.UUID, n int) error {
	if n <= 0 {
		return nil
	}
	return dbc.Conn(r.db).
		Model(&types.Batch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"failed_episodes": gorm.Expr("CASE WHEN failed_episodes > ? THEN failed_episodes - ? ELSE 0 END", n, n),
			"updated_at":      time.Now().UTC(),
		}).Error
}

// Delete removes the batch with its jobs and activity rows. Postgres cascades
// on its own; the explicit deletes keep other dialects consistent.
func (r *batchRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	run := func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ?", id).Delete(&types.ActivityLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("batch_id = ?", id).Delete(&types.Job{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&types.Batch{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("batch %s: %w", id, apperr.ErrNotFound)
		}
		return nil
	}
	if dbc.Tx != nil {
		return run(dbc.Conn(r.db))
	}
	return dbc.Conn(r.db).Transaction(run)
}

func normalizePage(page, size, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = def
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
