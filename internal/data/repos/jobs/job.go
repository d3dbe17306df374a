package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/podscribe-backend/internal/data/db"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	domainjobs "github.com/yungbote/podscribe-backend/internal/domain/jobs"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

type JobFilter struct {
	BatchID   *uuid.UUID
	EpisodeID *uuid.UUID
	Status    string
	Page      int
	PageSize  int
}

type JobRepo interface {
	CreateMany(dbc dbctx.Context, jobs []*types.Job) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	List(dbc dbctx.Context, f JobFilter) ([]*types.Job, int64, error)
	ListByBatch(dbc dbctx.Context, batchID uuid.UUID, statuses ...string) ([]*types.Job, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	TransitionStatus(dbc dbctx.Context, id uuid.UUID, from []string, updates map[string]interface{}) (bool, error)
	CancelEarly(dbc dbctx.Context, batchID uuid.UUID) ([]uuid.UUID, error)
	ListStale(dbc dbctx.Context, batchID uuid.UUID, cutoff time.Time) ([]*types.Job, error)
	ReclaimStale(dbc dbctx.Context, id uuid.UUID, cutoff time.Time, updates map[string]interface{}) (bool, error)
	ResetForRetry(dbc dbctx.Context, ids []uuid.UUID, bumpRetryCount bool) (int64, error)
	ClaimAutoRetry(dbc dbctx.Context, id uuid.UUID, maxRetries int) (bool, error)
	StatusCounts(dbc dbctx.Context, batchID uuid.UUID) (map[string]int64, error)
	SumCost(dbc dbctx.Context, batchID uuid.UUID) (int64, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

// CreateMany inserts jobs in one statement. A second job for the same
// (batch, episode) pair is rejected with a ConflictError.
func (r *jobRepo) CreateMany(dbc dbctx.Context, jobs []*types.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	if err := dbc.Conn(r.db).Create(&jobs).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Conflictf("Job already exists for this batch and episode")
		}
		return err
	}
	return nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	var j types.Job
	err := dbc.Conn(r.db).Where("id = ?", id).First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *jobRepo) List(dbc dbctx.Context, f JobFilter) ([]*types.Job, int64, error) {
	q := dbc.Conn(r.db).Model(&types.Job{})
	if f.BatchID != nil {
		q = q.Where("batch_id = ?", *f.BatchID)
	}
	if f.EpisodeID != nil {
		q = q.Where("episode_id = ?", *f.EpisodeID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, size := normalizePage(f.Page, f.PageSize, 50)
	var out []*types.Job
	err := q.Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListByBatch returns the batch's jobs in creation order, optionally limited
// to the given statuses.
func (r *jobRepo) ListByBatch(dbc dbctx.Context, batchID uuid.UUID, statuses ...string) ([]*types.Job, error) {
	q := dbc.Conn(r.db).Where("batch_id = ?", batchID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var out []*types.Job
	// Jobs inserted together share created_at; id keeps the order total.
	if err := q.Order("created_at ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRepo) TransitionStatus(dbc dbctx.Context, id uuid.UUID, from []string, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	q := dbc.Conn(r.db).Model(&types.Job{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CancelEarly cancels every job of the batch that has not passed the
// transcription checkpoint and returns the affected episode ids. The ids come
// back from the UPDATE itself so a job that moves on concurrently is neither
// cancelled nor reported.
func (r *jobRepo) CancelEarly(dbc dbctx.Context, batchID uuid.UUID) ([]uuid.UUID, error) {
	now := time.Now().UTC()
	var cancelled []types.Job
	err := dbc.Conn(r.db).
		Model(&cancelled).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "episode_id"}}}).
		Where("batch_id = ? AND status IN ?", batchID, domainjobs.EarlyJobStatuses).
		Updates(map[string]interface{}{
			"status":       domainjobs.JobStatusCancelled,
			"completed_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		return nil, err
	}
	if len(cancelled) == 0 {
		return nil, nil
	}
	episodeIDs := make([]uuid.UUID, 0, len(cancelled))
	for _, j := range cancelled {
		episodeIDs = append(episodeIDs, j.EpisodeID)
	}
	return episodeIDs, nil
}

// ListStale returns the batch's in-pipeline jobs that have not been touched
// since cutoff, oldest first.
func (r *jobRepo) ListStale(dbc dbctx.Context, batchID uuid.UUID, cutoff time.Time) ([]*types.Job, error) {
	var out []*types.Job
	err := dbc.Conn(r.db).
		Where("batch_id = ? AND status IN ? AND updated_at < ?", batchID, domainjobs.ActiveJobStatuses, cutoff.UTC()).
		Order("updated_at ASC").
		Find(&out).Error
	return out, err
}

// ReclaimStale applies updates to a job only while it is still in-pipeline
// and untouched since cutoff. A job that made progress in the meantime is
// left alone and false is returned.
func (r *jobRepo) ReclaimStale(dbc dbctx.Context, id uuid.UUID, cutoff time.Time, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := dbc.Conn(r.db).
		Model(&types.Job{}).
		Where("id = ? AND status IN ? AND updated_at < ?", id, domainjobs.ActiveJobStatuses, cutoff.UTC()).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ResetForRetry puts failed or cancelled jobs back to pending with their error
// fields and timestamps cleared.
func (r *jobRepo) ResetForRetry(dbc dbctx.Context, ids []uuid.UUID, bumpRetryCount bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	updates := map[string]interface{}{
		"status":          domainjobs.JobStatusPending,
		"progress":        0,
		"current_step":    nil,
		"error_message":   nil,
		"error_code":      nil,
		"provider_job_id": nil,
		"started_at":      nil,
		"completed_at":    nil,
		"updated_at":      time.Now().UTC(),
	}
	if bumpRetryCount {
		updates["retry_count"] = gorm.Expr("retry_count + 1")
	}
	res := dbc.Conn(r.db).
		Model(&types.Job{}).
		Where("id IN ? AND status IN ?", ids, domainjobs.RetryableJobStatuses).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// ClaimAutoRetry re-queues a failed job for another automatic attempt while
// retry_count is below maxRetries. It reports false once the ceiling is hit.
func (r *jobRepo) ClaimAutoRetry(dbc dbctx.Context, id uuid.UUID, maxRetries int) (bool, error) {
	res := dbc.Conn(r.db).
		Model(&types.Job{}).
		Where("id = ? AND status = ? AND retry_count < ?", id, domainjobs.JobStatusFailed, maxRetries).
		Updates(map[string]interface{}{
			"status":        domainjobs.JobStatusPending,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"progress":      0,
			"current_step":  nil,
			"error_message": nil,
			"error_code":    nil,
			"started_at":    nil,
			"completed_at":  nil,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) StatusCounts(dbc dbctx.Context, batchID uuid.UUID) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := dbc.Conn(r.db).
		Model(&types.Job{}).
		Select("status, COUNT(*) AS count").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// SumCost totals cost_cents over the batch's finished jobs.
func (r *jobRepo) SumCost(dbc dbctx.Context, batchID uuid.UUID) (int64, error) {
	var total int64
	err := dbc.Conn(r.db).
		Model(&types.Job{}).
		Select("COALESCE(SUM(cost_cents), 0)").
		Where("batch_id = ? AND status = ? AND cost_cents IS NOT NULL", batchID, domainjobs.JobStatusDone).
		Scan(&total).Error
	return total, err
}
