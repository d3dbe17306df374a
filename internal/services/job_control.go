package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/podscribe-backend/internal/data/repos"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	domainjobs "github.com/yungbote/podscribe-backend/internal/domain/jobs"
	"github.com/yungbote/podscribe-backend/internal/domain/media"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/realtime"
)

const unknownLabel = "Unknown"

// JobDetail is a job with the names an operator needs to recognise it.
type JobDetail struct {
	*types.Job
	EpisodeTitle     string   `json:"episode_title"`
	EpisodeYoutubeID string   `json:"episode_youtube_id"`
	BatchName        *string  `json:"batch_name,omitempty"`
	DurationSeconds  *float64 `json:"duration_seconds,omitempty"`
}

type JobControl interface {
	List(dbc dbctx.Context, f repos.JobFilter) ([]*types.Job, int64, error)
	Get(dbc dbctx.Context, id uuid.UUID) (*JobDetail, error)
	Retry(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	Pause(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	Resume(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	Cancel(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	Logs(dbc dbctx.Context, id uuid.UUID, limit int) ([]*types.ActivityLog, error)
}

type jobControl struct {
	db    *gorm.DB
	log   *logger.Logger
	repos repos.Set
	pub   *realtime.Publisher
	orch  BatchOrchestrator
}

func NewJobControl(db *gorm.DB, baseLog *logger.Logger, rs repos.Set, pub *realtime.Publisher, orch BatchOrchestrator) JobControl {
	return &jobControl{
		db:    db,
		log:   baseLog.With("service", "JobControl"),
		repos: rs,
		pub:   pub,
		orch:  orch,
	}
}

func (s *jobControl) List(dbc dbctx.Context, f repos.JobFilter) ([]*types.Job, int64, error) {
	return s.repos.Jobs.List(dbc, f)
}

func (s *jobControl) Get(dbc dbctx.Context, id uuid.UUID) (*JobDetail, error) {
	j, err := s.repos.Jobs.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	out := &JobDetail{Job: j, EpisodeTitle: unknownLabel, EpisodeYoutubeID: unknownLabel}
	ep, err := s.repos.Episodes.GetByID(dbc, j.EpisodeID)
	switch {
	case err == nil:
		out.EpisodeTitle = ep.Title
		out.EpisodeYoutubeID = ep.YoutubeID
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}
	if j.BatchID != nil {
		b, err := s.repos.Batches.GetByID(dbc, *j.BatchID)
		switch {
		case err == nil:
			out.BatchName = &b.Name
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
	}
	if j.StartedAt != nil && j.CompletedAt != nil {
		d := j.CompletedAt.Sub(*j.StartedAt).Seconds()
		out.DurationSeconds = &d
	}
	return out, nil
}

// Retry re-queues one failed job by hand. Unlike automatic retries it
// is allowed past MaxJobRetries.
func (s *jobControl) Retry(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	return s.change(dbc, id, change{
		from:    []string{domainjobs.JobStatusFailed},
		reject:  func(string) error { return apperr.Conflictf("Can only retry failed jobs") },
		updates: map[string]interface{}{
			"status":        domainjobs.JobStatusPending,
			"progress":      0,
			"current_step":  nil,
			"error_message": nil,
			"error_code":    nil,
			"started_at":    nil,
			"completed_at":  nil,
			"retry_count":   gorm.Expr("retry_count + 1"),
		},
		episodeStatus: media.EpisodeStatusQueued,
		releaseFailed: true,
		dispatch:      true,
		reopen:        true,
		activity:      "Job retried",
	})
}

// Pause parks an in-flight job. The running attempt notices at its next
// stage boundary and stops without counting.
func (s *jobControl) Pause(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	return s.change(dbc, id, change{
		from:     domainjobs.ActiveJobStatuses,
		reject:   rejectf("Cannot pause job with status: %s"),
		updates:  map[string]interface{}{"status": domainjobs.JobStatusPaused},
		activity: "Job paused",
	})
}

func (s *jobControl) Resume(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	return s.change(dbc, id, change{
		from:    []string{domainjobs.JobStatusPaused},
		reject:  rejectf("Cannot resume job with status: %s"),
		updates: map[string]interface{}{
			"status":       domainjobs.JobStatusPending,
			"progress":     0,
			"current_step": nil,
			"started_at":   nil,
		},
		episodeStatus: media.EpisodeStatusQueued,
		dispatch:      true,
		reopen:        true,
		activity:      "Job resumed",
	})
}

func (s *jobControl) Cancel(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	cancellable := []string{domainjobs.JobStatusPending, domainjobs.JobStatusFailed, domainjobs.JobStatusPaused, domainjobs.JobStatusSkipped}
	cancellable = append(cancellable, domainjobs.ActiveJobStatuses...)
	return s.change(dbc, id, change{
		from:    cancellable,
		reject:  rejectf("Cannot cancel job with status: %s"),
		updates: map[string]interface{}{
			"status":       domainjobs.JobStatusCancelled,
			"completed_at": time.Now().UTC(),
		},
		episodeStatus: media.EpisodeStatusSkipped,
		releaseFailed: true,
		activity:      "Job cancelled",
	})
}

func (s *jobControl) Logs(dbc dbctx.Context, id uuid.UUID, limit int) ([]*types.ActivityLog, error) {
	if _, err := s.repos.Jobs.GetByID(dbc, id); err != nil {
		return nil, err
	}
	return s.repos.Activity.ListByJob(dbc, id, limit)
}

type change struct {
	from          []string
	reject        func(status string) error
	updates       map[string]interface{}
	episodeStatus string
	// releaseFailed gives back the batch's failed count when the job leaves
	// the failed status.
	releaseFailed bool
	dispatch      bool
	// reopen puts a completed or failed batch back to running so the
	// re-queued job has a pass to run in. Cancelled batches stay cancelled.
	reopen        bool
	activity      string
}

var reopenableBatchStatuses = []string{
	domainjobs.BatchStatusCompleted,
	domainjobs.BatchStatusFailed,
}

func (s *jobControl) change(dbc dbctx.Context, id uuid.UUID, c change) (*types.Job, error) {
	j, err := s.repos.Jobs.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if !contains(c.from, j.Status) {
		return nil, c.reject(j.Status)
	}
	prev := j.Status
	reopened := false
	err = dbc.Conn(s.db).Transaction(func(tx *gorm.DB) error {
		txc := dbc.WithTx(tx)
		ok, err := s.repos.Jobs.TransitionStatus(txc, id, []string{prev}, c.updates)
		if err != nil {
			return err
		}
		if !ok {
			cur, err := s.repos.Jobs.GetByID(txc, id)
			if err != nil {
				return err
			}
			return c.reject(cur.Status)
		}
		if c.episodeStatus != "" {
			if err := s.repos.Episodes.SetStatus(txc, []uuid.UUID{j.EpisodeID}, c.episodeStatus); err != nil {
				return err
			}
		}
		if c.releaseFailed && prev == domainjobs.JobStatusFailed && j.BatchID != nil {
			if err := s.repos.Batches.ReleaseFailed(txc, *j.BatchID, 1); err != nil {
				return err
			}
		}
		if c.reopen && j.BatchID != nil {
			reopened, err = s.repos.Batches.TransitionStatus(txc, *j.BatchID, reopenableBatchStatuses, map[string]interface{}{
				"status":       domainjobs.BatchStatusRunning,
				"completed_at": nil,
			})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fresh, err := s.repos.Jobs.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	s.log.Info(c.activity, "job_id", id, "from", prev)
	jobID, episodeID := fresh.ID, fresh.EpisodeID
	appendActivity(dbc.Ctx, s.repos.Activity, s.log, repos.ActivityEntry{
		BatchID:   fresh.BatchID,
		JobID:     &jobID,
		EpisodeID: &episodeID,
		Level:     domainjobs.LogLevelInfo,
		Message:   c.activity,
		Metadata:  map[string]interface{}{"from": prev},
	})
	s.pub.JobUpdate(dbc.Ctx, fresh)
	if reopened {
		s.log.Info("Batch reopened for job", "batch_id", *fresh.BatchID, "job_id", id)
		if b, err := s.repos.Batches.GetByID(dbc, *fresh.BatchID); err == nil {
			s.pub.BatchUpdate(dbc.Ctx, b)
		}
	}
	if c.dispatch && fresh.BatchID != nil {
		s.wake(dbc.Ctx, *fresh.BatchID)
	}
	return fresh, nil
}

// wake schedules a controller pass when the job's batch is running.
func (s *jobControl) wake(ctx context.Context, batchID uuid.UUID) {
	if err := s.orch.Wake(ctx, batchID); err != nil {
		s.log.Warn("Dispatch after job change failed", "batch_id", batchID, "error", err)
	}
}

func rejectf(format string) func(string) error {
	return func(status string) error { return apperr.Conflictf(format, status) }
}
