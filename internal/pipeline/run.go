package pipeline

import (
	"context"
	"errors"
	"fmt"
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

// ErrInterrupted means the job left the status this attempt expected, for
// example because it was paused or cancelled while a stage was running, or
// the process is shutting down. Batch counters must not move for it.
var ErrInterrupted = errors.New("job interrupted")

/*
run is the handle for one attempt at one job. Every status write of the
attempt goes through it:
  - transition persists status/progress/current_step guarded by the status the
    attempt last wrote, so an external pause or cancel is never overwritten.
  - announce appends the ActivityLog row and publishes the job update; both
    are best-effort.
  - fail and interrupt are the only ways an attempt ends without finishing.
*/
type run struct {
	ctx     context.Context
	db      *gorm.DB
	repos   repos.Set
	pub     *realtime.Publisher
	log     *logger.Logger
	job     *types.Job
	episode *types.Episode
}

func (r *run) dbc() dbctx.Context { return dbctx.Context{Ctx: r.ctx} }

// transition moves the job to status inside dbc. On a zero-row update the
// job was changed elsewhere and ErrInterrupted is returned.
func (r *run) transition(dbc dbctx.Context, status string, progress int, step string, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":       status,
		"progress":     progress,
		"current_step": step,
	}
	for k, v := range extra {
		updates[k] = v
	}
	from := r.job.Status
	ok, err := r.repos.Jobs.TransitionStatus(dbc, r.job.ID, []string{from}, updates)
	if err != nil {
		return &apperr.TransientInfraError{Op: "job " + status, Err: err}
	}
	if !ok {
		return fmt.Errorf("%w: job %s moved away from %s", ErrInterrupted, r.job.ID, from)
	}
	r.job.Status = status
	r.job.Progress = progress
	r.job.CurrentStep = &step
	return nil
}

func (r *run) advance(status string, progress int, step string, extra map[string]interface{}) error {
	if err := r.transition(r.dbc(), status, progress, step, extra); err != nil {
		return err
	}
	r.announce(domainjobs.LogLevelInfo, step, nil)
	return nil
}

func (r *run) announce(level, message string, meta map[string]interface{}) {
	r.activity(r.ctx, level, message, meta)
	r.pub.JobUpdate(r.ctx, r.job)
}

func (r *run) activity(ctx context.Context, level, message string, meta map[string]interface{}) {
	jobID := r.job.ID
	episodeID := r.job.EpisodeID
	err := r.repos.Activity.Append(dbctx.Context{Ctx: ctx}, repos.ActivityEntry{
		BatchID:   r.job.BatchID,
		JobID:     &jobID,
		EpisodeID: &episodeID,
		Level:     level,
		Message:   message,
		Metadata:  meta,
	})
	if err != nil {
		r.log.Warn("Activity log write failed", "job_id", r.job.ID, "error", err)
	}
}

func (r *run) setEpisodeStatus(ctx context.Context, status string) {
	if err := r.repos.Episodes.SetStatus(dbctx.Context{Ctx: ctx}, []uuid.UUID{r.job.EpisodeID}, status); err != nil {
		r.log.Warn("Episode status update failed", "episode_id", r.job.EpisodeID, "status", status, "error", err)
	}
}

// fail marks the job and its episode failed and returns cause. When the
// attempt's context is already done the job is handed back instead.
func (r *run) fail(cause error) error {
	if r.ctx.Err() != nil {
		return r.interrupt(cause)
	}
	msg := domainjobs.TruncateError(cause.Error())
	code := apperr.Code(cause)
	now := time.Now().UTC()
	ok, err := r.repos.Jobs.TransitionStatus(r.dbc(), r.job.ID, []string{r.job.Status}, map[string]interface{}{
		"status":        domainjobs.JobStatusFailed,
		"error_message": msg,
		"error_code":    code,
		"completed_at":  now,
	})
	if err != nil {
		r.log.Error("Failed to record job failure", "job_id", r.job.ID, "cause", cause, "error", err)
		return &apperr.TransientInfraError{Op: "job failed", Err: err}
	}
	if !ok {
		return fmt.Errorf("%w: %v", ErrInterrupted, cause)
	}
	r.job.Status = domainjobs.JobStatusFailed
	r.job.ErrorMessage = &msg
	r.job.ErrorCode = &code
	r.job.CompletedAt = &now

	r.setEpisodeStatus(r.ctx, media.EpisodeStatusFailed)
	r.log.Warn("Job failed", "job_id", r.job.ID, "episode_id", r.job.EpisodeID, "code", code, "error", cause)
	r.announce(domainjobs.LogLevelError, "Job failed: "+msg, map[string]interface{}{"error_code": code})
	return cause
}

// interrupt puts a job abandoned by shutdown back to pending so the next run
// of its batch picks it up from download.
func (r *run) interrupt(cause error) error {
	ctx := context.WithoutCancel(r.ctx)
	dbc := dbctx.Context{Ctx: ctx}
	ok, err := r.repos.Jobs.TransitionStatus(dbc, r.job.ID, []string{r.job.Status}, map[string]interface{}{
		"status":       domainjobs.JobStatusPending,
		"progress":     0,
		"current_step": nil,
		"started_at":   nil,
	})
	if err != nil {
		r.log.Error("Failed to release interrupted job", "job_id", r.job.ID, "error", err)
	}
	if ok {
		r.job.Status = domainjobs.JobStatusPending
		r.job.Progress = 0
		r.job.CurrentStep = nil
		r.setEpisodeStatus(ctx, media.EpisodeStatusQueued)
		r.activity(ctx, domainjobs.LogLevelWarn, "Job released after interruption", nil)
		r.pub.JobUpdate(ctx, r.job)
	}
	return fmt.Errorf("%w: %v", ErrInterrupted, cause)
}
