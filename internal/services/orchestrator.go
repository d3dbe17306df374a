package services

import (
	"context"
	"fmt"
	"sync"
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

// BatchDispatcher schedules a controller run for a batch. Implementations
// must return quickly; the run itself happens elsewhere.
type BatchDispatcher interface {
	DispatchBatch(ctx context.Context, batchID uuid.UUID) error
}

// ReconcileResult is the batch after reconciliation plus the number of jobs
// that are still pending or in flight.
type ReconcileResult struct {
	Batch     *types.Batch
	Remaining int64
}

// NeedsRun reports whether another controller pass should be scheduled.
func (r *ReconcileResult) NeedsRun() bool {
	return r != nil && r.Batch != nil && r.Batch.Status == domainjobs.BatchStatusRunning && r.Remaining > 0
}

type BatchOrchestrator interface {
	Start(dbc dbctx.Context, id uuid.UUID) (*types.Batch, error)
	Pause(dbc dbctx.Context, id uuid.UUID) (*types.Batch, error)
	Resume(dbc dbctx.Context, id uuid.UUID) (*types.Batch, error)
	Cancel(dbc dbctx.Context, id uuid.UUID) (*types.Batch, error)
	Retry(dbc dbctx.Context, id uuid.UUID) (int, error)
	Reconcile(dbc dbctx.Context, id uuid.UUID) (*ReconcileResult, error)
	Fail(dbc dbctx.Context, id uuid.UUID, cause error) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
	// Wake dispatches a controller pass if the batch is running.
	Wake(ctx context.Context, id uuid.UUID) error
	SetDispatcher(d BatchDispatcher)
}

// BatchObserver counts batch lifecycle transitions.
type BatchObserver interface {
	BatchEvent(event string)
}

type batchOrchestrator struct {
	db       *gorm.DB
	log      *logger.Logger
	repos    repos.Set
	pub      *realtime.Publisher
	observer BatchObserver

	mu         sync.RWMutex
	dispatcher BatchDispatcher
}

func NewBatchOrchestrator(db *gorm.DB, baseLog *logger.Logger, rs repos.Set, pub *realtime.Publisher, observer BatchObserver) BatchOrchestrator {
	return &batchOrchestrator{
		db:       db,
		log:      baseLog.With("service", "BatchOrchestrator"),
		repos:    rs,
		pub:      pub,
		observer: observer,
	}
}

// SetDispatcher binds the dispatch layer after construction; the dispatcher
// itself depends on the controller, which depends on this orchestrator.
func (s *batchOrchestrator) SetDispatcher(d BatchDispatcher) {
	s.mu.Lock()
	s.dispatcher = d
	s.mu.Unlock()
}

func (s *batchOrchestrator) Start(dbc dbctx.Context, id uuid.UUID) (*types.Batch, error) {
	b, err := s.repos.Batches.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	from := []string{domainjobs.BatchStatusPending, domainjobs.BatchStatusPaused}
	if !contains(from, b.Status) {
		return nil, apperr.Conflictf("Cannot start batch with status: %s", b.Status)
	}
	updates := map[string]interface{}{
		"status":    domainjobs.BatchStatusRunning,
		"paused_at": nil,
	}
	if b.StartedAt == nil {
		updates["started_at"] = time.Now().UTC()
	}
	if err := s.transition(dbc, b, from, updates, "Cannot start batch with status: %s"); err != nil {
		return nil, err
	}
	return s.afterTransition(dbc, b.ID, b.Status, "Batch started", true)
}

func (s *batchOrchestrator) Pause(dbc dbctx.Context, id uuid.UUID) (*types.Batch, error) {
	b, err := s.repos.Batches.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	from := []string{domainjobs.BatchStatusRunning}
	if b.Status != domainjobs.BatchStatusRunning {
		return nil, apperr.Conflictf("Cannot pause batch with status: %s", b.Status)
	}
	err = s.transition(dbc, b, from, map[string]interface{}{
		"status":    domainjobs.BatchStatusPaused,
		"paused_at": time.Now().UTC(),
	}, "Cannot pause batch with status: %s")
	if err != nil {
		return nil, err
	}
	return s.afterTransition(dbc, b.ID, b.Status, "Batch paused", false)
}

func (s *batchOrchestrator) Resume(dbc dbctx.Context, id uuid.UUID) (*types.Batch, error) {
	b, err := s.repos.Batches.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	from := []string{domainjobs.BatchStatusPaused}
	if b.Status != domainjobs.BatchStatusPaused {
		return nil, apperr.Conflictf("Cannot resume batch with status: %s", b.Status)
	}
	err = s.transition(dbc, b, from, map[string]interface{}{
		"status":    domainjobs.BatchStatusRunning,
		"paused_at": nil,
	}, "Cannot resume batch with status: %s")
	if err != nil {
		return nil, err
	}
	return s.afterTransition(dbc, b.ID, b.Status, "Batch resumed", true)
}

// Cancel stops the batch and cancels every job that has not reached the
// transcription stage. Jobs past it finish on their own.
func (s *batchOrchestrator) Cancel(dbc dbctx.Context, id uuid.UUID) (*types.Batch, error) {
	b, err := s.repos.Batches.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if b.Status == domainjobs.BatchStatusCompleted || b.Status == domainjobs.BatchStatusCancelled {
		return nil, apperr.Conflictf("Cannot cancel batch with status: %s", b.Status)
	}
	from := []string{
		domainjobs.BatchStatusPending,
		domainjobs.BatchStatusRunning,
		domainjobs.BatchStatusPaused,
		domainjobs.BatchStatusFailed,
	}
	var cancelled int
	err = s.inTx(dbc, func(txc dbctx.Context) error {
		ok, err := s.repos.Batches.TransitionStatus(txc, b.ID, from, map[string]interface{}{
			"status":       domainjobs.BatchStatusCancelled,
			"completed_at": time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return s.conflictNow(txc, b.ID, "Cannot cancel batch with status: %s")
		}
		episodeIDs, err := s.repos.Jobs.CancelEarly(txc, b.ID)
		if err != nil {
			return err
		}
		cancelled = len(episodeIDs)
		return s.repos.Episodes.SetStatus(txc, episodeIDs, media.EpisodeStatusSkipped)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Batch cancelled", "batch_id", b.ID, "jobs_cancelled", cancelled)
	s.activity(dbc.Ctx, b.ID, domainjobs.LogLevelInfo, "Batch cancelled", map[string]interface{}{
		"from":           b.Status,
		"jobs_cancelled": cancelled,
	})
	return s.publish(dbc, b.ID)
}

// Retry re-queues every failed or cancelled job of the batch and reopens a
// finished batch. It returns the number of jobs re-queued.
func (s *batchOrchestrator) Retry(dbc dbctx.Context, id uuid.UUID) (int, error) {
	b, err := s.repos.Batches.GetByID(dbc, id)
	if err != nil {
		return 0, err
	}
	retryable, err := s.repos.Jobs.ListByBatch(dbc, b.ID, domainjobs.RetryableJobStatuses...)
	if err != nil {
		return 0, err
	}
	if len(retryable) == 0 {
		return 0, apperr.Conflictf("No failed or cancelled jobs to retry")
	}
	jobIDs := make([]uuid.UUID, 0, len(retryable))
	episodeIDs := make([]uuid.UUID, 0, len(retryable))
	for _, j := range retryable {
		jobIDs = append(jobIDs, j.ID)
		episodeIDs = append(episodeIDs, j.EpisodeID)
	}

	var n int
	err = s.inTx(dbc, func(txc dbctx.Context) error {
		affected, err := s.repos.Jobs.ResetForRetry(txc, jobIDs, false)
		if err != nil {
			return err
		}
		n = int(affected)
		if n == 0 {
			return apperr.Conflictf("No failed or cancelled jobs to retry")
		}
		if err := s.repos.Episodes.SetStatus(txc, episodeIDs, media.EpisodeStatusQueued); err != nil {
			return err
		}
		reopen := []string{
			domainjobs.BatchStatusFailed,
			domainjobs.BatchStatusCancelled,
			domainjobs.BatchStatusCompleted,
		}
		reopened, err := s.repos.Batches.TransitionStatus(txc, b.ID, reopen, map[string]interface{}{
			"status":       domainjobs.BatchStatusRunning,
			"completed_at": nil,
		})
		if err != nil {
			return err
		}
		if reopened {
			return s.repos.Batches.ReleaseFailed(txc, b.ID, n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("Batch retry", "batch_id", b.ID, "jobs_retried", n)
	s.activity(dbc.Ctx, b.ID, domainjobs.LogLevelInfo, fmt.Sprintf("Retrying %d jobs", n), map[string]interface{}{
		"jobs_retried": n,
	})
	fresh, err := s.publish(dbc, b.ID)
	if err != nil {
		return n, err
	}
	if fresh.Status == domainjobs.BatchStatusRunning {
		if err := s.dispatch(dbc.Ctx, b.ID); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Reconcile recomputes the batch counters from its jobs and completes a
// running batch that has nothing left to do. Calling it twice is harmless.
func (s *batchOrchestrator) Reconcile(dbc dbctx.Context, id uuid.UUID) (*ReconcileResult, error) {
	var (
		out       *types.Batch
		remaining int64
		completed bool
	)
	err := s.inTx(dbc, func(txc dbctx.Context) error {
		b, err := s.repos.Batches.GetByID(txc, id)
		if err != nil {
			return err
		}
		counts, err := s.repos.Jobs.StatusCounts(txc, id)
		if err != nil {
			return err
		}
		cost, err := s.repos.Jobs.SumCost(txc, id)
		if err != nil {
			return err
		}
		remaining = counts[domainjobs.JobStatusPending]
		for _, st := range domainjobs.ActiveJobStatuses {
			remaining += counts[st]
		}
		updates := map[string]interface{}{
			"completed_episodes": counts[domainjobs.JobStatusDone],
			"failed_episodes":    counts[domainjobs.JobStatusFailed],
			"actual_cost_cents":  cost,
		}
		if b.Status == domainjobs.BatchStatusRunning && remaining == 0 {
			updates["status"] = domainjobs.BatchStatusCompleted
			updates["completed_at"] = time.Now().UTC()
			completed = true
		}
		if err := s.repos.Batches.UpdateFields(txc, id, updates); err != nil {
			return err
		}
		out, err = s.repos.Batches.GetByID(txc, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if completed {
		s.log.Info("Batch completed",
			"batch_id", id,
			"completed", out.CompletedEpisodes,
			"failed", out.FailedEpisodes,
			"cost_cents", out.ActualCostCents,
		)
		s.activity(dbc.Ctx, id, domainjobs.LogLevelInfo, "Batch completed", map[string]interface{}{
			"completed_episodes": out.CompletedEpisodes,
			"failed_episodes":    out.FailedEpisodes,
			"actual_cost_cents":  out.ActualCostCents,
		})
		s.event(domainjobs.BatchStatusCompleted)
	}
	s.pub.BatchUpdate(dbc.Ctx, out)
	return &ReconcileResult{Batch: out, Remaining: remaining}, nil
}

// Fail marks a running or paused batch failed after an unrecoverable
// controller error. Jobs keep their own statuses so Retry can pick them up.
func (s *batchOrchestrator) Fail(dbc dbctx.Context, id uuid.UUID, cause error) error {
	from := []string{domainjobs.BatchStatusRunning, domainjobs.BatchStatusPaused}
	ok, err := s.repos.Batches.TransitionStatus(dbc, id, from, map[string]interface{}{
		"status":       domainjobs.BatchStatusFailed,
		"completed_at": time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	msg := domainjobs.TruncateError(cause.Error())
	s.log.Error("Batch failed", "batch_id", id, "error", cause)
	s.activity(dbc.Ctx, id, domainjobs.LogLevelError, "Batch failed: "+msg, map[string]interface{}{
		"error_code": apperr.Code(cause),
	})
	s.event(domainjobs.BatchStatusFailed)
	_, err = s.publish(dbc, id)
	return err
}

func (s *batchOrchestrator) Delete(dbc dbctx.Context, id uuid.UUID) error {
	b, err := s.repos.Batches.GetByID(dbc, id)
	if err != nil {
		return err
	}
	if b.Status == domainjobs.BatchStatusRunning || b.Status == domainjobs.BatchStatusPending {
		return apperr.Conflictf("Cannot delete active batch. Cancel it first.")
	}
	if err := s.repos.Batches.Delete(dbc, id); err != nil {
		return err
	}
	s.log.Info("Batch deleted", "batch_id", id, "status", b.Status)
	return nil
}

func (s *batchOrchestrator) Wake(ctx context.Context, id uuid.UUID) error {
	b, err := s.repos.Batches.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return err
	}
	if b.Status != domainjobs.BatchStatusRunning {
		return nil
	}
	return s.dispatch(ctx, id)
}

// transition applies a guarded status change. A lost race is reported with
// the status the row holds now.
func (s *batchOrchestrator) transition(dbc dbctx.Context, b *types.Batch, from []string, updates map[string]interface{}, conflictMsg string) error {
	ok, err := s.repos.Batches.TransitionStatus(dbc, b.ID, from, updates)
	if err != nil {
		return err
	}
	if !ok {
		return s.conflictNow(dbc, b.ID, conflictMsg)
	}
	return nil
}

func (s *batchOrchestrator) conflictNow(dbc dbctx.Context, id uuid.UUID, format string) error {
	cur, err := s.repos.Batches.GetByID(dbc, id)
	if err != nil {
		return err
	}
	return apperr.Conflictf(format, cur.Status)
}

// afterTransition logs, publishes and optionally dispatches. A dispatch that
// fails hands the batch back to prevStatus so the operator can try again.
func (s *batchOrchestrator) afterTransition(dbc dbctx.Context, id uuid.UUID, prevStatus, message string, dispatch bool) (*types.Batch, error) {
	s.log.Info(message, "batch_id", id, "from", prevStatus)
	s.activity(dbc.Ctx, id, domainjobs.LogLevelInfo, message, map[string]interface{}{"from": prevStatus})
	if dispatch {
		if err := s.dispatch(dbc.Ctx, id); err != nil {
			_, rbErr := s.repos.Batches.TransitionStatus(dbc, id, []string{domainjobs.BatchStatusRunning}, map[string]interface{}{
				"status": prevStatus,
			})
			if rbErr != nil {
				s.log.Error("Failed to roll back batch after dispatch error", "batch_id", id, "error", rbErr)
			}
			s.activity(dbc.Ctx, id, domainjobs.LogLevelError, "Dispatch failed: "+domainjobs.TruncateError(err.Error()), nil)
			s.event("dispatch_failed")
			return nil, err
		}
	}
	b, err := s.publish(dbc, id)
	if err != nil {
		return nil, err
	}
	s.event(b.Status)
	return b, nil
}

func (s *batchOrchestrator) event(name string) {
	if s.observer != nil {
		s.observer.BatchEvent(name)
	}
}

func (s *batchOrchestrator) dispatch(ctx context.Context, id uuid.UUID) error {
	s.mu.RLock()
	d := s.dispatcher
	s.mu.RUnlock()
	if d == nil {
		s.log.Warn("No dispatcher bound; batch will not run", "batch_id", id)
		return nil
	}
	if err := d.DispatchBatch(ctx, id); err != nil {
		return &apperr.TransientInfraError{Op: "dispatch batch", Err: err}
	}
	return nil
}

func (s *batchOrchestrator) publish(dbc dbctx.Context, id uuid.UUID) (*types.Batch, error) {
	b, err := s.repos.Batches.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	s.pub.BatchUpdate(dbc.Ctx, b)
	return b, nil
}

func (s *batchOrchestrator) activity(ctx context.Context, batchID uuid.UUID, level, message string, meta map[string]interface{}) {
	appendActivity(ctx, s.repos.Activity, s.log, repos.ActivityEntry{
		BatchID:  &batchID,
		Level:    level,
		Message:  message,
		Metadata: meta,
	})
}

func (s *batchOrchestrator) inTx(dbc dbctx.Context, fn func(txc dbctx.Context) error) error {
	if dbc.Tx != nil {
		return fn(dbc)
	}
	return dbc.Conn(s.db).Transaction(func(tx *gorm.DB) error {
		return fn(dbc.WithTx(tx))
	})
}

// appendActivity writes an audit row; failures are logged and dropped.
func appendActivity(ctx context.Context, repo repos.ActivityLogRepo, log *logger.Logger, entry repos.ActivityEntry) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := repo.Append(dbctx.Context{Ctx: ctx}, entry); err != nil {
		log.Warn("Activity log write failed", "batch_id", entry.BatchID, "job_id", entry.JobID, "error", err)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
