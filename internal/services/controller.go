package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/yungbote/podscribe-backend/internal/data/repos"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	domainjobs "github.com/yungbote/podscribe-backend/internal/domain/jobs"
	"github.com/yungbote/podscribe-backend/internal/domain/media"
	"github.com/yungbote/podscribe-backend/internal/pipeline"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/realtime"
	"github.com/yungbote/podscribe-backend/internal/resilience"
)

// JobRunner executes one pending job end to end.
type JobRunner interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

// JobObserver is told when a job attempt starts and how it ended.
type JobObserver interface {
	JobStarted(provider string)
	JobFinished(provider, outcome string, dur time.Duration)
}

type ControllerConfig struct {
	// PoolSize is the number of database connections reserved for job
	// execution; a batch never runs more jobs at once than this.
	PoolSize int
	// RetryBackoff builds the delay schedule between automatic re-attempts of
	// a failed job. Nil uses 1s doubling to 30s with 10% jitter.
	RetryBackoff func() backoff.BackOff
	// Counter bounds the retries of a batch counter increment.
	Counter resilience.Policy
	// StaleAfter is how long an in-pipeline job may go without an update
	// before a pass treats its worker as gone. Zero uses two hours.
	StaleAfter time.Duration
	// Providers, when set, caps a batch at its provider's
	// MaxConcurrentJobs.
	Providers ProviderLookup
}

type BatchController interface {
	// Run executes the batch's pending jobs with bounded parallelism and
	// reconciles the batch afterwards.
	Run(ctx context.Context, batchID uuid.UUID) (*ReconcileResult, error)
}

type batchController struct {
	db       *gorm.DB
	log      *logger.Logger
	repos    repos.Set
	pub      *realtime.Publisher
	orch     BatchOrchestrator
	runner   JobRunner
	observer JobObserver
	cfg      ControllerConfig
}

func NewBatchController(
	db *gorm.DB,
	baseLog *logger.Logger,
	rs repos.Set,
	pub *realtime.Publisher,
	orch BatchOrchestrator,
	runner JobRunner,
	observer JobObserver,
	cfg ControllerConfig,
) BatchController {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if cfg.RetryBackoff == nil {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.Counter.MaxRetries == 0 && cfg.Counter.Initial == 0 {
		cfg.Counter = resilience.DefaultPolicy()
		cfg.Counter.Initial = 100 * time.Millisecond
		cfg.Counter.Max = 2 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Hour
	}
	return &batchController{
		db:       db,
		log:      baseLog.With("service", "BatchController"),
		repos:    rs,
		pub:      pub,
		orch:     orch,
		runner:   runner,
		observer: observer,
		cfg:      cfg,
	}
}

func defaultRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (c *batchController) Run(ctx context.Context, batchID uuid.UUID) (*ReconcileResult, error) {
	dbc := dbctx.Context{Ctx: ctx}
	b, err := c.repos.Batches.GetByID(dbc, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status != domainjobs.BatchStatusRunning {
		c.log.Info("Batch is not running", "batch_id", batchID, "status", b.Status)
		return &ReconcileResult{Batch: b}, nil
	}

	c.reclaimStale(ctx, b)

	pending, err := c.repos.Jobs.ListByBatch(dbc, batchID, domainjobs.JobStatusPending)
	if err != nil {
		if ctx.Err() == nil {
			if ferr := c.orch.Fail(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, batchID, err); ferr != nil {
				c.log.Error("Failed to mark batch failed", "batch_id", batchID, "error", ferr)
			}
		}
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}

	limit := c.concurrency(ctx, b)
	c.log.Info("Batch run",
		"batch_id", batchID,
		"pending", len(pending),
		"concurrency", limit,
	)

	var (
		sem     = semaphore.NewWeighted(int64(limit))
		g       errgroup.Group
		stopped atomic.Bool
	)
	for _, job := range pending {
		if stopped.Load() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if stopped.Load() {
				return nil
			}
			if !c.attempt(ctx, b, job) {
				stopped.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	return c.orch.Reconcile(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, batchID)
}

// concurrency is the batch's own limit clamped to the reserved pool and to
// what its provider can take at once.
func (c *batchController) concurrency(ctx context.Context, b *types.Batch) int {
	limit := b.Concurrency
	if limit <= 0 || limit > c.cfg.PoolSize {
		limit = c.cfg.PoolSize
	}
	if c.cfg.Providers == nil {
		return limit
	}
	p, err := c.cfg.Providers.Get(ctx, b.Provider)
	if err != nil {
		c.log.Warn("Provider lookup failed; using batch concurrency", "batch_id", b.ID, "provider", b.Provider, "error", err)
		return limit
	}
	if ceiling := p.Capabilities().MaxConcurrentJobs; ceiling > 0 && limit > ceiling {
		limit = ceiling
	}
	return limit
}

// reclaimStale hands back jobs whose worker died mid-pipeline. A job with
// automatic retries left goes back to pending for this pass; one without is
// failed as a timeout so the batch can still finish.
func (c *batchController) reclaimStale(ctx context.Context, b *types.Batch) {
	dbc := dbctx.Context{Ctx: ctx}
	cutoff := time.Now().UTC().Add(-c.cfg.StaleAfter)
	stale, err := c.repos.Jobs.ListStale(dbc, b.ID, cutoff)
	if err != nil {
		c.log.Warn("Stale job scan failed", "batch_id", b.ID, "error", err)
		return
	}
	for _, job := range stale {
		since := time.Since(job.UpdatedAt).Round(time.Second)
		exhausted := job.RetryCount >= domainjobs.MaxJobRetries
		updates := map[string]interface{}{
			"status":          domainjobs.JobStatusPending,
			"retry_count":     gorm.Expr("retry_count + 1"),
			"progress":        0,
			"current_step":    nil,
			"provider_job_id": nil,
			"started_at":      nil,
		}
		if exhausted {
			updates = map[string]interface{}{
				"status":        domainjobs.JobStatusFailed,
				"error_message": fmt.Sprintf("Job stalled in %s with no progress for %s", job.Status, since),
				"error_code":    "timeout",
				"completed_at":  time.Now().UTC(),
			}
		}
		ok, err := c.repos.Jobs.ReclaimStale(dbc, job.ID, cutoff, updates)
		if err != nil {
			c.log.Warn("Stale job reclaim failed", "job_id", job.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		level, msg, episodeStatus := domainjobs.LogLevelWarn, "Job reclaimed after stalling in "+job.Status, media.EpisodeStatusQueued
		if exhausted {
			level, msg, episodeStatus = domainjobs.LogLevelError, "Job failed after stalling in "+job.Status, media.EpisodeStatusFailed
		}
		if err := c.repos.Episodes.SetStatus(dbc, []uuid.UUID{job.EpisodeID}, episodeStatus); err != nil {
			c.log.Warn("Episode status update failed", "episode_id", job.EpisodeID, "error", err)
		}
		c.log.Warn(msg, "batch_id", b.ID, "job_id", job.ID, "idle", since.String(), "retry_count", job.RetryCount)
		jobID, episodeID := job.ID, job.EpisodeID
		appendActivity(ctx, c.repos.Activity, c.log, repos.ActivityEntry{
			BatchID:   &b.ID,
			JobID:     &jobID,
			EpisodeID: &episodeID,
			Level:     level,
			Message:   msg,
			Metadata:  map[string]interface{}{"idle_ms": since.Milliseconds(), "retry_count": job.RetryCount},
		})
		if fresh, err := c.repos.Jobs.GetByID(dbc, job.ID); err == nil {
			c.pub.JobUpdate(ctx, fresh)
		}
		if exhausted {
			c.record(ctx, b.ID, repos.OutcomeFailed)
		}
	}
}

// attempt runs job until it succeeds, fails for good, or is interrupted,
// re-queueing it up to MaxJobRetries times. It returns false when the batch
// is no longer running so the caller stops taking new jobs.
func (c *batchController) attempt(ctx context.Context, b *types.Batch, job *types.Job) bool {
	bo := c.cfg.RetryBackoff()
	for {
		running, err := c.batchRunning(ctx, b.ID)
		if err != nil {
			c.log.Warn("Batch status check failed", "batch_id", b.ID, "job_id", job.ID, "error", err)
			return ctx.Err() == nil
		}
		if !running {
			return false
		}

		start := time.Now()
		if c.observer != nil {
			c.observer.JobStarted(job.Provider)
		}
		err = c.runner.Run(ctx, job.ID)
		switch {
		case err == nil:
			c.observe(job.Provider, "done", start)
			c.record(ctx, b.ID, repos.OutcomeCompleted)
			return true
		case errors.Is(err, pipeline.ErrInterrupted):
			c.observe(job.Provider, "interrupted", start)
			return true
		}
		c.observe(job.Provider, "failed", start)
		if ctx.Err() != nil {
			return false
		}

		claimed, cerr := c.repos.Jobs.ClaimAutoRetry(dbctx.Context{Ctx: ctx}, job.ID, domainjobs.MaxJobRetries)
		if cerr != nil {
			c.log.Error("Auto-retry claim failed", "job_id", job.ID, "error", cerr)
		}
		if !claimed {
			c.record(ctx, b.ID, repos.OutcomeFailed)
			return true
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			wait = 0
		}
		c.log.Warn("Job failed; retrying", "job_id", job.ID, "sleep", wait.String(), "error", err)
		jobID, episodeID := job.ID, job.EpisodeID
		appendActivity(ctx, c.repos.Activity, c.log, repos.ActivityEntry{
			BatchID:   &b.ID,
			JobID:     &jobID,
			EpisodeID: &episodeID,
			Level:     domainjobs.LogLevelWarn,
			Message:   "Retrying after failure: " + domainjobs.TruncateError(err.Error()),
			Metadata:  map[string]interface{}{"error_code": apperr.Code(err), "delay_ms": wait.Milliseconds()},
		})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// batchRunning reads the batch status under a row lock in its own short
// transaction. A row held by a concurrent pause or cancel reads as not
// running and the job stays pending for the next pass.
func (c *batchController) batchRunning(ctx context.Context, batchID uuid.UUID) (bool, error) {
	var (
		status string
		found  bool
	)
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		status, found, err = c.repos.Batches.LockStatus(dbctx.Context{Ctx: ctx, Tx: tx}, batchID)
		return err
	})
	if err != nil {
		return false, err
	}
	return found && status == domainjobs.BatchStatusRunning, nil
}

// record bumps the batch counter for a finished job and publishes the batch.
// It outlives ctx so shutdown never loses a finished job's count.
func (c *batchController) record(ctx context.Context, batchID uuid.UUID, outcome repos.Outcome) {
	ctx = context.WithoutCancel(ctx)
	dbc := dbctx.Context{Ctx: ctx}
	var applied bool
	err := resilience.Retry(ctx, c.cfg.Counter, func(ctx context.Context) error {
		ok, err := c.repos.Batches.IncrementCounter(dbctx.Context{Ctx: ctx}, batchID, outcome)
		if err != nil {
			return &apperr.TransientInfraError{Op: "increment batch counter", Err: err}
		}
		applied = ok
		return nil
	})
	if err != nil {
		c.log.Error("Batch counter update failed", "batch_id", batchID, "error", err)
		return
	}
	if !applied {
		c.log.Debug("Batch counter already at total", "batch_id", batchID)
	}
	b, err := c.repos.Batches.GetByID(dbc, batchID)
	if err != nil {
		c.log.Warn("Batch reload failed", "batch_id", batchID, "error", err)
		return
	}
	c.pub.BatchUpdate(ctx, b)
}

func (c *batchController) observe(provider, outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.JobFinished(provider, outcome, time.Since(start))
	}
}
