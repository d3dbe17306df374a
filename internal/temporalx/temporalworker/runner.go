package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/services"
	"github.com/yungbote/podscribe-backend/internal/temporalx"
	"github.com/yungbote/podscribe-backend/internal/temporalx/batchrun"
)

// Runner hosts the batch workflow and its controller activity.
type Runner struct {
	log  *logger.Logger
	tc   temporalsdkclient.Client
	cfg  temporalx.Config
	ctrl services.BatchController
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, cfg temporalx.Config, ctrl services.BatchController) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if ctrl == nil {
		return nil, fmt.Errorf("temporal worker missing batch controller")
	}
	return &Runner{
		log:  log.With("component", "TemporalWorker"),
		tc:   tc,
		cfg:  cfg,
		ctrl: ctrl,
	}, nil
}

// Start polls the task queue until ctx is cancelled. A worker that fails to
// start is rebuilt and retried until DialMaxWait has passed.
func (r *Runner) Start(ctx context.Context) error {
	r.log.Info("Starting Temporal worker", "address", r.cfg.Address, "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue)

	attempt := 0
	start := func() error {
		attempt++
		w := r.newWorker()
		err := w.Start()
		if err == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "task_queue", r.cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		if errors.As(err, &nfe) {
			if !r.cfg.AutoRegisterNamespace {
				return backoff.Permanent(fmt.Errorf("temporal namespace not found (namespace=%s): %w", r.cfg.Namespace, err))
			}
			if nsErr := temporalx.EnsureNamespace(ctx, r.log, r.cfg); nsErr != nil {
				r.log.Warn("Temporal namespace ensure failed", "namespace", r.cfg.Namespace, "error", nsErr)
			}
		}
		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", err)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = r.cfg.DialMaxWait
	return backoff.Retry(start, backoff.WithContext(b, ctx))
}

func (r *Runner) newWorker() worker.Worker {
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     r.cfg.WorkerConcurrency,
		MaxConcurrentWorkflowTaskExecutionSize: r.cfg.WorkerConcurrency,
	})
	acts := &batchrun.Activities{Log: r.log, Controller: r.ctrl}
	w.RegisterWorkflowWithOptions(batchrun.Workflow, workflow.RegisterOptions{Name: batchrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.RunBatch, activity.RegisterOptions{Name: batchrun.ActivityRunBatch})
	return w
}
