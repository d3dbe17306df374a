package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/temporalx"
	"github.com/yungbote/podscribe-backend/internal/temporalx/batchrun"
)

// workflowStarter is the slice of the Temporal client the dispatcher needs.
type workflowStarter interface {
	SignalWithStartWorkflow(ctx context.Context, workflowID string, signalName string, signalArg interface{},
		options temporalsdkclient.StartWorkflowOptions, workflow interface{}, workflowArgs ...interface{}) (temporalsdkclient.WorkflowRun, error)
}

// Temporal hands each batch to a durable batch_run workflow. A batch with a
// workflow already running gets a wake signal instead of a second run.
type Temporal struct {
	log *logger.Logger
	tc  workflowStarter
	cfg temporalx.Config
}

func NewTemporal(baseLog *logger.Logger, tc temporalsdkclient.Client, cfg temporalx.Config) *Temporal {
	return newTemporal(baseLog, tc, cfg)
}

func newTemporal(baseLog *logger.Logger, tc workflowStarter, cfg temporalx.Config) *Temporal {
	return &Temporal{
		log: baseLog.With("component", "TemporalDispatcher"),
		tc:  tc,
		cfg: cfg,
	}
}

func (d *Temporal) DispatchBatch(ctx context.Context, batchID uuid.UUID) error {
	id := batchrun.WorkflowID(batchID)
	run, err := d.tc.SignalWithStartWorkflow(ctx, id, batchrun.SignalWake, nil,
		temporalsdkclient.StartWorkflowOptions{
			ID:                    id,
			TaskQueue:             d.cfg.TaskQueue,
			WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		},
		batchrun.WorkflowName,
		batchrun.Input{
			BatchID:    batchID.String(),
			FirstDelay: d.cfg.ReconcileFirstDelay,
			Delay:      d.cfg.ReconcileDelay,
		},
	)
	if err != nil {
		return fmt.Errorf("signal-with-start %s: %w", id, err)
	}
	d.log.Debug("Batch dispatched", "batch_id", batchID, "workflow_id", id, "run_id", run.GetRunID())
	return nil
}

func (d *Temporal) Close() {}
