package batchrun

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/services"
)

type Activities struct {
	Log        *logger.Logger
	Controller services.BatchController
	// HeartbeatEvery defaults to 10s.
	HeartbeatEvery time.Duration
}

// RunBatch runs one controller pass for the batch.
func (a *Activities) RunBatch(ctx context.Context, batchID string) (PassResult, error) {
	out := PassResult{BatchID: batchID}
	id, err := uuid.Parse(batchID)
	if err != nil || id == uuid.Nil {
		return out, temporal.NewNonRetryableApplicationError("invalid batch_id", "invalid_argument", err)
	}
	if a == nil || a.Controller == nil {
		return out, fmt.Errorf("batchrun: activity not configured")
	}

	stop := a.startHeartbeat(ctx)
	defer stop()

	res, err := a.Controller.Run(ctx, id)
	if err != nil {
		return out, err
	}
	if res != nil && res.Batch != nil {
		out.Status = res.Batch.Status
		out.Remaining = res.Remaining
		out.NeedsRun = res.NeedsRun()
	}
	a.Log.Debug("Batch pass complete", "batch_id", batchID, "status", out.Status, "remaining", out.Remaining)
	return out, nil
}

func (a *Activities) startHeartbeat(ctx context.Context) func() {
	every := a.HeartbeatEvery
	if every <= 0 {
		every = 10 * time.Second
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
