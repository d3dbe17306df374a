package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	temporalsdkclient "go.temporal.io/sdk/client"

	types "github.com/yungbote/podscribe-backend/internal/domain"
	domainjobs "github.com/yungbote/podscribe-backend/internal/domain/jobs"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/services"
	"github.com/yungbote/podscribe-backend/internal/temporalx"
	"github.com/yungbote/podscribe-backend/internal/temporalx/batchrun"
)

// scriptedController reports work remaining for the first `passes` runs.
type scriptedController struct {
	mu      sync.Mutex
	passes  int
	calls   int
	block   chan struct{}
	entered chan struct{}
	err     error
}

func (c *scriptedController) Run(ctx context.Context, id uuid.UUID) (*services.ReconcileResult, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	block, entered := c.block, c.entered
	c.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if c.err != nil {
		return nil, c.err
	}
	res := &services.ReconcileResult{Batch: &types.Batch{ID: id, Status: domainjobs.BatchStatusRunning}}
	if n <= c.passes {
		res.Remaining = 1
	}
	return res, nil
}

func (c *scriptedController) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func waitIdle(t *testing.T, d *Local) {
	t.Helper()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.runs) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLocalReschedulesWhileWorkRemains(t *testing.T) {
	ctrl := &scriptedController{passes: 2}
	d := NewLocal(logger.Nop(), ctrl, time.Millisecond, 2*time.Millisecond)
	defer d.Close()

	require.NoError(t, d.DispatchBatch(context.Background(), uuid.New()))
	waitIdle(t, d)
	require.Equal(t, 3, ctrl.count())
}

func TestLocalWakesExistingLoopInsteadOfStartingAnother(t *testing.T) {
	ctrl := &scriptedController{block: make(chan struct{}), entered: make(chan struct{}, 4)}
	d := NewLocal(logger.Nop(), ctrl, time.Hour, time.Hour)
	defer d.Close()
	id := uuid.New()

	require.NoError(t, d.DispatchBatch(context.Background(), id))
	<-ctrl.entered
	// Both land while the first pass is still running.
	require.NoError(t, d.DispatchBatch(context.Background(), id))
	require.NoError(t, d.DispatchBatch(context.Background(), id))
	close(ctrl.block)

	waitIdle(t, d)
	require.Equal(t, 2, ctrl.count(), "one pass for the start plus one for the coalesced wakes")
}

func TestLocalErrorsRetryUntilClose(t *testing.T) {
	ctrl := &scriptedController{err: errors.New("db down")}
	d := NewLocal(logger.Nop(), ctrl, time.Millisecond, time.Millisecond)

	require.NoError(t, d.DispatchBatch(context.Background(), uuid.New()))
	require.Eventually(t, func() bool { return ctrl.count() >= 3 }, 2*time.Second, time.Millisecond)
	d.Close()
	require.ErrorIs(t, d.DispatchBatch(context.Background(), uuid.New()), ErrClosed)
}

type fakeStarter struct {
	id     string
	signal string
	opts   temporalsdkclient.StartWorkflowOptions
	args   []interface{}
	err    error
}

func (f *fakeStarter) SignalWithStartWorkflow(_ context.Context, workflowID, signalName string, _ interface{},
	options temporalsdkclient.StartWorkflowOptions, _ interface{}, workflowArgs ...interface{}) (temporalsdkclient.WorkflowRun, error) {
	f.id, f.signal, f.opts, f.args = workflowID, signalName, options, workflowArgs
	if f.err != nil {
		return nil, f.err
	}
	return fakeRun{}, nil
}

type fakeRun struct{ temporalsdkclient.WorkflowRun }

func (fakeRun) GetRunID() string { return "run-1" }

func TestTemporalSignalsWithStart(t *testing.T) {
	starter := &fakeStarter{}
	cfg := temporalx.Config{TaskQueue: "q", ReconcileFirstDelay: 10 * time.Second, ReconcileDelay: 30 * time.Second}
	d := newTemporal(logger.Nop(), starter, cfg)
	id := uuid.New()

	require.NoError(t, d.DispatchBatch(context.Background(), id))
	require.Equal(t, batchrun.WorkflowID(id), starter.id)
	require.Equal(t, batchrun.SignalWake, starter.signal)
	require.Equal(t, "q", starter.opts.TaskQueue)
	require.Len(t, starter.args, 1)
	in := starter.args[0].(batchrun.Input)
	require.Equal(t, id.String(), in.BatchID)
	require.Equal(t, 10*time.Second, in.FirstDelay)

	starter.err = errors.New("frontend unavailable")
	require.Error(t, d.DispatchBatch(context.Background(), id))
}
