package batchrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	continuePassLimit    = 500
	continueHistoryLimit = 10000
)

// Workflow drives controller passes for one batch until a pass reports
// nothing left to do. Between passes it waits FirstDelay, then Delay; a wake
// signal cuts the wait short.
func Workflow(ctx workflow.Context, in Input) error {
	if strings.TrimSpace(in.BatchID) == "" {
		return fmt.Errorf("batchrun: missing batch_id")
	}
	if in.FirstDelay <= 0 {
		in.FirstDelay = 10 * time.Second
	}
	if in.Delay <= 0 {
		in.Delay = 30 * time.Second
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    5,
		},
	})
	log := workflow.GetLogger(ctx)
	wake := workflow.GetSignalChannel(ctx, SignalWake)

	delay := in.FirstDelay
	for passes := 1; ; passes++ {
		// Signals already received are served by the pass about to start.
		drain(wake)

		var out PassResult
		if err := workflow.ExecuteActivity(ctx, ActivityRunBatch, in.BatchID).Get(ctx, &out); err != nil {
			return err
		}
		woken := drain(wake)
		if !out.NeedsRun && !woken {
			log.Info("Batch run finished", "batch_id", in.BatchID, "status", out.Status, "passes", passes)
			return nil
		}

		if woken {
			delay = in.FirstDelay
		} else {
			log.Info("Batch has work left; scheduling another pass", "batch_id", in.BatchID, "remaining", out.Remaining, "delay", delay)
			waitOrWake(ctx, wake, delay)
			delay = in.Delay
		}

		if shouldContinueAsNew(ctx, passes) {
			return workflow.NewContinueAsNewError(ctx, Workflow, in)
		}
	}
}

// drain empties the wake channel and reports whether anything was in it.
func drain(ch workflow.ReceiveChannel) bool {
	got := false
	for {
		var v interface{}
		if !ch.ReceiveAsync(&v) {
			return got
		}
		got = true
	}
}

func waitOrWake(ctx workflow.Context, ch workflow.ReceiveChannel, d time.Duration) {
	timerCtx, cancel := workflow.WithCancel(ctx)
	defer cancel()
	timer := workflow.NewTimer(timerCtx, d)
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		var v interface{}
		c.Receive(ctx, &v)
	})
	sel.AddFuture(timer, func(workflow.Future) {})
	sel.Select(ctx)
}

func shouldContinueAsNew(ctx workflow.Context, passes int) bool {
	if passes >= continuePassLimit {
		return true
	}
	info := workflow.GetInfo(ctx)
	return info != nil && info.GetCurrentHistoryLength() >= continueHistoryLimit
}
