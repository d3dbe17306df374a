package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/services"
)

var ErrClosed = errors.New("dispatch: dispatcher closed")

// Local runs controller passes on goroutines in this process. At most one
// loop exists per batch; dispatching a batch whose loop is alive wakes it
// instead of starting another.
type Local struct {
	log        *logger.Logger
	ctrl       services.BatchController
	firstDelay time.Duration
	delay      time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	runs   map[uuid.UUID]chan struct{}
}

func NewLocal(baseLog *logger.Logger, ctrl services.BatchController, firstDelay, delay time.Duration) *Local {
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		log:        baseLog.With("component", "LocalDispatcher"),
		ctrl:       ctrl,
		firstDelay: firstDelay,
		delay:      delay,
		ctx:        ctx,
		cancel:     cancel,
		runs:       map[uuid.UUID]chan struct{}{},
	}
}

func (d *Local) DispatchBatch(_ context.Context, batchID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if wake, ok := d.runs[batchID]; ok {
		select {
		case wake <- struct{}{}:
		default:
		}
		return nil
	}
	wake := make(chan struct{}, 1)
	d.runs[batchID] = wake
	d.wg.Add(1)
	go d.loop(batchID, wake)
	return nil
}

// Close stops every loop after its current pass and waits for them.
func (d *Local) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

func (d *Local) loop(batchID uuid.UUID, wake chan struct{}) {
	defer d.wg.Done()
	delay := d.firstDelay
	for {
		drain(wake)
		needsRun := d.pass(batchID)

		if !needsRun && !d.release(batchID, wake) {
			return
		}
		if drain(wake) {
			delay = d.firstDelay
			continue
		}

		d.log.Debug("Batch has work left; scheduling another pass", "batch_id", batchID, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-d.ctx.Done():
			timer.Stop()
			d.forget(batchID)
			return
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
		delay = d.delay
	}
}

// pass runs the controller once. Errors and panics are logged and treated as
// work remaining; a later pass sees a batch that stopped running and exits.
func (d *Local) pass(batchID uuid.UUID) (needsRun bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Batch pass panic", "batch_id", batchID, "panic", r)
			needsRun = true
		}
	}()
	if d.ctx.Err() != nil {
		return false
	}
	res, err := d.ctrl.Run(d.ctx, batchID)
	if err != nil {
		d.log.Warn("Batch pass failed", "batch_id", batchID, "error", err)
		return d.ctx.Err() == nil
	}
	return res != nil && res.NeedsRun()
}

// release drops the loop's registration unless a wake arrived since the
// last pass, in which case the loop keeps going.
func (d *Local) release(batchID uuid.UUID, wake chan struct{}) (keep bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-wake:
		if !d.closed {
			// Put it back for the caller's drain.
			wake <- struct{}{}
			return true
		}
	default:
	}
	delete(d.runs, batchID)
	return false
}

func (d *Local) forget(batchID uuid.UUID) {
	d.mu.Lock()
	delete(d.runs, batchID)
	d.mu.Unlock()
}

func drain(ch chan struct{}) bool {
	got := false
	for {
		select {
		case <-ch:
			got = true
		default:
			return got
		}
	}
}
