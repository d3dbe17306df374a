package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/podscribe-backend/internal/clients/transcription"
	"github.com/yungbote/podscribe-backend/internal/data/repos"
	"github.com/yungbote/podscribe-backend/internal/data/repos/testutil"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	domainjobs "github.com/yungbote/podscribe-backend/internal/domain/jobs"
	"github.com/yungbote/podscribe-backend/internal/pipeline"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/realtime"
)

type memSink struct {
	mu   sync.Mutex
	msgs []realtime.Message
}

func (s *memSink) Publish(_ context.Context, msg realtime.Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	return nil
}

func (s *memSink) count(event, channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.Event == event && m.Channel == channel {
			n++
		}
	}
	return n
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (d *recordingDispatcher) DispatchBatch(_ context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, id)
	return nil
}

func (d *recordingDispatcher) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}

// inlineDispatcher runs the controller on a goroutine per dispatch; wait
// blocks until every run has returned.
type inlineDispatcher struct {
	ctrl BatchController
	wg   sync.WaitGroup
}

func (d *inlineDispatcher) DispatchBatch(_ context.Context, id uuid.UUID) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_, _ = d.ctrl.Run(context.Background(), id)
	}()
	return nil
}

// fakeRunner walks a job pending -> downloading -> transcribing -> done with
// the same guarded updates the executor uses.
type fakeRunner struct {
	db      *gorm.DB
	delay   time.Duration
	failing map[uuid.UUID]bool
	inStage func(jobID uuid.UUID)

	mu     sync.Mutex
	active int
	peak   int
	calls  map[uuid.UUID]int
}

func newFakeRunner(db *gorm.DB) *fakeRunner {
	return &fakeRunner{db: db, failing: map[uuid.UUID]bool{}, calls: map[uuid.UUID]int{}}
}

func (r *fakeRunner) Run(ctx context.Context, jobID uuid.UUID) error {
	r.mu.Lock()
	r.active++
	if r.active > r.peak {
		r.peak = r.active
	}
	r.calls[jobID]++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	now := time.Now().UTC()
	if !r.move(ctx, jobID, domainjobs.JobStatusPending, map[string]interface{}{"status": domainjobs.JobStatusDownloading, "started_at": now}) {
		return fmt.Errorf("%w: not pending", pipeline.ErrInterrupted)
	}
	if !r.move(ctx, jobID, domainjobs.JobStatusDownloading, map[string]interface{}{"status": domainjobs.JobStatusTranscribing}) {
		return fmt.Errorf("%w: left downloading", pipeline.ErrInterrupted)
	}
	if r.inStage != nil {
		r.inStage(jobID)
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.failing[jobID] {
		r.move(ctx, jobID, domainjobs.JobStatusTranscribing, map[string]interface{}{
			"status":        domainjobs.JobStatusFailed,
			"error_message": "boom",
			"error_code":    "provider_error",
			"completed_at":  time.Now().UTC(),
		})
		return &apperr.ProviderError{Provider: "fake", Err: errors.New("boom")}
	}
	if !r.move(ctx, jobID, domainjobs.JobStatusTranscribing, map[string]interface{}{
		"status":       domainjobs.JobStatusDone,
		"progress":     100,
		"cost_cents":   10,
		"completed_at": time.Now().UTC(),
	}) {
		return fmt.Errorf("%w: left transcribing", pipeline.ErrInterrupted)
	}
	return nil
}

func (r *fakeRunner) move(ctx context.Context, id uuid.UUID, from string, updates map[string]interface{}) bool {
	res := r.db.WithContext(ctx).Model(&types.Job{}).Where("id = ? AND status = ?", id, from).Updates(updates)
	return res.Error == nil && res.RowsAffected > 0
}

func (r *fakeRunner) stats() (peak, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.calls {
		total += n
	}
	return r.peak, total
}

func (r *fakeRunner) callsFor(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

type stubProvider struct {
	name string
	caps transcription.Capabilities
}

func (p stubProvider) Name() string                               { return p.name }
func (p stubProvider) Capabilities() transcription.Capabilities { return p.caps }

func (p stubProvider) Submit(context.Context, transcription.AudioSource, int, string) (string, error) {
	return "", errors.New("not used")
}

func (p stubProvider) Poll(context.Context, string) (*transcription.TranscriptResult, error) {
	return nil, errors.New("not used")
}

type stubLookup struct{ p transcription.Provider }

func (l stubLookup) Get(_ context.Context, name string) (transcription.Provider, error) {
	if name != l.p.Name() {
		return nil, fmt.Errorf("Unknown transcription provider: %s", name)
	}
	return l.p, nil
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	db     *gorm.DB
	repos  repos.Set
	sink   *memSink
	pub    *realtime.Publisher
	orch   BatchOrchestrator
	disp   *recordingDispatcher
	events *eventRecorder
}

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) BatchEvent(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	rs := repos.NewSet(db, log)
	sink := &memSink{}
	pub := realtime.NewPublisher(sink, log, nil)
	events := &eventRecorder{}
	orch := NewBatchOrchestrator(db, log, rs, pub, events)
	disp := &recordingDispatcher{}
	orch.SetDispatcher(disp)
	return &harness{
		t:      t,
		ctx:    context.Background(),
		db:     db,
		repos:  rs,
		sink:   sink,
		pub:    pub,
		orch:   orch,
		disp:   disp,
		events: events,
	}
}

func (h *harness) dbc() dbctx.Context { return dbctx.Context{Ctx: h.ctx} }

func (h *harness) controller(runner JobRunner, poolSize int) BatchController {
	return h.controllerWith(runner, ControllerConfig{PoolSize: poolSize})
}

func (h *harness) controllerWith(runner JobRunner, cfg ControllerConfig) BatchController {
	if cfg.RetryBackoff == nil {
		cfg.RetryBackoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	}
	return NewBatchController(h.db, testutil.Logger(h.t), h.repos, h.pub, h.orch, runner, nil, cfg)
}

// stamp writes columns directly, bypassing the automatic updated_at.
func (h *harness) stamp(id uuid.UUID, cols map[string]interface{}) {
	h.t.Helper()
	if err := h.db.Model(&types.Job{}).Where("id = ?", id).UpdateColumns(cols).Error; err != nil {
		h.t.Fatalf("stamp job: %v", err)
	}
}

func (h *harness) batch(id uuid.UUID) *types.Batch {
	h.t.Helper()
	b, err := h.repos.Batches.GetByID(h.dbc(), id)
	if err != nil {
		h.t.Fatalf("load batch: %v", err)
	}
	return b
}

func (h *harness) job(id uuid.UUID) *types.Job {
	h.t.Helper()
	j, err := h.repos.Jobs.GetByID(h.dbc(), id)
	if err != nil {
		h.t.Fatalf("load job: %v", err)
	}
	return j
}

func (h *harness) episode(id uuid.UUID) *types.Episode {
	h.t.Helper()
	e, err := h.repos.Episodes.GetByID(h.dbc(), id)
	if err != nil {
		h.t.Fatalf("load episode: %v", err)
	}
	return e
}

func (h *harness) setJob(id uuid.UUID, updates map[string]interface{}) {
	h.t.Helper()
	if err := h.db.Model(&types.Job{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		h.t.Fatalf("update job: %v", err)
	}
}

func (h *harness) setBatch(id uuid.UUID, updates map[string]interface{}) {
	h.t.Helper()
	if err := h.db.Model(&types.Batch{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		h.t.Fatalf("update batch: %v", err)
	}
}

func wantConflict(t *testing.T, err error, msg string) {
	t.Helper()
	if !apperr.IsConflict(err) {
		t.Fatalf("expected ConflictError %q, got %v", msg, err)
	}
	if err.Error() != msg {
		t.Fatalf("conflict message = %q, want %q", err.Error(), msg)
	}
}
