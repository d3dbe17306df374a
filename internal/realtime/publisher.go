package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/podscribe-backend/internal/domain"
	"github.com/yungbote/podscribe-backend/internal/pkg/pointers"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

// Sink is where published messages go: a shared bus or the local hub.
type Sink interface {
	Publish(ctx context.Context, msg Message) error
}

// PublishObserver is told about every publish attempt.
type PublishObserver interface {
	ObservePublish(event string, err error)
}

// Publisher emits job and batch updates to job:<id>, batch:<id> and the
// global channel. Failures are logged and swallowed.
type Publisher struct {
	sink     Sink
	log      *logger.Logger
	observer PublishObserver
	now      func() time.Time
}

func NewPublisher(sink Sink, log *logger.Logger, observer PublishObserver) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{
		sink:     sink,
		log:      log.With("service", "Publisher"),
		observer: observer,
		now:      time.Now,
	}
}

func (p *Publisher) JobUpdate(ctx context.Context, job *domain.Job) {
	if p == nil || job == nil {
		return
	}
	u := JobUpdate{
		Type:         EventJobUpdate,
		JobID:        job.ID.String(),
		EpisodeID:    job.EpisodeID.String(),
		Status:       job.Status,
		Progress:     job.Progress,
		CurrentStep:  pointers.Deref(job.CurrentStep),
		ErrorMessage: job.ErrorMessage,
		Timestamp:    timestamp(p.now()),
	}
	channels := []string{JobChannel(job.ID)}
	if job.BatchID != nil && *job.BatchID != uuid.Nil {
		u.BatchID = job.BatchID.String()
		channels = append(channels, BatchChannel(*job.BatchID))
	}
	channels = append(channels, GlobalChannel)
	p.fanout(ctx, EventJobUpdate, u, channels)
}

func (p *Publisher) BatchUpdate(ctx context.Context, batch *domain.Batch) {
	if p == nil || batch == nil {
		return
	}
	u := BatchUpdate{
		Type:              EventBatchUpdate,
		BatchID:           batch.ID.String(),
		Status:            batch.Status,
		CompletedEpisodes: batch.CompletedEpisodes,
		FailedEpisodes:    batch.FailedEpisodes,
		TotalEpisodes:     batch.TotalEpisodes,
		ProgressPercent:   batch.ProgressPercent(),
		Timestamp:         timestamp(p.now()),
	}
	p.fanout(ctx, EventBatchUpdate, u, []string{BatchChannel(batch.ID), GlobalChannel})
}

func (p *Publisher) fanout(ctx context.Context, event string, data any, channels []string) {
	if p.sink == nil {
		return
	}
	for _, ch := range channels {
		err := p.sink.Publish(ctx, Message{Channel: ch, Event: event, Data: data})
		if err != nil {
			p.log.Warn("Publish failed", "channel", ch, "event", event, "error", err)
		}
		if p.observer != nil {
			p.observer.ObservePublish(event, err)
		}
	}
}
