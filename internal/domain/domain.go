package domain

import (
	"github.com/yungbote/podscribe-backend/internal/domain/jobs"
	"github.com/yungbote/podscribe-backend/internal/domain/media"
)

type Batch = jobs.Batch
type Job = jobs.Job
type ActivityLog = jobs.ActivityLog

type Channel = media.Channel
type Episode = media.Episode
type Utterance = media.Utterance
type Chunk = media.Chunk

// AllModels lists every persisted model in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&Channel{},
		&Episode{},
		&Utterance{},
		&Chunk{},
		&Batch{},
		&Job{},
		&ActivityLog{},
	}
}
