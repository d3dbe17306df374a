package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/podscribe-backend/internal/data/repos/jobs"
	"github.com/yungbote/podscribe-backend/internal/data/repos/media"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

type BatchRepo = jobs.BatchRepo
type JobRepo = jobs.JobRepo
type ActivityLogRepo = jobs.ActivityLogRepo

type ChannelRepo = media.ChannelRepo
type EpisodeRepo = media.EpisodeRepo
type UtteranceRepo = media.UtteranceRepo
type ChunkRepo = media.ChunkRepo

type BatchFilter = jobs.BatchFilter
type JobFilter = jobs.JobFilter
type ActivityEntry = jobs.ActivityEntry
type Outcome = jobs.Outcome

const (
	OutcomeCompleted = jobs.OutcomeCompleted
	OutcomeFailed    = jobs.OutcomeFailed
)

// Set bundles every repository the services need.
type Set struct {
	Batches    BatchRepo
	Jobs       JobRepo
	Activity   ActivityLogRepo
	Channels   ChannelRepo
	Episodes   EpisodeRepo
	Utterances UtteranceRepo
	Chunks     ChunkRepo
}

func NewSet(db *gorm.DB, log *logger.Logger) Set {
	return Set{
		Batches:    jobs.NewBatchRepo(db, log),
		Jobs:       jobs.NewJobRepo(db, log),
		Activity:   jobs.NewActivityLogRepo(db, log),
		Channels:   media.NewChannelRepo(db, log),
		Episodes:   media.NewEpisodeRepo(db, log),
		Utterances: media.NewUtteranceRepo(db, log),
		Chunks:     media.NewChunkRepo(db, log),
	}
}
