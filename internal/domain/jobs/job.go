package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	JobStatusPending      = "pending"
	JobStatusDownloading  = "downloading"
	JobStatusUploading    = "uploading"
	JobStatusTranscribing = "transcribing"
	JobStatusLabeling     = "labeling"
	JobStatusChunking     = "chunking"
	JobStatusEmbedding    = "embedding"
	JobStatusDone         = "done"
	JobStatusFailed       = "failed"
	JobStatusCancelled    = "cancelled"
	JobStatusPaused       = "paused"
	JobStatusSkipped      = "skipped"
)

// MaxJobRetries bounds automatic re-queues of a failed job.
const MaxJobRetries = 3

const MaxErrorMessageLen = 500

// ActiveJobStatuses are the in-pipeline stages.
var ActiveJobStatuses = []string{
	JobStatusDownloading,
	JobStatusUploading,
	JobStatusTranscribing,
	JobStatusLabeling,
	JobStatusChunking,
	JobStatusEmbedding,
}

// EarlyJobStatuses are cancelled outright when their batch is cancelled;
// later stages have passed an expensive checkpoint and are left to finish.
var EarlyJobStatuses = []string{
	JobStatusPending,
	JobStatusDownloading,
	JobStatusUploading,
}

// RetryableJobStatuses are re-queued by a batch retry.
var RetryableJobStatuses = []string{
	JobStatusFailed,
	JobStatusCancelled,
}

type Job struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID       *uuid.UUID `gorm:"type:uuid;column:batch_id;index;uniqueIndex:uq_jobs_batch_episode" json:"batch_id,omitempty"`
	EpisodeID     uuid.UUID  `gorm:"type:uuid;column:episode_id;not null;index;uniqueIndex:uq_jobs_batch_episode" json:"episode_id"`
	Provider      string     `gorm:"column:provider;not null" json:"provider"`
	ProviderJobID *string    `gorm:"column:provider_job_id" json:"provider_job_id,omitempty"`
	Status        string     `gorm:"column:status;not null;index" json:"status"`
	Progress      int        `gorm:"column:progress;not null;default:0" json:"progress"`
	CurrentStep   *string    `gorm:"column:current_step" json:"current_step,omitempty"`
	ErrorMessage  *string    `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	ErrorCode     *string    `gorm:"column:error_code" json:"error_code,omitempty"`
	RetryCount    int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	CostCents     *int       `gorm:"column:cost_cents" json:"cost_cents,omitempty"`
	StartedAt     *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	return nil
}

func IsActiveJobStatus(status string) bool {
	for _, s := range ActiveJobStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// TruncateError clips msg to MaxErrorMessageLen bytes without splitting a rune.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	cut := MaxErrorMessageLen
	for cut > 0 && !isRuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
