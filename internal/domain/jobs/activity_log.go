package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// ActivityLog is an append-only operator audit trail. Rows only disappear via
// cascade from their batch or job.
type ActivityLog struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	BatchID   *uuid.UUID     `gorm:"type:uuid;column:batch_id;index" json:"batch_id,omitempty"`
	JobID     *uuid.UUID     `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`
	EpisodeID *uuid.UUID     `gorm:"type:uuid;column:episode_id" json:"episode_id,omitempty"`
	Level     string         `gorm:"column:level;not null" json:"level"`
	Message   string         `gorm:"column:message;type:text;not null" json:"message"`
	Metadata  datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
}

func (ActivityLog) TableName() string { return "activity_log" }
