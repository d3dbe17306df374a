package media

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Episode status mirrors its job's progress so other readers can filter
// without joining the scheduling tables.
const (
	EpisodeStatusPending    = "pending"
	EpisodeStatusQueued     = "queued"
	EpisodeStatusProcessing = "processing"
	EpisodeStatusDone       = "done"
	EpisodeStatusFailed     = "failed"
	EpisodeStatusSkipped    = "skipped"
)

type Episode struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ChannelID       uuid.UUID      `gorm:"type:uuid;column:channel_id;not null;index" json:"channel_id"`
	YoutubeID       string         `gorm:"column:youtube_id;not null;uniqueIndex" json:"youtube_id"`
	Title           string         `gorm:"column:title;not null" json:"title"`
	Description     *string        `gorm:"column:description;type:text" json:"description,omitempty"`
	URL             string         `gorm:"column:url;not null" json:"url"`
	PublishedAt     *time.Time     `gorm:"column:published_at;index" json:"published_at,omitempty"`
	DurationSeconds *int           `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	TranscriptRaw   datatypes.JSON `gorm:"column:transcript_raw;type:jsonb" json:"-"`
	WordCount       *int           `gorm:"column:word_count" json:"word_count,omitempty"`
	ProcessedAt     *time.Time     `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
}

func (Episode) TableName() string { return "episodes" }

func (e *Episode) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = EpisodeStatusPending
	}
	if e.URL == "" && e.YoutubeID != "" {
		e.URL = "https://www.youtube.com/watch?v=" + e.YoutubeID
	}
	return nil
}
