package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	BatchStatusPending   = "pending"
	BatchStatusRunning   = "running"
	BatchStatusPaused    = "paused"
	BatchStatusCompleted = "completed"
	BatchStatusCancelled = "cancelled"
	BatchStatusFailed    = "failed"
)

const (
	DefaultBatchConcurrency = 10
	MinBatchConcurrency     = 1
	MaxBatchConcurrency     = 100
)

// Batch groups the jobs scheduled under one provider and concurrency setting.
// completed_episodes + failed_episodes never exceeds total_episodes.
type Batch struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ChannelID          *uuid.UUID     `gorm:"type:uuid;column:channel_id;index" json:"channel_id,omitempty"`
	Name               string         `gorm:"column:name;not null" json:"name"`
	Provider           string         `gorm:"column:provider;not null" json:"provider"`
	Concurrency        int            `gorm:"column:concurrency;not null;default:10" json:"concurrency"`
	Config             datatypes.JSON `gorm:"column:config;type:jsonb" json:"config"`
	TotalEpisodes      int            `gorm:"column:total_episodes;not null;default:0" json:"total_episodes"`
	CompletedEpisodes  int            `gorm:"column:completed_episodes;not null;default:0" json:"completed_episodes"`
	FailedEpisodes     int            `gorm:"column:failed_episodes;not null;default:0" json:"failed_episodes"`
	EstimatedCostCents int            `gorm:"column:estimated_cost_cents;not null;default:0" json:"estimated_cost_cents"`
	ActualCostCents    int            `gorm:"column:actual_cost_cents;not null;default:0" json:"actual_cost_cents"`
	Status             string         `gorm:"column:status;not null;index" json:"status"`
	StartedAt          *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	PausedAt           *time.Time     `gorm:"column:paused_at" json:"paused_at,omitempty"`
	CompletedAt        *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt          time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null" json:"updated_at"`
}

func (Batch) TableName() string { return "batches" }

func (b *Batch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = BatchStatusPending
	}
	if b.Concurrency == 0 {
		b.Concurrency = DefaultBatchConcurrency
	}
	return nil
}

func (b *Batch) ProgressPercent() float64 {
	if b.TotalEpisodes <= 0 {
		return 0
	}
	return float64(b.CompletedEpisodes+b.FailedEpisodes) / float64(b.TotalEpisodes) * 100
}

func (b *Batch) PendingEpisodes() int {
	n := b.TotalEpisodes - b.CompletedEpisodes - b.FailedEpisodes
	if n < 0 {
		return 0
	}
	return n
}

func (b *Batch) IsTerminal() bool {
	switch b.Status {
	case BatchStatusCompleted, BatchStatusCancelled, BatchStatusFailed:
		return true
	}
	return false
}
