package media

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const DefaultUnknownSpeakerLabel = "Guest"

type Channel struct {
	ID                         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Slug                       string         `gorm:"column:slug;not null;uniqueIndex" json:"slug"`
	Name                       string         `gorm:"column:name;not null" json:"name"`
	Description                *string        `gorm:"column:description;type:text" json:"description,omitempty"`
	YoutubeChannelID           *string        `gorm:"column:youtube_channel_id;index" json:"youtube_channel_id,omitempty"`
	YoutubeURL                 *string        `gorm:"column:youtube_url" json:"youtube_url,omitempty"`
	Speakers                   datatypes.JSON `gorm:"column:speakers;type:jsonb" json:"speakers"`
	DefaultUnknownSpeakerLabel string         `gorm:"column:default_unknown_speaker_label;not null;default:'Guest'" json:"default_unknown_speaker_label"`
	EpisodeCount               int            `gorm:"column:episode_count;not null;default:0" json:"episode_count"`
	TranscribedCount           int            `gorm:"column:transcribed_count;not null;default:0" json:"transcribed_count"`
	TotalDurationSeconds       int            `gorm:"column:total_duration_seconds;not null;default:0" json:"total_duration_seconds"`
	CreatedAt                  time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt                  time.Time      `gorm:"not null" json:"updated_at"`
}

func (Channel) TableName() string { return "channels" }

func (c *Channel) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.DefaultUnknownSpeakerLabel == "" {
		c.DefaultUnknownSpeakerLabel = DefaultUnknownSpeakerLabel
	}
	return nil
}

// SpeakerNames decodes the known-host list; malformed JSON yields nil.
func (c *Channel) SpeakerNames() []string {
	if c == nil || len(c.Speakers) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(c.Speakers, &out); err != nil {
		return nil
	}
	return out
}
