package media

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Utterance struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EpisodeID  uuid.UUID `gorm:"type:uuid;column:episode_id;not null;index" json:"episode_id"`
	Speaker    string    `gorm:"column:speaker;not null;index" json:"speaker"`
	SpeakerRaw *string   `gorm:"column:speaker_raw" json:"speaker_raw,omitempty"`
	Text       string    `gorm:"column:text;type:text;not null" json:"text"`
	StartMs    int       `gorm:"column:start_ms;not null" json:"start_ms"`
	EndMs      int       `gorm:"column:end_ms;not null" json:"end_ms"`
	Confidence *float64  `gorm:"column:confidence" json:"confidence,omitempty"`
	WordCount  int       `gorm:"column:word_count;not null;default:0" json:"word_count"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (Utterance) TableName() string { return "utterances" }

func (u *Utterance) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Chunk is the persisted mirror of one indexed vector point.
type Chunk struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EpisodeID      uuid.UUID      `gorm:"type:uuid;column:episode_id;not null;index" json:"episode_id"`
	QdrantPointID  uuid.UUID      `gorm:"type:uuid;column:qdrant_point_id;not null" json:"qdrant_point_id"`
	Text           string         `gorm:"column:text;type:text;not null" json:"text"`
	PrimarySpeaker *string        `gorm:"column:primary_speaker;index" json:"primary_speaker,omitempty"`
	Speakers       datatypes.JSON `gorm:"column:speakers;type:jsonb" json:"speakers"`
	StartMs        int            `gorm:"column:start_ms;not null" json:"start_ms"`
	EndMs          int            `gorm:"column:end_ms;not null" json:"end_ms"`
	ChunkIndex     int            `gorm:"column:chunk_index;not null" json:"chunk_index"`
	WordCount      int            `gorm:"column:word_count;not null" json:"word_count"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
}

func (Chunk) TableName() string { return "chunks" }

func (c *Chunk) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
