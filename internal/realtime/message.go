package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventJobUpdate   = "job_update"
	EventBatchUpdate = "batch_update"
)

// GlobalChannel receives every job and batch update.
const GlobalChannel = "updates"

func JobChannel(id uuid.UUID) string   { return "job:" + id.String() }
func BatchChannel(id uuid.UUID) string { return "batch:" + id.String() }

// Message is one event on one logical channel. Data is the JSON-encodable
// payload delivered to subscribers as-is.
type Message struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Data    any    `json:"data,omitempty"`
}

// Payload returns Data as raw JSON.
func (m Message) Payload() ([]byte, error) {
	if raw, ok := m.Data.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(m.Data)
}

type JobUpdate struct {
	Type         string  `json:"type"`
	JobID        string  `json:"job_id"`
	BatchID      string  `json:"batch_id,omitempty"`
	EpisodeID    string  `json:"episode_id,omitempty"`
	Status       string  `json:"status"`
	Progress     int     `json:"progress"`
	CurrentStep  string  `json:"current_step,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	Timestamp    string  `json:"timestamp"`
}

type BatchUpdate struct {
	Type              string  `json:"type"`
	BatchID           string  `json:"batch_id"`
	Status            string  `json:"status"`
	CompletedEpisodes int     `json:"completed_episodes"`
	FailedEpisodes    int     `json:"failed_episodes"`
	TotalEpisodes     int     `json:"total_episodes"`
	ProgressPercent   float64 `json:"progress_percent"`
	Timestamp         string  `json:"timestamp"`
}

func timestamp(now time.Time) string { return now.UTC().Format(time.RFC3339) }
