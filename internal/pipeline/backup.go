package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	types "github.com/yungbote/podscribe-backend/internal/domain"
)

type transcriptBackup struct {
	EpisodeID   string             `json:"episode_id"`
	YoutubeID   string             `json:"youtube_id"`
	Title       string             `json:"title"`
	ProcessedAt string             `json:"processed_at"`
	Provider    string             `json:"provider"`
	Utterances  []LabeledUtterance `json:"utterances"`
	RawResponse json.RawMessage    `json:"raw_response,omitempty"`
}

// BackupWriter keeps a JSON copy of every finished transcript under dir.
type BackupWriter struct {
	dir string
	now func() time.Time
}

func NewBackupWriter(dir string) *BackupWriter {
	if dir == "" {
		dir = "./data/transcripts"
	}
	return &BackupWriter{dir: dir, now: time.Now}
}

// Write stores <dir>/<youtube_id>.json, replacing an earlier copy.
func (w *BackupWriter) Write(ep *types.Episode, provider string, utterances []LabeledUtterance, raw json.RawMessage) (string, error) {
	if ep == nil || ep.YoutubeID == "" {
		return "", fmt.Errorf("backup: episode youtube id required")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: mkdir: %w", err)
	}
	if !json.Valid(raw) {
		raw = nil
	}
	b, err := json.MarshalIndent(transcriptBackup{
		EpisodeID:   ep.ID.String(),
		YoutubeID:   ep.YoutubeID,
		Title:       ep.Title,
		ProcessedAt: w.now().UTC().Format(time.RFC3339),
		Provider:    provider,
		Utterances:  utterances,
		RawResponse: raw,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(w.dir, ep.YoutubeID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", fmt.Errorf("backup: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("backup: rename: %w", err)
	}
	return path, nil
}
