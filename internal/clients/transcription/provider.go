package transcription

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	ProviderAssemblyAI    = "assemblyai"
	ProviderDeepgram      = "deepgram"
	ProviderGoogleSpeech  = "google-speech"
	ProviderWhisper       = "whisper"
	ProviderFasterWhisper = "faster-whisper"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Utterance is one diarized span. Speaker is the provider's raw label
// ("A", "B", ...); names are assigned later.
type Utterance struct {
	Speaker    string   `json:"speaker"`
	Text       string   `json:"text"`
	StartMs    int      `json:"start_ms"`
	EndMs      int      `json:"end_ms"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type TranscriptResult struct {
	ProviderJobID string          `json:"provider_job_id"`
	Status        Status          `json:"status"`
	Utterances    []Utterance     `json:"utterances,omitempty"`
	FullText      string          `json:"full_text,omitempty"`
	DurationMs    int             `json:"duration_ms,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CostCents     *int            `json:"cost_cents,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

func (r *TranscriptResult) Done() bool {
	return r != nil && (r.Status == StatusCompleted || r.Status == StatusFailed)
}

// Capabilities are static per provider instance.
type Capabilities struct {
	Name                string `json:"name" yaml:"name"`
	DisplayName         string `json:"display_name" yaml:"display_name"`
	MaxConcurrentJobs   int    `json:"max_concurrent" yaml:"max_concurrent"`
	SupportsDiarization bool   `json:"supports_diarization" yaml:"supports_diarization"`
	CostPerHourCents    int    `json:"cost_per_hour_cents" yaml:"cost_per_hour_cents"`
	RequiresRemoteAudio bool   `json:"requires_remote_audio" yaml:"requires_remote_audio"`
}

// AudioSource points at the audio to transcribe. RemoteURI is set once the
// file has been staged for providers with RequiresRemoteAudio.
type AudioSource struct {
	LocalPath string
	RemoteURI string
}

type Provider interface {
	Name() string
	Capabilities() Capabilities
	// Submit starts a transcription and returns the provider's job id.
	Submit(ctx context.Context, audio AudioSource, speakersExpected int, language string) (string, error)
	// Poll reports the current state of a submitted job.
	Poll(ctx context.Context, providerJobID string) (*TranscriptResult, error)
}

// EstimateCost returns whole cents for durationSeconds of audio, truncated.
func EstimateCost(p Provider, durationSeconds int) int {
	return EstimateCostCents(p.Capabilities().CostPerHourCents, durationSeconds)
}

func EstimateCostCents(costPerHourCents, durationSeconds int) int {
	if durationSeconds <= 0 || costPerHourCents <= 0 {
		return 0
	}
	return int(float64(durationSeconds) / 3600 * float64(costPerHourCents))
}

// SpeakerLetter maps a zero-based diarization index to "A", "B", ...
func SpeakerLetter(i int) string {
	if i < 0 {
		i = 0
	}
	if i < 26 {
		return string(rune('A' + i))
	}
	return fmt.Sprintf("S%d", i)
}
