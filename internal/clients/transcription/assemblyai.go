package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/resilience"
)

const assemblyAIBaseURL = "https://api.assemblyai.com"

type assemblyAI struct {
	rest *restClient
	caps Capabilities
	log  *logger.Logger
}

// NewAssemblyAI uploads local audio, then submits and polls a transcript
// with speaker labels.
func NewAssemblyAI(apiKey, baseURL string, caps Capabilities, log *logger.Logger) Provider {
	if baseURL == "" {
		baseURL = assemblyAIBaseURL
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("provider", ProviderAssemblyAI)
	return &assemblyAI{
		rest: &restClient{
			service:    "AssemblyAI",
			baseURL:    baseURL,
			authHeader: "Authorization",
			authValue:  apiKey,
			http:       &http.Client{Timeout: 10 * time.Minute},
			retry:      resilience.DefaultPolicy(),
			log:        log,
		},
		caps: caps,
		log:  log,
	}
}

func (p *assemblyAI) Name() string               { return ProviderAssemblyAI }
func (p *assemblyAI) Capabilities() Capabilities { return p.caps }

type aaiUploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type aaiTranscriptRequest struct {
	AudioURL         string `json:"audio_url"`
	SpeakerLabels    bool   `json:"speaker_labels"`
	SpeakersExpected int    `json:"speakers_expected,omitempty"`
	LanguageCode     string `json:"language_code,omitempty"`
}

type aaiTranscript struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	Text          string   `json:"text"`
	Error         string   `json:"error"`
	AudioDuration *float64 `json:"audio_duration"`
	Confidence    *float64 `json:"confidence"`
	Utterances    []struct {
		Speaker    string   `json:"speaker"`
		Text       string   `json:"text"`
		Start      int      `json:"start"`
		End        int      `json:"end"`
		Confidence *float64 `json:"confidence"`
	} `json:"utterances"`
}

func (p *assemblyAI) Submit(ctx context.Context, audio AudioSource, speakersExpected int, language string) (string, error) {
	audioURL := audio.RemoteURI
	if audioURL == "" {
		f, err := os.Open(audio.LocalPath)
		if err != nil {
			return "", err
		}
		defer f.Close()
		var up aaiUploadResponse
		if err := p.rest.doJSON(ctx, http.MethodPost, "/v2/upload", f, "application/octet-stream", &up); err != nil {
			return "", fmt.Errorf("upload: %w", err)
		}
		audioURL = up.UploadURL
	}

	var tr aaiTranscript
	req := aaiTranscriptRequest{
		AudioURL:         audioURL,
		SpeakerLabels:    true,
		SpeakersExpected: speakersExpected,
		LanguageCode:     language,
	}
	if err := p.rest.doJSON(ctx, http.MethodPost, "/v2/transcript", req, "", &tr); err != nil {
		return "", err
	}
	p.log.Info("AssemblyAI job submitted", "provider_job_id", tr.ID)
	return tr.ID, nil
}

func (p *assemblyAI) Poll(ctx context.Context, providerJobID string) (*TranscriptResult, error) {
	var tr aaiTranscript
	if err := p.rest.doJSON(ctx, http.MethodGet, "/v2/transcript/"+providerJobID, nil, "", &tr); err != nil {
		return nil, err
	}
	return p.toResult(providerJobID, &tr), nil
}

func (p *assemblyAI) toResult(id string, tr *aaiTranscript) *TranscriptResult {
	out := &TranscriptResult{ProviderJobID: id}
	switch tr.Status {
	case "completed":
		out.Status = StatusCompleted
	case "error":
		out.Status = StatusFailed
		out.ErrorMessage = tr.Error
		if out.ErrorMessage == "" {
			out.ErrorMessage = "Unknown error"
		}
		return out
	case "processing":
		out.Status = StatusProcessing
		return out
	default:
		out.Status = StatusPending
		return out
	}

	out.FullText = tr.Text
	for _, u := range tr.Utterances {
		out.Utterances = append(out.Utterances, Utterance{
			Speaker:    u.Speaker,
			Text:       u.Text,
			StartMs:    u.Start,
			EndMs:      u.End,
			Confidence: u.Confidence,
		})
	}
	if tr.AudioDuration != nil {
		out.DurationMs = int(*tr.AudioDuration * 1000)
	}
	cost := EstimateCostCents(p.caps.CostPerHourCents, out.DurationMs/1000)
	out.CostCents = &cost
	out.Raw, _ = json.Marshal(map[string]any{
		"id":             tr.ID,
		"status":         tr.Status,
		"audio_duration": tr.AudioDuration,
		"confidence":     tr.Confidence,
	})
	return out
}
