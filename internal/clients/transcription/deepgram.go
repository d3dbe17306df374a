package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/resilience"
)

const deepgramBaseURL = "https://api.deepgram.com"

// deepgram transcribes synchronously inside Submit; Poll returns the stored
// result.
type deepgram struct {
	rest    *restClient
	caps    Capabilities
	model   string
	results *resultStore
	log     *logger.Logger
}

func NewDeepgram(apiKey, baseURL string, caps Capabilities, log *logger.Logger) Provider {
	if baseURL == "" {
		baseURL = deepgramBaseURL
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("provider", ProviderDeepgram)
	return &deepgram{
		rest: &restClient{
			service:    "Deepgram",
			baseURL:    baseURL,
			authHeader: "Authorization",
			authValue:  "Token " + apiKey,
			http:       &http.Client{Timeout: 10 * time.Minute},
			retry:      resilience.DefaultPolicy(),
			log:        log,
		},
		caps:    caps,
		model:   "nova-2",
		results: newResultStore(0),
		log:     log,
	}
}

func (p *deepgram) Name() string               { return ProviderDeepgram }
func (p *deepgram) Capabilities() Capabilities { return p.caps }

type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []struct {
			Speaker    int      `json:"speaker"`
			Transcript string   `json:"transcript"`
			Start      float64  `json:"start"`
			End        float64  `json:"end"`
			Confidence *float64 `json:"confidence"`
		} `json:"utterances"`
	} `json:"results"`
}

func (p *deepgram) Submit(ctx context.Context, audio AudioSource, speakersExpected int, language string) (string, error) {
	params := url.Values{}
	params.Set("model", p.model)
	params.Set("language", language)
	params.Set("diarize", "true")
	params.Set("punctuate", "true")
	params.Set("utterances", "true")
	params.Set("smart_format", "true")
	path := "/v1/listen?" + params.Encode()

	var raw json.RawMessage
	var err error
	if audio.RemoteURI != "" {
		err = p.rest.doJSON(ctx, http.MethodPost, path, map[string]string{"url": audio.RemoteURI}, "", &raw)
	} else {
		var f *os.File
		f, err = os.Open(audio.LocalPath)
		if err != nil {
			return "", err
		}
		defer f.Close()
		err = p.rest.doJSON(ctx, http.MethodPost, path, f, "audio/mpeg", &raw)
	}
	if err != nil {
		return "", err
	}
	res, err := p.parse(raw)
	if err != nil {
		return "", err
	}
	id := p.results.put(res)
	p.log.Info("Deepgram transcription complete", "utterances", len(res.Utterances))
	return id, nil
}

func (p *deepgram) Poll(ctx context.Context, providerJobID string) (*TranscriptResult, error) {
	return p.results.take(providerJobID)
}

func (p *deepgram) parse(raw json.RawMessage) (*TranscriptResult, error) {
	var data deepgramResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("Deepgram decode error: %w", err)
	}
	out := &TranscriptResult{Status: StatusCompleted, Raw: raw}
	if len(data.Results.Channels) == 0 {
		out.Status = StatusFailed
		out.ErrorMessage = "No channels in Deepgram response"
		return out, nil
	}
	for _, u := range data.Results.Utterances {
		out.Utterances = append(out.Utterances, Utterance{
			Speaker:    SpeakerLetter(u.Speaker),
			Text:       u.Transcript,
			StartMs:    int(u.Start * 1000),
			EndMs:      int(u.End * 1000),
			Confidence: u.Confidence,
		})
	}
	if alts := data.Results.Channels[0].Alternatives; len(alts) > 0 {
		out.FullText = alts[0].Transcript
	}
	out.DurationMs = int(data.Metadata.Duration * 1000)
	cost := EstimateCostCents(p.caps.CostPerHourCents, int(data.Metadata.Duration))
	out.CostCents = &cost
	return out, nil
}
