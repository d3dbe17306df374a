package transcription

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/yungbote/podscribe-backend/internal/platform/gcp"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

// recognizer is the slice of the Speech API the provider needs.
type recognizer interface {
	Start(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (string, error)
	Check(ctx context.Context, name string) (*speechpb.LongRunningRecognizeResponse, bool, error)
	Close() error
}

type gcpRecognizer struct {
	client *speech.Client
}

func (r *gcpRecognizer) Start(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (string, error) {
	op, err := r.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return "", err
	}
	return op.Name(), nil
}

func (r *gcpRecognizer) Check(ctx context.Context, name string) (*speechpb.LongRunningRecognizeResponse, bool, error) {
	op := r.client.LongRunningRecognizeOperation(name)
	resp, err := op.Poll(ctx)
	return resp, op.Done(), err
}

func (r *gcpRecognizer) Close() error { return r.client.Close() }

type googleSpeech struct {
	rec  recognizer
	caps Capabilities
	log  *logger.Logger
}

// NewGoogleSpeech runs long-running recognition over staged GCS audio with
// speaker diarization.
func NewGoogleSpeech(ctx context.Context, caps Capabilities, log *logger.Logger) (Provider, error) {
	c, err := speech.NewClient(ctx, gcp.ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return newGoogleSpeech(&gcpRecognizer{client: c}, caps, log), nil
}

func newGoogleSpeech(rec recognizer, caps Capabilities, log *logger.Logger) *googleSpeech {
	if log == nil {
		log = logger.Nop()
	}
	return &googleSpeech{rec: rec, caps: caps, log: log.With("provider", ProviderGoogleSpeech)}
}

func (p *googleSpeech) Name() string               { return ProviderGoogleSpeech }
func (p *googleSpeech) Capabilities() Capabilities { return p.caps }

func (p *googleSpeech) Submit(ctx context.Context, audio AudioSource, speakersExpected int, language string) (string, error) {
	if !strings.HasPrefix(audio.RemoteURI, "gs://") {
		return "", fmt.Errorf("google speech requires a gs:// audio uri, got %q", audio.RemoteURI)
	}
	req := &speechpb.LongRunningRecognizeRequest{
		Config: recognitionConfig(audio.RemoteURI, speakersExpected, language),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: audio.RemoteURI}},
	}
	name, err := p.rec.Start(ctx, req)
	if err != nil {
		return "", err
	}
	p.log.Info("Google Speech operation started", "operation", name)
	return name, nil
}

func (p *googleSpeech) Poll(ctx context.Context, providerJobID string) (*TranscriptResult, error) {
	resp, done, err := p.rec.Check(ctx, providerJobID)
	if !done {
		if err != nil {
			return nil, err
		}
		return &TranscriptResult{ProviderJobID: providerJobID, Status: StatusProcessing}, nil
	}
	if err != nil {
		return &TranscriptResult{ProviderJobID: providerJobID, Status: StatusFailed, ErrorMessage: err.Error()}, nil
	}
	out := parseRecognizeResponse(resp)
	out.ProviderJobID = providerJobID
	cost := EstimateCostCents(p.caps.CostPerHourCents, out.DurationMs/1000)
	out.CostCents = &cost
	return out, nil
}

func recognitionConfig(uri string, speakers int, language string) *speechpb.RecognitionConfig {
	if speakers <= 0 {
		speakers = 2
	}
	return &speechpb.RecognitionConfig{
		LanguageCode:               speechLanguage(language),
		Encoding:                   inferEncoding(uri),
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          1,
			MaxSpeakerCount:          int32(speakers),
		},
	}
}

func speechLanguage(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", "en":
		return "en-US"
	default:
		return lang
	}
}

func inferEncoding(uri string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(filepath.Ext(uri)) {
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".mp3":
		return speechpb.RecognitionConfig_MP3
	case ".ogg", ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

type speechWord struct {
	word    string
	startMs int
	endMs   int
	speaker int
	conf    float64
}

// parseRecognizeResponse groups diarized words into utterances. With
// diarization the final result carries every word with its speaker tag, so
// words are read from it alone.
func parseRecognizeResponse(resp *speechpb.LongRunningRecognizeResponse) *TranscriptResult {
	out := &TranscriptResult{Status: StatusCompleted}
	if resp == nil {
		return out
	}
	out.DurationMs = durationMs(resp.GetTotalBilledTime())

	var transcripts []string
	var words []speechWord
	results := resp.GetResults()
	for i, r := range results {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			transcripts = append(transcripts, t)
		}
		if i != len(results)-1 {
			continue
		}
		for _, w := range alts[0].GetWords() {
			words = append(words, speechWord{
				word:    w.GetWord(),
				startMs: durationMs(w.GetStartTime()),
				endMs:   durationMs(w.GetEndTime()),
				speaker: int(w.GetSpeakerTag()),
				conf:    float64(w.GetConfidence()),
			})
		}
	}
	out.Utterances = groupBySpeaker(words)
	if len(out.Utterances) > 0 {
		texts := make([]string, 0, len(out.Utterances))
		for _, u := range out.Utterances {
			texts = append(texts, u.Text)
		}
		out.FullText = strings.Join(texts, " ")
	} else {
		out.FullText = strings.Join(transcripts, " ")
	}
	if out.DurationMs == 0 && len(words) > 0 {
		out.DurationMs = words[len(words)-1].endMs
	}
	return out
}

func groupBySpeaker(words []speechWord) []Utterance {
	var out []Utterance
	var buf []string
	var cur speechWord
	var confSum float64
	var confN int
	flush := func(end int) {
		if len(buf) == 0 {
			return
		}
		u := Utterance{
			Speaker: SpeakerLetter(cur.speaker - 1),
			Text:    strings.Join(buf, " "),
			StartMs: cur.startMs,
			EndMs:   end,
		}
		if confN > 0 {
			c := confSum / float64(confN)
			u.Confidence = &c
		}
		out = append(out, u)
		buf = buf[:0]
		confSum, confN = 0, 0
	}
	end := 0
	for _, w := range words {
		if len(buf) > 0 && w.speaker != cur.speaker {
			flush(end)
		}
		if len(buf) == 0 {
			cur = w
		}
		buf = append(buf, w.word)
		end = w.endMs
		if w.conf > 0 {
			confSum += w.conf
			confN++
		}
	}
	flush(end)
	return out
}

func durationMs(d *durationpb.Duration) int {
	if d == nil {
		return 0
	}
	return int(d.AsDuration().Milliseconds())
}
