package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

// localWhisper shells out to a whisper-compatible CLI (openai-whisper or
// whisper-ctranslate2) that writes <basename>.json into --output_dir. It runs
// synchronously inside Submit and reports a single speaker.
type localWhisper struct {
	name    string
	bin     string
	model   string
	device  string
	caps    Capabilities
	results *resultStore
	log     *logger.Logger
}

func NewLocalWhisper(name, bin, model, device string, caps Capabilities, log *logger.Logger) Provider {
	if log == nil {
		log = logger.Nop()
	}
	if model == "" {
		model = "large-v3"
	}
	return &localWhisper{
		name:    name,
		bin:     bin,
		model:   model,
		device:  device,
		caps:    caps,
		results: newResultStore(0),
		log:     log.With("provider", name),
	}
}

func (p *localWhisper) Name() string               { return p.name }
func (p *localWhisper) Capabilities() Capabilities { return p.caps }

type whisperOutput struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (p *localWhisper) Submit(ctx context.Context, audio AudioSource, speakersExpected int, language string) (string, error) {
	if audio.LocalPath == "" {
		return "", fmt.Errorf("%s requires a local audio file", p.name)
	}
	outDir, err := os.MkdirTemp("", "whisper-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(outDir)

	args := []string{
		audio.LocalPath,
		"--model", p.model,
		"--language", language,
		"--output_format", "json",
		"--output_dir", outDir,
	}
	if p.device != "" {
		args = append(args, "--device", p.device)
	}
	cmd := exec.CommandContext(ctx, p.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	p.log.Info("Starting local transcription", "audio", audio.LocalPath, "model", p.model)

	res := &TranscriptResult{}
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		res.Status = StatusFailed
		res.ErrorMessage = strings.TrimSpace(fmt.Sprintf("%v: %s", err, tail(stderr.String(), 400)))
		return p.results.put(res), nil
	}

	base := strings.TrimSuffix(filepath.Base(audio.LocalPath), filepath.Ext(audio.LocalPath))
	raw, err := os.ReadFile(filepath.Join(outDir, base+".json"))
	if err != nil {
		res.Status = StatusFailed
		res.ErrorMessage = fmt.Sprintf("read whisper output: %v", err)
		return p.results.put(res), nil
	}
	parsed, err := parseWhisperOutput(raw)
	if err != nil {
		res.Status = StatusFailed
		res.ErrorMessage = err.Error()
		return p.results.put(res), nil
	}
	p.log.Info("Local transcription complete", "utterances", len(parsed.Utterances))
	return p.results.put(parsed), nil
}

func (p *localWhisper) Poll(ctx context.Context, providerJobID string) (*TranscriptResult, error) {
	return p.results.take(providerJobID)
}

func parseWhisperOutput(raw []byte) (*TranscriptResult, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode whisper output: %w", err)
	}
	res := &TranscriptResult{
		Status:   StatusCompleted,
		FullText: strings.TrimSpace(out.Text),
		Raw:      raw,
	}
	for _, s := range out.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		res.Utterances = append(res.Utterances, Utterance{
			Speaker: SpeakerLetter(0),
			Text:    text,
			StartMs: int(s.Start * 1000),
			EndMs:   int(s.End * 1000),
		})
	}
	if n := len(out.Segments); n > 0 {
		res.DurationMs = int(out.Segments[n-1].End * 1000)
	}
	zero := 0
	res.CostCents = &zero
	return res, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
