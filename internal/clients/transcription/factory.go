package transcription

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/podscribe-backend/internal/platform/envutil"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

type Config struct {
	Default string `yaml:"default"`

	AssemblyAIAPIKey        string `yaml:"-"`
	AssemblyAIBaseURL       string `yaml:"assemblyai_base_url"`
	AssemblyAIMaxConcurrent int    `yaml:"assemblyai_max_concurrent"`

	DeepgramAPIKey        string `yaml:"-"`
	DeepgramBaseURL       string `yaml:"deepgram_base_url"`
	DeepgramMaxConcurrent int    `yaml:"deepgram_max_concurrent"`

	GoogleSpeechEnabled bool `yaml:"google_speech_enabled"`

	WhisperBin                 string `yaml:"whisper_bin"`
	WhisperModel               string `yaml:"whisper_model"`
	WhisperDevice              string `yaml:"whisper_device"`
	WhisperMaxConcurrent       int    `yaml:"whisper_max_concurrent"`
	FasterWhisperBin           string `yaml:"faster_whisper_bin"`
	FasterWhisperModel         string `yaml:"faster_whisper_model"`
	FasterWhisperDevice        string `yaml:"faster_whisper_device"`
	FasterWhisperMaxConcurrent int    `yaml:"faster_whisper_max_concurrent"`

	// Overrides replaces static capability fields per provider name.
	Overrides map[string]CapabilityOverride `yaml:"providers"`
}

type CapabilityOverride struct {
	DisplayName       string `yaml:"display_name"`
	MaxConcurrentJobs *int   `yaml:"max_concurrent"`
	CostPerHourCents  *int   `yaml:"cost_per_hour_cents"`
}

func ConfigFromEnv() Config {
	return Config{
		Default:                    envutil.String("DEFAULT_TRANSCRIPTION_PROVIDER", ProviderDeepgram),
		AssemblyAIAPIKey:           envutil.String("ASSEMBLYAI_API_KEY", ""),
		AssemblyAIBaseURL:          envutil.String("ASSEMBLYAI_BASE_URL", ""),
		AssemblyAIMaxConcurrent:    envutil.Int("ASSEMBLYAI_MAX_CONCURRENT", 32),
		DeepgramAPIKey:             envutil.String("DEEPGRAM_API_KEY", ""),
		DeepgramBaseURL:            envutil.String("DEEPGRAM_BASE_URL", ""),
		DeepgramMaxConcurrent:      envutil.Int("DEEPGRAM_MAX_CONCURRENT", 50),
		GoogleSpeechEnabled:        envutil.Bool("GOOGLE_SPEECH_ENABLED", false),
		WhisperBin:                 envutil.String("WHISPER_BIN", "whisper"),
		WhisperModel:               envutil.String("WHISPER_MODEL", "large-v3"),
		WhisperDevice:              envutil.String("WHISPER_DEVICE", "cpu"),
		WhisperMaxConcurrent:       envutil.Int("WHISPER_MAX_CONCURRENT", 2),
		FasterWhisperBin:           envutil.String("FASTER_WHISPER_BIN", "whisper-ctranslate2"),
		FasterWhisperModel:         envutil.String("FASTER_WHISPER_MODEL", "large-v3"),
		FasterWhisperDevice:        envutil.String("FASTER_WHISPER_DEVICE", "auto"),
		FasterWhisperMaxConcurrent: envutil.Int("FASTER_WHISPER_MAX_CONCURRENT", 2),
	}
}

// LoadOverrides merges a YAML file over cfg. Secrets are never read from the
// file.
func LoadOverrides(cfg Config, path string) (Config, error) {
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read provider config: %w", err)
	}
	keys := struct{ a, d string }{cfg.AssemblyAIAPIKey, cfg.DeepgramAPIKey}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse provider config: %w", err)
	}
	cfg.AssemblyAIAPIKey, cfg.DeepgramAPIKey = keys.a, keys.d
	return cfg, nil
}

// Capabilities returns the static capabilities of name with overrides
// applied.
func (c Config) Capabilities(name string) (Capabilities, bool) {
	var caps Capabilities
	switch name {
	case ProviderAssemblyAI:
		caps = Capabilities{Name: name, DisplayName: "AssemblyAI", MaxConcurrentJobs: orDefault(c.AssemblyAIMaxConcurrent, 32), SupportsDiarization: true, CostPerHourCents: 37}
	case ProviderDeepgram:
		caps = Capabilities{Name: name, DisplayName: "Deepgram", MaxConcurrentJobs: orDefault(c.DeepgramMaxConcurrent, 50), SupportsDiarization: true, CostPerHourCents: 26}
	case ProviderGoogleSpeech:
		caps = Capabilities{Name: name, DisplayName: "Google Cloud Speech", MaxConcurrentJobs: 20, SupportsDiarization: true, CostPerHourCents: 144, RequiresRemoteAudio: true}
	case ProviderWhisper:
		caps = Capabilities{Name: name, DisplayName: "Local Whisper (OpenAI)", MaxConcurrentJobs: orDefault(c.WhisperMaxConcurrent, 2)}
	case ProviderFasterWhisper:
		caps = Capabilities{Name: name, DisplayName: "Faster-Whisper (Local)", MaxConcurrentJobs: orDefault(c.FasterWhisperMaxConcurrent, 2)}
	default:
		return Capabilities{}, false
	}
	if o, ok := c.Overrides[name]; ok {
		if o.DisplayName != "" {
			caps.DisplayName = o.DisplayName
		}
		if o.MaxConcurrentJobs != nil && *o.MaxConcurrentJobs > 0 {
			caps.MaxConcurrentJobs = *o.MaxConcurrentJobs
		}
		if o.CostPerHourCents != nil && *o.CostPerHourCents >= 0 {
			caps.CostPerHourCents = *o.CostPerHourCents
		}
	}
	return caps, true
}

// Names lists every known provider.
func Names() []string {
	names := []string{ProviderAssemblyAI, ProviderDeepgram, ProviderGoogleSpeech, ProviderWhisper, ProviderFasterWhisper}
	sort.Strings(names)
	return names
}

// New builds the named provider; an empty name selects cfg.Default.
func New(ctx context.Context, name string, cfg Config, log *logger.Logger) (Provider, error) {
	if name == "" {
		name = cfg.Default
	}
	caps, ok := cfg.Capabilities(name)
	if !ok {
		return nil, fmt.Errorf("Unknown transcription provider: %s", name)
	}
	switch name {
	case ProviderAssemblyAI:
		if cfg.AssemblyAIAPIKey == "" {
			return nil, fmt.Errorf("ASSEMBLYAI_API_KEY not configured")
		}
		return NewAssemblyAI(cfg.AssemblyAIAPIKey, cfg.AssemblyAIBaseURL, caps, log), nil
	case ProviderDeepgram:
		if cfg.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY not configured")
		}
		return NewDeepgram(cfg.DeepgramAPIKey, cfg.DeepgramBaseURL, caps, log), nil
	case ProviderGoogleSpeech:
		if !cfg.GoogleSpeechEnabled {
			return nil, fmt.Errorf("GOOGLE_SPEECH_ENABLED not set")
		}
		return NewGoogleSpeech(ctx, caps, log)
	case ProviderWhisper:
		return NewLocalWhisper(name, cfg.WhisperBin, cfg.WhisperModel, cfg.WhisperDevice, caps, log), nil
	default:
		return NewLocalWhisper(name, cfg.FasterWhisperBin, cfg.FasterWhisperModel, cfg.FasterWhisperDevice, caps, log), nil
	}
}

type ProviderInfo struct {
	Capabilities
	Available bool   `json:"available"`
	Note      string `json:"note,omitempty"`
}

// Available reports every provider with whether it is configured here.
func Available(cfg Config) []ProviderInfo {
	out := make([]ProviderInfo, 0, 5)
	for _, name := range []string{ProviderAssemblyAI, ProviderDeepgram, ProviderGoogleSpeech, ProviderWhisper, ProviderFasterWhisper} {
		caps, _ := cfg.Capabilities(name)
		info := ProviderInfo{Capabilities: caps}
		switch name {
		case ProviderAssemblyAI:
			info.Available = cfg.AssemblyAIAPIKey != ""
		case ProviderDeepgram:
			info.Available = cfg.DeepgramAPIKey != ""
		case ProviderGoogleSpeech:
			info.Available = cfg.GoogleSpeechEnabled
			if !info.Available {
				info.Note = "set GOOGLE_SPEECH_ENABLED and GCS_AUDIO_BUCKET"
			}
		case ProviderWhisper:
			info.Available, info.Note = binaryAvailable(cfg.WhisperBin, "Original OpenAI Whisper on "+cfg.WhisperDevice)
		case ProviderFasterWhisper:
			info.Available, info.Note = binaryAvailable(cfg.FasterWhisperBin, "Faster-Whisper on "+cfg.FasterWhisperDevice+", FREE")
		}
		out = append(out, info)
	}
	return out
}

func binaryAvailable(bin, okNote string) (bool, string) {
	if bin == "" {
		return false, "binary not configured"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return false, bin + " not installed"
	}
	return true, okNote
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
