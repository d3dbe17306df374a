package transcription

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownAndUnconfigured(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, "modal", Config{}, nil)
	require.EqualError(t, err, "Unknown transcription provider: modal")

	_, err = New(ctx, ProviderAssemblyAI, Config{}, nil)
	require.EqualError(t, err, "ASSEMBLYAI_API_KEY not configured")

	_, err = New(ctx, "", Config{Default: ProviderDeepgram}, nil)
	require.EqualError(t, err, "DEEPGRAM_API_KEY not configured")

	p, err := New(ctx, ProviderDeepgram, Config{DeepgramAPIKey: "k"}, nil)
	require.NoError(t, err)
	require.Equal(t, 50, p.Capabilities().MaxConcurrentJobs)
	require.Equal(t, 26, p.Capabilities().CostPerHourCents)
}

func TestLoadOverridesKeepsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default: assemblyai
deepgram_max_concurrent: 10
providers:
  assemblyai:
    display_name: AssemblyAI (EU)
    cost_per_hour_cents: 40
`), 0o644))

	cfg, err := LoadOverrides(Config{AssemblyAIAPIKey: "secret", DeepgramMaxConcurrent: 50}, path)
	require.NoError(t, err)
	require.Equal(t, ProviderAssemblyAI, cfg.Default)
	require.Equal(t, "secret", cfg.AssemblyAIAPIKey)

	caps, ok := cfg.Capabilities(ProviderAssemblyAI)
	require.True(t, ok)
	require.Equal(t, "AssemblyAI (EU)", caps.DisplayName)
	require.Equal(t, 40, caps.CostPerHourCents)
	dg, _ := cfg.Capabilities(ProviderDeepgram)
	require.Equal(t, 10, dg.MaxConcurrentJobs)

	_, err = LoadOverrides(cfg, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestAvailableListsEveryProvider(t *testing.T) {
	infos := Available(Config{DeepgramAPIKey: "k", WhisperBin: "definitely-not-installed-whisper"})
	require.Len(t, infos, 5)
	byName := map[string]ProviderInfo{}
	for _, i := range infos {
		byName[i.Name] = i
	}
	require.True(t, byName[ProviderDeepgram].Available)
	require.False(t, byName[ProviderAssemblyAI].Available)
	require.False(t, byName[ProviderWhisper].Available)
	require.True(t, byName[ProviderGoogleSpeech].RequiresRemoteAudio)
	require.False(t, byName[ProviderFasterWhisper].SupportsDiarization)
}
