package transcription

import (
	"context"

	"github.com/yungbote/podscribe-backend/internal/resilience"
)

// guarded routes Submit and Poll through the provider's circuit breaker so a
// failing vendor fails fast for every job of the batch.
type guarded struct {
	Provider
	breaker *resilience.Breaker
}

// Guard wraps p with b. A nil breaker returns p unchanged.
func Guard(p Provider, b *resilience.Breaker) Provider {
	if p == nil || b == nil {
		return p
	}
	return &guarded{Provider: p, breaker: b}
}

func (g *guarded) Submit(ctx context.Context, audio AudioSource, speakersExpected int, language string) (string, error) {
	return resilience.Call(ctx, g.breaker, func(ctx context.Context) (string, error) {
		return g.Provider.Submit(ctx, audio, speakersExpected, language)
	})
}

func (g *guarded) Poll(ctx context.Context, providerJobID string) (*TranscriptResult, error) {
	return resilience.Call(ctx, g.breaker, func(ctx context.Context) (*TranscriptResult, error) {
		return g.Provider.Poll(ctx, providerJobID)
	})
}
