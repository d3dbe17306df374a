package transcription

import (
	"context"
	"errors"
	"testing"

	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/resilience"
)

type stubProvider struct {
	name      string
	submitErr error
	submits   int
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Capabilities() Capabilities {
	return Capabilities{Name: s.name, CostPerHourCents: 60}
}
func (s *stubProvider) Submit(ctx context.Context, audio AudioSource, speakers int, lang string) (string, error) {
	s.submits++
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return "job-1", nil
}
func (s *stubProvider) Poll(ctx context.Context, id string) (*TranscriptResult, error) {
	return &TranscriptResult{ProviderJobID: id, Status: StatusCompleted}, nil
}

func TestRegistryBuildsOnce(t *testing.T) {
	reg := NewRegistry(Config{Default: "stub"}, logger.Nop(), nil)
	builds := 0
	reg.build = func(ctx context.Context, name string, cfg Config, log *logger.Logger) (Provider, error) {
		builds++
		return &stubProvider{name: name}, nil
	}
	a, err := reg.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := reg.Get(context.Background(), "stub")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != b || builds != 1 {
		t.Fatalf("expected one shared instance, builds=%d", builds)
	}
}

func TestRegistryPropagatesBuildError(t *testing.T) {
	reg := NewRegistry(Config{}, logger.Nop(), nil)
	reg.build = func(ctx context.Context, name string, cfg Config, log *logger.Logger) (Provider, error) {
		return nil, errors.New("missing key")
	}
	if _, err := reg.Get(context.Background(), "deepgram"); err == nil {
		t.Fatalf("expected error")
	}
	if len(reg.providers) != 0 {
		t.Fatalf("failed build must not be cached")
	}
}

func TestGuardedProviderTripsBreaker(t *testing.T) {
	breakers := resilience.NewRegistry(logger.Nop(), nil)
	breakers.Register("stub", resilience.BreakerConfig{FailureThreshold: 2, HalfOpenMaxCalls: 1})
	reg := NewRegistry(Config{}, logger.Nop(), breakers)
	inner := &stubProvider{name: "stub", submitErr: errors.New("boom")}
	reg.Register(inner)

	p, err := reg.Get(context.Background(), "stub")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := p.Submit(context.Background(), AudioSource{}, 2, "en"); err == nil {
			t.Fatalf("expected submit error")
		}
	}
	_, err = p.Submit(context.Background(), AudioSource{}, 2, "en")
	if !apperr.IsCircuitOpen(err) {
		t.Fatalf("expected circuit open, got %v", err)
	}
	if inner.submits != 2 {
		t.Fatalf("open circuit must not call the provider, submits=%d", inner.submits)
	}
	if p.Name() != "stub" || p.Capabilities().CostPerHourCents != 60 {
		t.Fatalf("guard must delegate metadata")
	}
}
