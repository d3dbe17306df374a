package transcription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
)

type WaitOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Timeout         time.Duration
}

func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		InitialInterval: 5 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      1.5,
		Timeout:         time.Hour,
	}
}

var errStillRunning = errors.New("transcription still running")

// WaitForCompletion polls until the job completes or fails. Poll intervals
// grow from InitialInterval by Multiplier up to MaxInterval. Running past
// Timeout yields a TimeoutError.
func WaitForCompletion(ctx context.Context, p Provider, providerJobID string, opts WaitOptions) (*TranscriptResult, error) {
	def := DefaultWaitOptions()
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = def.InitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = def.MaxInterval
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = def.Multiplier
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opts.InitialInterval
	eb.MaxInterval = opts.MaxInterval
	eb.Multiplier = opts.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = opts.Timeout
	eb.Reset()

	var result *TranscriptResult
	op := func() error {
		r, err := p.Poll(ctx, providerJobID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if r.Done() {
			result = r
			return nil
		}
		return errStillRunning
	}
	err := backoff.Retry(op, backoff.WithContext(eb, ctx))
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, errStillRunning):
		return nil, &apperr.TimeoutError{Op: "Transcription", After: opts.Timeout}
	default:
		return nil, err
	}
}

// Transcribe submits audio and waits for the outcome. A failed transcription
// is returned as a ProviderError.
func Transcribe(ctx context.Context, p Provider, audio AudioSource, speakersExpected int, language string, opts WaitOptions) (*TranscriptResult, error) {
	if speakersExpected <= 0 {
		speakersExpected = 2
	}
	if language == "" {
		language = "en"
	}
	id, err := p.Submit(ctx, audio, speakersExpected, language)
	if err != nil {
		return nil, &apperr.ProviderError{Provider: p.Name(), Err: fmt.Errorf("submit: %w", err)}
	}
	res, err := WaitForCompletion(ctx, p, id, opts)
	if err != nil {
		if apperr.IsTimeout(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &apperr.ProviderError{Provider: p.Name(), Err: err}
	}
	if res.Status == StatusFailed {
		msg := res.ErrorMessage
		if msg == "" {
			msg = "Unknown error"
		}
		return nil, &apperr.ProviderError{Provider: p.Name(), Err: fmt.Errorf("Transcription failed: %s", msg)}
	}
	if res.CostCents == nil {
		c := EstimateCost(p, res.DurationMs/1000)
		res.CostCents = &c
	}
	return res, nil
}
