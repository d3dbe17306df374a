package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
)

// Policy bounds a retried call. Delays grow geometrically from Initial,
// capped at Max, with ±Jitter randomization.
type Policy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
	// Retryable filters which errors are retried; nil uses DefaultRetryable.
	Retryable func(error) bool
	// OnRetry observes each failed attempt before its delay.
	OnRetry func(err error, wait time.Duration)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.1,
	}
}

// DefaultRetryable retries everything except caller mistakes, open circuits
// and context cancellation.
func DefaultRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case apperr.IsCircuitOpen(err), apperr.IsValidation(err), apperr.IsConflict(err):
		return false
	case errors.Is(err, apperr.ErrNotFound):
		return false
	}
	return true
}

func (p Policy) backOff(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		bo.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		bo.MaxInterval = p.Max
	}
	if p.Multiplier > 0 {
		bo.Multiplier = p.Multiplier
	}
	bo.RandomizationFactor = p.Jitter
	bo.MaxElapsedTime = 0
	bo.Reset()
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx)
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted; the last error is returned.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	op := func() error {
		err := fn(ctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = p.OnRetry
	}
	return backoff.RetryNotify(op, p.backOff(ctx), notify)
}

// RetryValue is Retry for calls that produce a value.
func RetryValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Retry(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
