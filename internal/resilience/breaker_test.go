package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
)

var errDown = errors.New("dependency down")

func TestBreakerOpensAfterThresholdAndFailsFast(t *testing.T) {
	b := NewBreaker("qdrant-test", BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Hour, HalfOpenMaxCalls: 1}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := b.Execute(ctx, func(context.Context) error { return errDown })
		require.ErrorIs(t, err, errDown)
	}
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.False(t, called, "open circuit must not invoke the call")
	var open *apperr.CircuitOpenError
	require.ErrorAs(t, err, &open)
	require.Equal(t, "qdrant-test", open.Name)
	require.Contains(t, err.Error(), "Circuit qdrant-test is open")
}

func TestBreakerAdmitsTrialAfterRecoveryWindow(t *testing.T) {
	b := NewBreaker("trial", BreakerConfig{FailureThreshold: 2, RecoveryTimeout: 30 * time.Millisecond, HalfOpenMaxCalls: 3}, nil, nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return errDown })
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	calls := 0
	require.NoError(t, b.Execute(ctx, func(context.Context) error { calls++; return nil }))
	require.Equal(t, 1, calls)
	require.Equal(t, StateHalfOpen, b.State(), "one success is not enough to close")

	require.NoError(t, b.Execute(ctx, func(context.Context) error { return nil }))
	require.NoError(t, b.Execute(ctx, func(context.Context) error { return nil }))
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	b := NewBreaker("reopen", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond, HalfOpenMaxCalls: 3}, nil, nil)
	ctx := context.Background()
	_ = b.Execute(ctx, func(context.Context) error { return errDown })
	time.Sleep(40 * time.Millisecond)
	require.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return errDown }), errDown)
	require.Equal(t, StateOpen, b.State())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	b := NewBreaker("cancel", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour}, nil, nil)
	_ = b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	require.Equal(t, StateClosed, b.State())
}

func TestRegistryPresetsAndListener(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	reg := NewRegistry(nil, func(name, from, to string) {
		mu.Lock()
		transitions = append(transitions, name+":"+from+"->"+to)
		mu.Unlock()
	})

	q := reg.Get(BreakerQdrant)
	require.Same(t, q, reg.Get(BreakerQdrant))
	for i := 0; i < 3; i++ {
		_ = q.Execute(context.Background(), func(context.Context) error { return errDown })
	}
	reg.Get(BreakerOpenAI)

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, BreakerOpenAI, snap[0].Name)
	require.Equal(t, StateClosed, snap[0].State)
	require.Equal(t, BreakerQdrant, snap[1].Name)
	require.Equal(t, StateOpen, snap[1].State)
	require.Greater(t, snap[1].RetryAfterSeconds, 0)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"qdrant:closed->open"}, transitions)
}

func TestCallReturnsValue(t *testing.T) {
	b := NewBreaker("value", DefaultBreakerConfig(), nil, nil)
	v, err := Call(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	require.Equal(t, 42, v)
}
