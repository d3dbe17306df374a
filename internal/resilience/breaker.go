package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold uint32
	// RecoveryTimeout is how long the circuit stays open before trial calls.
	RecoveryTimeout time.Duration
	// HalfOpenMaxCalls trial calls are admitted; that many successes close it.
	HalfOpenMaxCalls uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second, HalfOpenMaxCalls: 3}
}

// StateListener observes transitions, e.g. to export a gauge.
type StateListener func(name, from, to string)

type Breaker struct {
	name     string
	cfg      BreakerConfig
	cb       *gobreaker.CircuitBreaker
	log      *logger.Logger
	mu       sync.Mutex
	openedAt time.Time
}

type BreakerSnapshot struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	FailureThreshold    uint32 `json:"failure_threshold"`
	RetryAfterSeconds   int    `json:"retry_after_seconds,omitempty"`
}

func NewBreaker(name string, cfg BreakerConfig, log *logger.Logger, listener StateListener) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxCalls == 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if log == nil {
		log = logger.Nop()
	}
	b := &Breaker{name: name, cfg: cfg, log: log.With("breaker", name)}
	threshold := cfg.FailureThreshold
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up says nothing about the dependency.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.mu.Lock()
				b.openedAt = time.Now()
				b.mu.Unlock()
				b.log.Warn("Circuit opened", "from", stateName(from), "recovery_timeout", cfg.RecoveryTimeout.String())
			} else {
				b.log.Info("Circuit state changed", "from", stateName(from), "to", stateName(to))
			}
			if listener != nil {
				listener(name, stateName(from), stateName(to))
			}
		},
	})
	return b
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() string { return stateName(b.cb.State()) }

// Execute runs fn through the breaker. While open it fails fast with a
// CircuitOpenError without calling fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return b.translate(err)
}

// Call is Execute for calls that produce a value.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	out, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, b.translate(err)
	}
	v, _ := out.(T)
	return v, nil
}

func (b *Breaker) translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &apperr.CircuitOpenError{Name: b.name, RetryAfter: b.retryAfter()}
	}
	return err
}

func (b *Breaker) retryAfter() time.Duration {
	b.mu.Lock()
	opened := b.openedAt
	b.mu.Unlock()
	if opened.IsZero() {
		return b.cfg.RecoveryTimeout
	}
	left := time.Until(opened.Add(b.cfg.RecoveryTimeout))
	if left < 0 {
		return 0
	}
	return left
}

func (b *Breaker) Snapshot() BreakerSnapshot {
	state := b.State()
	s := BreakerSnapshot{
		Name:                b.name,
		State:               state,
		ConsecutiveFailures: b.cb.Counts().ConsecutiveFailures,
		FailureThreshold:    b.cfg.FailureThreshold,
	}
	if state == StateOpen {
		s.RetryAfterSeconds = int(b.retryAfter().Seconds())
	}
	return s
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
