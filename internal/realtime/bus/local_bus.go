package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/podscribe-backend/internal/platform/envutil"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/realtime"
)

// localBus delivers in-process only. Used when no Redis is configured.
type localBus struct {
	mu        sync.RWMutex
	listeners []func(realtime.Message)
	closed    bool
}

func NewLocalBus() Bus { return &localBus{} }

func (b *localBus) Publish(ctx context.Context, msg realtime.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("local bus closed")
	}
	for _, fn := range b.listeners {
		fn(msg)
	}
	return nil
}

func (b *localBus) StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, onMsg)
	return nil
}

func (b *localBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.listeners = nil
	return nil
}

// FromEnv returns a Redis bus when REDIS_URL or REDIS_ADDR is set and the
// server answers, otherwise a local bus. A non-nil error explains why Redis
// was skipped; the returned bus is usable either way.
func FromEnv(log *logger.Logger) (Bus, error) {
	if envutil.String("REDIS_URL", "") == "" && envutil.String("REDIS_ADDR", "") == "" {
		return NewLocalBus(), nil
	}
	b, err := NewRedisBus(log)
	if err != nil {
		return NewLocalBus(), err
	}
	return b, nil
}
