package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

const (
	BreakerOpenAI          = "openai"
	BreakerSpeakerLabeling = "speaker-labeling"
	BreakerQdrant          = "qdrant"
)

// Presets are the per-dependency breaker settings; unknown names get the
// default.
var Presets = map[string]BreakerConfig{
	BreakerOpenAI:          {FailureThreshold: 5, RecoveryTimeout: 60 * time.Second, HalfOpenMaxCalls: 3},
	BreakerSpeakerLabeling: {FailureThreshold: 5, RecoveryTimeout: 60 * time.Second, HalfOpenMaxCalls: 3},
	BreakerQdrant:          {FailureThreshold: 3, RecoveryTimeout: 30 * time.Second, HalfOpenMaxCalls: 3},
}

// Registry owns one breaker per dependency name.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	log      *logger.Logger
	listener StateListener
}

func NewRegistry(log *logger.Logger, listener StateListener) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		breakers: map[string]*Breaker{},
		log:      log.With("component", "BreakerRegistry"),
		listener: listener,
	}
}

// Get returns the named breaker, creating it from its preset on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg, ok := Presets[name]
	if !ok {
		cfg = DefaultBreakerConfig()
	}
	b := NewBreaker(name, cfg, r.log, r.listener)
	r.breakers[name] = b
	return b
}

// Register installs a breaker with explicit settings, replacing any existing one.
func (r *Registry) Register(name string, cfg BreakerConfig) *Breaker {
	b := NewBreaker(name, cfg, r.log, r.listener)
	r.mu.Lock()
	r.breakers[name] = b
	r.mu.Unlock()
	return b
}

func (r *Registry) Snapshot() []BreakerSnapshot {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()
	out := make([]BreakerSnapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
