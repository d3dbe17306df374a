package transcription

import (
	"context"
	"sync"

	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/resilience"
)

// Registry builds each configured provider once and hands out the shared
// instance, guarded by a breaker named after the provider.
type Registry struct {
	mu        sync.Mutex
	cfg       Config
	log       *logger.Logger
	breakers  *resilience.Registry
	providers map[string]Provider
	build     func(ctx context.Context, name string, cfg Config, log *logger.Logger) (Provider, error)
}

// NewRegistry accepts a nil breaker registry; providers are then unguarded.
func NewRegistry(cfg Config, log *logger.Logger, breakers *resilience.Registry) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		cfg:       cfg,
		log:       log,
		breakers:  breakers,
		providers: map[string]Provider{},
		build:     New,
	}
}

// Get returns the named provider; an empty name selects the default.
func (r *Registry) Get(ctx context.Context, name string) (Provider, error) {
	if name == "" {
		name = r.cfg.Default
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	p, err := r.build(ctx, name, r.cfg, r.log)
	if err != nil {
		return nil, err
	}
	p = r.guard(p)
	r.providers[name] = p
	return p, nil
}

// Register installs a ready provider under its own name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	r.providers[p.Name()] = r.guard(p)
	r.mu.Unlock()
}

func (r *Registry) Config() Config { return r.cfg }

func (r *Registry) guard(p Provider) Provider {
	if r.breakers == nil {
		return p
	}
	return Guard(p, r.breakers.Get(p.Name()))
}
