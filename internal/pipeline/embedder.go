package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/podscribe-backend/internal/platform/cache"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/platform/openai"
	"github.com/yungbote/podscribe-backend/internal/resilience"
)

const (
	DefaultEmbedBatchSize   = 100
	DefaultEmbedMaxInFlight = 5
)

type EmbedderOptions struct {
	BatchSize   int
	MaxInFlight int
	Cache       *cache.TTL[string, []float32]
}

// Embedder splits texts into fixed-size API batches, runs a bounded number
// of them at once and serves repeats from a bounded TTL cache.
type Embedder struct {
	ai          openai.Client
	breaker     *resilience.Breaker
	cache       *cache.TTL[string, []float32]
	batchSize   int
	maxInFlight int
	log         *logger.Logger
}

func NewEmbedder(ai openai.Client, breaker *resilience.Breaker, log *logger.Logger, opts EmbedderOptions) *Embedder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultEmbedBatchSize
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultEmbedMaxInFlight
	}
	return &Embedder{
		ai:          ai,
		breaker:     breaker,
		cache:       opts.Cache,
		batchSize:   opts.BatchSize,
		maxInFlight: opts.MaxInFlight,
		log:         log.With("service", "Embedder"),
	}
}

// Embed returns one vector per text, in order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	// Unique uncached texts, each mapped to every position it fills.
	var missing []string
	positions := map[string][]int{}
	for i, text := range texts {
		key := cacheKey(text)
		if e.cache != nil {
			if vec, ok := e.cache.Get(key); ok {
				out[i] = vec
				continue
			}
		}
		if _, seen := positions[key]; !seen {
			missing = append(missing, text)
		}
		positions[key] = append(positions[key], i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors := make([][]float32, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxInFlight)
	for start := 0; start < len(missing); start += e.batchSize {
		end := start + e.batchSize
		if end > len(missing) {
			end = len(missing)
		}
		g.Go(func() error {
			vecs, err := e.embedBatch(gctx, missing[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding count mismatch (got %d want %d)", len(vecs), end-start)
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, text := range missing {
		key := cacheKey(text)
		if e.cache != nil {
			e.cache.Set(key, vectors[i])
		}
		for _, pos := range positions[key] {
			out[pos] = vectors[i]
		}
	}
	e.log.Debug("Embedded texts", "requested", len(texts), "computed", len(missing))
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	call := func(ctx context.Context) ([][]float32, error) { return e.ai.Embed(ctx, batch) }
	if e.breaker == nil {
		return call(ctx)
	}
	return resilience.Call(ctx, e.breaker, call)
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
