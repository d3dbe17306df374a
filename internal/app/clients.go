package app

import (
	"context"
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/podscribe-backend/internal/clients/transcription"
	"github.com/yungbote/podscribe-backend/internal/observability"
	"github.com/yungbote/podscribe-backend/internal/platform/envutil"
	"github.com/yungbote/podscribe-backend/internal/platform/gcp"
	"github.com/yungbote/podscribe-backend/internal/platform/localmedia"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/platform/openai"
	"github.com/yungbote/podscribe-backend/internal/platform/qdrant"
	"github.com/yungbote/podscribe-backend/internal/realtime/bus"
	"github.com/yungbote/podscribe-backend/internal/resilience"
	"github.com/yungbote/podscribe-backend/internal/temporalx"
)

type Clients struct {
	Breakers  *resilience.Registry
	Providers *transcription.Registry
	OpenAI    openai.Client
	Vectors   qdrant.Store
	Media     localmedia.Tools
	Bus       bus.Bus
	// Bucket is nil unless GCS_AUDIO_BUCKET is set.
	Bucket gcp.AudioBucket
	// Temporal is nil unless TEMPORAL_ADDRESS is set.
	Temporal temporalsdkclient.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config, metrics *observability.Metrics) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	c.Breakers = resilience.NewRegistry(log, metrics.BreakerListener())

	// Transcription providers
	tcfg, err := transcription.LoadOverrides(transcription.ConfigFromEnv(), cfg.ProviderConfig)
	if err != nil {
		return c, err
	}
	c.Providers = transcription.NewRegistry(tcfg, log, c.Breakers)

	// Openai
	c.OpenAI, err = openai.NewClient(log, openai.ConfigFromEnv(), metrics)
	if err != nil {
		return c, fmt.Errorf("init openai client: %w", err)
	}

	// Qdrant
	qcfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		return c, fmt.Errorf("qdrant config: %w", err)
	}
	c.Vectors, err = qdrant.NewVectorStore(log, qcfg)
	if err != nil {
		return c, fmt.Errorf("init qdrant: %w", err)
	}
	if err := c.Vectors.EnsureCollection(ctx); err != nil {
		log.Warn("Qdrant collection check failed (continuing)", "error", err)
	}

	// Local media
	c.Media = localmedia.New(log, localmedia.Options{
		AudioDir: cfg.AudioDir,
		YtDlpBin: cfg.YtDlpBin,
		Timeout:  cfg.DownloadTimeout,
	})
	if err := c.Media.AssertReady(ctx); err != nil {
		log.Warn("Media tools not ready; downloads will fail", "error", err)
	}

	// Gcs
	if envutil.String("GCS_AUDIO_BUCKET", "") != "" {
		c.Bucket, err = gcp.NewAudioBucketFromEnv(ctx, log)
		if err != nil {
			c.Close()
			return c, fmt.Errorf("init audio bucket: %w", err)
		}
	}

	// Realtime bus
	c.Bus, err = bus.FromEnv(log)
	if err != nil {
		log.Warn("Redis unavailable; realtime updates stay in-process", "error", err)
	}

	// Temporal
	c.Temporal, err = temporalx.NewClient(ctx, log, cfg.Temporal)
	if err != nil {
		c.Close()
		return c, fmt.Errorf("init temporal: %w", err)
	}

	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Bucket != nil {
		_ = c.Bucket.Close()
	}
}
