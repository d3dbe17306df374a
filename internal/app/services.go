package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/podscribe-backend/internal/data/repos"
	"github.com/yungbote/podscribe-backend/internal/jobs/dispatch"
	"github.com/yungbote/podscribe-backend/internal/jobs/maintenance"
	"github.com/yungbote/podscribe-backend/internal/observability"
	"github.com/yungbote/podscribe-backend/internal/pipeline"
	"github.com/yungbote/podscribe-backend/internal/platform/cache"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/realtime"
	"github.com/yungbote/podscribe-backend/internal/resilience"
	"github.com/yungbote/podscribe-backend/internal/services"
	"github.com/yungbote/podscribe-backend/internal/temporalx/temporalworker"
)

type Services struct {
	Publisher    *realtime.Publisher
	Batches      services.BatchService
	Orchestrator services.BatchOrchestrator
	Controller   services.BatchController
	Jobs         services.JobControl
	Reporter     services.BatchReporter
	Dispatcher   dispatch.Dispatcher
	Maintenance  *maintenance.Service
	// Worker is nil unless Temporal is enabled.
	Worker *temporalworker.Runner
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, rs repos.Set, c Clients, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	pub := realtime.NewPublisher(c.Bus, log, metrics)

	// Pipeline
	embedder := pipeline.NewEmbedder(c.OpenAI, c.Breakers.Get(resilience.BreakerOpenAI), log, pipeline.EmbedderOptions{
		BatchSize:   cfg.EmbedBatchSize,
		MaxInFlight: cfg.EmbedInFlight,
		Cache:       cache.NewTTL[string, []float32](cfg.EmbedCacheSize, cfg.EmbedCacheTTL),
	})
	indexer := pipeline.NewIndexer(embedder, c.Vectors, c.Breakers.Get(resilience.BreakerQdrant), rs.Chunks, log)
	chunker := pipeline.NewChunker(cfg.Chunker)
	executor, err := pipeline.NewExecutor(pipeline.ExecutorDeps{
		DB:        db,
		Log:       log,
		Repos:     rs,
		Media:     c.Media,
		Providers: c.Providers,
		Bucket:    c.Bucket,
		Labeler:   pipeline.NewSpeakerLabeler(c.OpenAI, c.Breakers.Get(resilience.BreakerSpeakerLabeling), log),
		Chunker:   chunker,
		Indexer:   indexer,
		Backup:    pipeline.NewBackupWriter(cfg.TranscriptsDir),
		Publisher: pub,
		Observer:  metrics,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init executor: %w", err)
	}

	// Batches
	orch := services.NewBatchOrchestrator(db, log, rs, pub, metrics)
	ctrl := services.NewBatchController(db, log, rs, pub, orch, executor, metrics, services.ControllerConfig{
		PoolSize:   cfg.Pool.PoolSize,
		StaleAfter: cfg.StaleJobAfter,
		Providers:  c.Providers,
	})
	disp := dispatch.New(log, c.Temporal, cfg.Temporal, ctrl)
	orch.SetDispatcher(disp)

	batches := services.NewBatchService(db, log, rs, pub, c.Providers)

	out := Services{
		Publisher:    pub,
		Batches:      batches,
		Orchestrator: orch,
		Controller:   ctrl,
		Jobs:         services.NewJobControl(db, log, rs, pub, orch),
		Reporter:     services.NewBatchReporter(log, batches, rs),
		Dispatcher:   disp,
		Maintenance:  maintenance.New(log, rs, c.Media, remoteAudio(c), chunker, indexer, cfg.Maintenance),
	}

	if c.Temporal != nil {
		out.Worker, err = temporalworker.NewRunner(log, c.Temporal, cfg.Temporal, ctrl)
		if err != nil {
			disp.Close()
			return Services{}, fmt.Errorf("init temporal worker: %w", err)
		}
	}
	return out, nil
}

// remoteAudio keeps a nil bucket a nil interface.
func remoteAudio(c Clients) maintenance.RemoteAudio {
	if c.Bucket == nil {
		return nil
	}
	return c.Bucket
}
