package app

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/podscribe-backend/internal/http"
	httpH "github.com/yungbote/podscribe-backend/internal/http/handlers"
	"github.com/yungbote/podscribe-backend/internal/observability"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/realtime"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Batch    *httpH.BatchHandler
	Job      *httpH.JobHandler
	Provider *httpH.ProviderHandler
	Realtime *httpH.RealtimeHandler
}

func wireHandlers(log *logger.Logger, db httpH.Pinger, svcs Services, c Clients, hub *realtime.Hub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(db),
		Batch:    httpH.NewBatchHandler(svcs.Batches, svcs.Orchestrator, svcs.Reporter),
		Job:      httpH.NewJobHandler(svcs.Jobs),
		Provider: httpH.NewProviderHandler(c.Providers.Config(), c.Breakers),
		Realtime: httpH.NewRealtimeHandler(log, hub),
	}
}

func wireRouter(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *gin.Engine {
	return http.NewRouter(http.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		CORSOrigins:     cfg.CORSOrigins,
		ServiceName:     "podscribe-api",
		HealthHandler:   handlers.Health,
		BatchHandler:    handlers.Batch,
		JobHandler:      handlers.Job,
		ProviderHandler: handlers.Provider,
		RealtimeHandler: handlers.Realtime,
	})
}
