package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/podscribe-backend/internal/http/handlers"
	httpMW "github.com/yungbote/podscribe-backend/internal/http/middleware"
	"github.com/yungbote/podscribe-backend/internal/observability"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	CORSOrigins []string
	ServiceName string

	HealthHandler   *httpH.HealthHandler
	BatchHandler    *httpH.BatchHandler
	JobHandler      *httpH.JobHandler
	ProviderHandler *httpH.ProviderHandler
	RealtimeHandler *httpH.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.RequestIDs())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		// Batches
		if cfg.BatchHandler != nil {
			api.GET("/batches", cfg.BatchHandler.ListBatches)
			api.POST("/batches", cfg.BatchHandler.CreateBatch)
			api.GET("/batches/:id", cfg.BatchHandler.GetBatch)
			api.DELETE("/batches/:id", cfg.BatchHandler.DeleteBatch)
			api.POST("/batches/:id/start", cfg.BatchHandler.StartBatch)
			api.POST("/batches/:id/pause", cfg.BatchHandler.PauseBatch)
			api.POST("/batches/:id/resume", cfg.BatchHandler.ResumeBatch)
			api.POST("/batches/:id/cancel", cfg.BatchHandler.CancelBatch)
			api.POST("/batches/:id/retry", cfg.BatchHandler.RetryBatch)
			api.POST("/batches/:id/reconcile", cfg.BatchHandler.ReconcileBatch)
			api.GET("/batches/:id/report.xlsx", cfg.BatchHandler.ExportReport)
		}

		// Jobs
		if cfg.JobHandler != nil {
			api.GET("/jobs", cfg.JobHandler.ListJobs)
			api.GET("/jobs/:id", cfg.JobHandler.GetJob)
			api.GET("/jobs/:id/logs", cfg.JobHandler.JobLogs)
			api.POST("/jobs/:id/retry", cfg.JobHandler.RetryJob)
			api.POST("/jobs/:id/pause", cfg.JobHandler.PauseJob)
			api.POST("/jobs/:id/resume", cfg.JobHandler.ResumeJob)
			api.POST("/jobs/:id/cancel", cfg.JobHandler.CancelJob)
		}

		// Providers
		if cfg.ProviderHandler != nil {
			api.GET("/providers", cfg.ProviderHandler.ListProviders)
			api.GET("/providers/health", cfg.ProviderHandler.ProviderHealth)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			api.GET("/stream", cfg.RealtimeHandler.Stream)
		}
	}

	return r
}
