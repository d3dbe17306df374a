package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/podscribe-backend/internal/data/db"
	"github.com/yungbote/podscribe-backend/internal/data/repos"
	"github.com/yungbote/podscribe-backend/internal/http"
	"github.com/yungbote/podscribe-backend/internal/observability"
	"github.com/yungbote/podscribe-backend/internal/platform/envutil"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    repos.Set
	Clients  Clients
	Services Services
	Hub      *realtime.Hub
	Metrics  *observability.Metrics

	pg           *db.PostgresService
	server       *http.Server
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

// New builds everything the API needs. Background loops start in Start.
func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	metrics := observability.Init(log)
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "podscribe-api",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	pg, err := db.NewPostgresService(log, cfg.Pool)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if cfg.AutoMigrate {
		if err := pg.Migrate(cfg.UseSQLMigrate); err != nil {
			_ = pg.Close()
			log.Sync()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
	}
	theDB := pg.DB()

	reposet := repos.NewSet(theDB, log)

	clients, err := wireClients(ctx, log, cfg, metrics)
	if err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	serviceset, err := wireServices(theDB, log, cfg, reposet, clients, metrics)
	if err != nil {
		clients.Close()
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	hub := realtime.NewHub(log)
	handlerset := wireHandlers(log, sqlPinger{theDB}, serviceset, clients, hub)
	router := wireRouter(log, cfg, handlerset, metrics)

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		Hub:          hub,
		Metrics:      metrics,
		pg:           pg,
		server:       http.NewServer(":"+cfg.Port, router),
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the realtime forwarder, the Temporal worker and the
// maintenance sweeps.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.Clients.Bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
		return fmt.Errorf("start realtime forwarder: %w", err)
	}
	if a.Services.Worker != nil {
		if err := a.Services.Worker.Start(ctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
	}
	if a.Cfg.MaintenanceEnabled {
		a.Services.Maintenance.Start(ctx)
	}
	return nil
}

func (a *App) Run() error {
	if a == nil || a.server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Server listening", "port", a.Cfg.Port)
	return a.server.Run()
}

// Close stops the HTTP server, the background loops and every client. In
// flight jobs under the local dispatcher are abandoned; their rows are
// picked up by the next reconcile.
func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.Log.Warn("HTTP shutdown failed", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Dispatcher != nil {
		a.Services.Dispatcher.Close()
	}
	a.Clients.Close()
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
	a.Log.Sync()
}

type sqlPinger struct{ db *gorm.DB }

func (p sqlPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
