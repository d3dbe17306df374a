package app

import (
	"strings"
	"time"

	"github.com/yungbote/podscribe-backend/internal/clients/transcription"
	"github.com/yungbote/podscribe-backend/internal/data/db"
	"github.com/yungbote/podscribe-backend/internal/jobs/maintenance"
	"github.com/yungbote/podscribe-backend/internal/pipeline"
	"github.com/yungbote/podscribe-backend/internal/platform/envutil"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/temporalx"
)

type Config struct {
	Port           string
	Environment    string
	Version        string
	CORSOrigins    []string
	UseSQLMigrate  bool
	AutoMigrate    bool
	ProviderConfig string

	AudioDir        string
	TranscriptsDir  string
	YtDlpBin        string
	DownloadTimeout time.Duration
	// StaleJobAfter is how long an in-pipeline job may sit untouched before
	// the controller reclaims it.
	StaleJobAfter time.Duration

	Chunker        pipeline.ChunkerConfig
	EmbedBatchSize int
	EmbedInFlight  int
	EmbedCacheSize int
	EmbedCacheTTL  time.Duration

	Pool        db.PoolConfig
	Temporal    temporalx.Config
	Maintenance maintenance.Config

	MaintenanceEnabled bool
}

func LoadConfig(log *logger.Logger) Config {
	chunker := pipeline.DefaultChunkerConfig()
	chunker.TargetWords = envutil.Int("CHUNK_SIZE", chunker.TargetWords)
	chunker.OverlapWords = envutil.Int("CHUNK_OVERLAP", chunker.OverlapWords)

	var origins []string
	if raw := envutil.String("CORS_ALLOWED_ORIGINS", ""); raw != "" {
		origins = strings.Split(raw, ",")
	}

	cfg := Config{
		Port:           envutil.String("PORT", "8080"),
		Environment:    envutil.String("ENVIRONMENT", "development"),
		Version:        envutil.String("APP_VERSION", "dev"),
		CORSOrigins:    origins,
		UseSQLMigrate:  envutil.Bool("DB_SQL_MIGRATIONS", false),
		AutoMigrate:    envutil.Bool("DB_AUTO_MIGRATE", true),
		ProviderConfig: envutil.String("PROVIDER_CONFIG_PATH", ""),

		AudioDir:        envutil.String("AUDIO_DIR", "./data/audio"),
		TranscriptsDir:  envutil.String("TRANSCRIPTS_DIR", "./data/transcripts"),
		YtDlpBin:        envutil.String("YTDLP_BIN", "yt-dlp"),
		DownloadTimeout: envutil.Duration("DOWNLOAD_TIMEOUT", 30*time.Minute),
		StaleJobAfter:   envutil.Duration("STALE_JOB_AFTER", 0),

		Chunker:        chunker,
		EmbedBatchSize: envutil.Int("EMBED_BATCH_SIZE", 100),
		EmbedInFlight:  envutil.Int("EMBED_MAX_IN_FLIGHT", 4),
		EmbedCacheSize: envutil.Int("EMBED_CACHE_SIZE", 10000),
		EmbedCacheTTL:  envutil.Duration("EMBED_CACHE_TTL", time.Hour),

		Pool:     db.PoolConfigFromEnv(),
		Temporal: temporalx.LoadConfig(),
		Maintenance: maintenance.Config{
			AudioMaxAge:     envutil.Duration("AUDIO_MAX_AGE", 24*time.Hour),
			CleanupInterval: envutil.Duration("AUDIO_CLEANUP_INTERVAL", time.Hour),
			StatsInterval:   envutil.Duration("CHANNEL_STATS_INTERVAL", 5*time.Minute),
		},
		MaintenanceEnabled: envutil.Bool("MAINTENANCE_ENABLED", true),
	}
	if cfg.StaleJobAfter <= 0 {
		// Longest quiet stretch a live job can have: a full download, then
		// the whole transcription wait.
		cfg.StaleJobAfter = cfg.DownloadTimeout + transcription.DefaultWaitOptions().Timeout + 15*time.Minute
	}
	if log != nil {
		log.Info("Config loaded",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"pool_size", cfg.Pool.PoolSize,
			"temporal", cfg.Temporal.Enabled(),
			"audio_dir", cfg.AudioDir,
		)
	}
	return cfg
}
