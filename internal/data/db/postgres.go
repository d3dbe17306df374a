package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/podscribe-backend/internal/platform/envutil"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

// PoolConfig sizes the connection pool. PoolSize is the budget reserved for
// batch execution; batch concurrency is clamped to it.
type PoolConfig struct {
	PoolSize     int
	PoolOverflow int
	MaxIdleTime  time.Duration
}

func PoolConfigFromEnv() PoolConfig {
	return PoolConfig{
		PoolSize:     envutil.Int("DB_POOL_SIZE", 10),
		PoolOverflow: envutil.Int("DB_POOL_OVERFLOW", 5),
		MaxIdleTime:  envutil.Duration("DB_POOL_MAX_IDLE_TIME", 5*time.Minute),
	}
}

type PostgresService struct {
	db   *gorm.DB
	log  *logger.Logger
	pool PoolConfig
	dsn  string
}

func DSNFromEnv() string {
	if dsn := envutil.String("DATABASE_URL", ""); dsn != "" {
		return dsn
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		envutil.String("POSTGRES_USER", "postgres"),
		envutil.String("POSTGRES_PASSWORD", ""),
		envutil.String("POSTGRES_HOST", "localhost"),
		envutil.String("POSTGRES_PORT", "5432"),
		envutil.String("POSTGRES_NAME", "podscribe"),
		envutil.String("POSTGRES_SSLMODE", "disable"),
	)
}

func NewPostgresService(logg *logger.Logger, pool PoolConfig) (*PostgresService, error) {
	serviceLog := logg.With("service", "PostgresService")
	dsn := DSNFromEnv()

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if pool.PoolSize <= 0 {
		pool.PoolSize = 10
	}
	sqlDB.SetMaxOpenConns(pool.PoolSize + pool.PoolOverflow)
	sqlDB.SetMaxIdleConns(pool.PoolSize)
	if pool.MaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(pool.MaxIdleTime)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}

	serviceLog.Info("Connected to Postgres", "pool_size", pool.PoolSize, "pool_overflow", pool.PoolOverflow)
	return &PostgresService{db: db, log: serviceLog, pool: pool, dsn: dsn}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

func (s *PostgresService) Pool() PoolConfig { return s.pool }

func (s *PostgresService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
