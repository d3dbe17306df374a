package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(nil)
	if cfg.Port != "8080" {
		t.Fatalf("port: got %q", cfg.Port)
	}
	if cfg.Chunker.TargetWords != 500 || cfg.Chunker.OverlapWords != 50 {
		t.Fatalf("chunker: got %+v", cfg.Chunker)
	}
	if cfg.Maintenance.AudioMaxAge != 24*time.Hour {
		t.Fatalf("audio max age: got %v", cfg.Maintenance.AudioMaxAge)
	}
	if cfg.Temporal.Enabled() {
		t.Fatalf("temporal should be off without an address")
	}
	if cfg.StaleJobAfter != 105*time.Minute {
		t.Fatalf("stale job after: got %v", cfg.StaleJobAfter)
	}
}

func TestStaleJobAfterOverride(t *testing.T) {
	t.Setenv("STALE_JOB_AFTER", "20m")
	if got := LoadConfig(nil).StaleJobAfter; got != 20*time.Minute {
		t.Fatalf("stale job after: got %v", got)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CHUNK_SIZE", "300")
	t.Setenv("AUDIO_MAX_AGE", "2h")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("DB_POOL_SIZE", "4")

	cfg := LoadConfig(nil)
	if cfg.Port != "9090" || cfg.Chunker.TargetWords != 300 {
		t.Fatalf("got port=%q chunk=%d", cfg.Port, cfg.Chunker.TargetWords)
	}
	if cfg.Maintenance.AudioMaxAge != 2*time.Hour {
		t.Fatalf("audio max age: got %v", cfg.Maintenance.AudioMaxAge)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("origins: got %v", cfg.CORSOrigins)
	}
	if cfg.Pool.PoolSize != 4 {
		t.Fatalf("pool size: got %d", cfg.Pool.PoolSize)
	}
}
