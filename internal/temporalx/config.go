package temporalx

import (
	"time"

	"github.com/yungbote/podscribe-backend/internal/platform/envutil"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	AutoRegisterNamespace bool
	RetentionDays         int

	DialTimeout time.Duration
	DialMaxWait time.Duration

	// WorkerConcurrency caps concurrent batch activities per worker process.
	WorkerConcurrency int

	// ReconcileFirstDelay is the wait before the first re-run of a batch that
	// still has work; ReconcileDelay is used for every later one.
	ReconcileFirstDelay time.Duration
	ReconcileDelay      time.Duration
}

func LoadConfig() Config {
	return Config{
		Address:   envutil.String("TEMPORAL_ADDRESS", ""),
		Namespace: envutil.String("TEMPORAL_NAMESPACE", "podscribe"),
		TaskQueue: envutil.String("TEMPORAL_TASK_QUEUE", "podscribe-batches"),

		ClientCertPath: envutil.String("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  envutil.String("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   envutil.String("TEMPORAL_CLIENT_CA_PATH", ""),

		AutoRegisterNamespace: envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false),
		RetentionDays:         clampInt(envutil.Int("TEMPORAL_NAMESPACE_RETENTION_DAYS", 7), 1, 365),

		DialTimeout: envutil.Duration("TEMPORAL_DIAL_TIMEOUT", 5*time.Second),
		DialMaxWait: envutil.Duration("TEMPORAL_DIAL_MAX_WAIT", 60*time.Second),

		WorkerConcurrency: clampInt(envutil.Int("WORKER_CONCURRENCY", 4), 1, 256),

		ReconcileFirstDelay: envutil.Duration("RECONCILE_FIRST_DELAY", 10*time.Second),
		ReconcileDelay:      envutil.Duration("RECONCILE_DELAY", 30*time.Second),
	}
}

// Enabled reports whether a Temporal frontend is configured.
func (c Config) Enabled() bool { return c.Address != "" }

func (c Config) tlsEnabled() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
