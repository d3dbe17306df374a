package qdrant

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/yungbote/podscribe-backend/internal/platform/envutil"
)

const (
	DefaultCollection = "podcast_chunks"
	DefaultVectorDim  = 1536
)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	VectorDim  int
}

type ConfigErrorCode string

const (
	ConfigErrorMissingURL       ConfigErrorCode = "missing_url"
	ConfigErrorInvalidURL       ConfigErrorCode = "invalid_url"
	ConfigErrorInvalidVectorDim ConfigErrorCode = "invalid_vector_dim"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	switch e.Code {
	case ConfigErrorMissingURL:
		return "QDRANT_URL is required"
	case ConfigErrorInvalidURL:
		return fmt.Sprintf("invalid QDRANT_URL=%q; expected absolute URL like http://qdrant:6333", e.Value)
	case ConfigErrorInvalidVectorDim:
		return fmt.Sprintf("invalid QDRANT_VECTOR_DIM=%q; expected positive integer", e.Value)
	default:
		return "invalid qdrant config"
	}
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// ResolveConfigFromEnv reads QDRANT_URL, QDRANT_API_KEY, QDRANT_COLLECTION
// and QDRANT_VECTOR_DIM.
func ResolveConfigFromEnv() (Config, error) {
	dim := DefaultVectorDim
	if raw := envutil.String("QDRANT_VECTOR_DIM", ""); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return Config{}, &ConfigError{Code: ConfigErrorInvalidVectorDim, Value: raw, Cause: err}
		}
		dim = parsed
	}
	cfg := Config{
		URL:        strings.TrimRight(envutil.String("QDRANT_URL", ""), "/"),
		APIKey:     envutil.String("QDRANT_API_KEY", ""),
		Collection: envutil.String("QDRANT_COLLECTION", DefaultCollection),
		VectorDim:  dim,
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if cfg.URL == "" {
		return &ConfigError{Code: ConfigErrorMissingURL}
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return &ConfigError{Code: ConfigErrorInvalidURL, Value: cfg.URL, Cause: err}
	}
	if cfg.VectorDim <= 0 {
		return &ConfigError{Code: ConfigErrorInvalidVectorDim, Value: strconv.Itoa(cfg.VectorDim)}
	}
	return nil
}
