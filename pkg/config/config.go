// Package config loads the service configuration from environment
// variables, with an optional .env file for local development, and
// validates it at startup so misconfiguration fails fast instead of
// surfacing as a runtime error deep inside the pipeline.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every tunable the worker and web processes read.
type Config struct {
	// DatabaseURL is the Postgres DSN backing the document store.
	DatabaseURL string `validate:"required"`

	// BusConnectionString enables the external event bus when non-empty.
	// Empty disables the external fan-out path with a single startup
	// warning.
	BusConnectionString string

	// HTTPPort is the web process listen port.
	HTTPPort string `validate:"required"`

	// AgentURL is the external agent service endpoint the worker invokes.
	AgentURL string

	// ObjectStoreBucket is the S3 bucket publish artifacts upload to.
	// Empty disables uploads (artifacts are discarded with a warning).
	ObjectStoreBucket string

	// SlowRepository is the threshold above which document store
	// operations are logged at warning level.
	SlowRepository time.Duration `validate:"min=0"`

	// MaxConcurrentHandlers caps in-flight change-feed handler tasks.
	MaxConcurrentHandlers int `validate:"gt=0"`

	// EventQueueMaxSize is the per-subscriber event queue capacity.
	EventQueueMaxSize int `validate:"gt=0"`

	// ChangeFeedPageSize is the max_item_count per change-feed poll.
	ChangeFeedPageSize int `validate:"gt=0"`

	// AgentRequestsPerMinute throttles external agent invocations.
	// Zero disables rate limiting.
	AgentRequestsPerMinute int `validate:"min=0"`
}

// Load reads configuration from the environment, loading envFile first if
// it exists (missing files are logged and skipped, matching local-dev use
// where the file is optional), then validates the result.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			slog.Info("config: no env file loaded, using process environment", "path", envFile)
		} else {
			slog.Info("config: loaded environment file", "path", envFile)
		}
	}

	cfg := &Config{
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		BusConnectionString:    os.Getenv("BUS_CONNECTION_STRING"),
		HTTPPort:               getEnv("HTTP_PORT", "8080"),
		AgentURL:               os.Getenv("AGENT_URL"),
		ObjectStoreBucket:      os.Getenv("OBJECT_STORE_BUCKET"),
		SlowRepository:         time.Duration(getEnvInt("SLOW_REPOSITORY_MS", 250)) * time.Millisecond,
		MaxConcurrentHandlers:  getEnvInt("MAX_CONCURRENT_HANDLERS", 25),
		EventQueueMaxSize:      getEnvInt("EVENT_QUEUE_MAXSIZE", 200),
		ChangeFeedPageSize:     getEnvInt("CHANGE_FEED_PAGE_SIZE", 100),
		AgentRequestsPerMinute: getEnvInt("AGENT_RPM_LIMIT", 0),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: ignoring non-numeric value", "key", key, "value", v)
		return fallback
	}
	return n
}
