// config.go

// Environment variable loading and validation. A .env file in the working
// directory is loaded first (if present) so local runs don't need exports.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all env configuration for the service.
type Config struct {
	DatabaseURL string
	// RedisURL is optional; empty disables the request rate limiter.
	RedisURL string
	Port     string
	AppEnv   string
	LogLevel slog.Level

	// Job runner knobs. Defaults: poll 5s, lease 60s, backoff 60s..1h,
	// 10 attempts, batches of 10.
	JobPollInterval time.Duration
	JobLease        time.Duration
	JobMaxAttempts  int
	JobBackoffBase  time.Duration
	JobBackoffCap   time.Duration
	JobBatchSize    int

	// HandlerTxTimeout bounds every engine and job-handler transaction.
	HandlerTxTimeout time.Duration

	// Rate limit policy per user email on mutating endpoints.
	// Defaults: max=60, window=1m, lockout=1m. Only used when RedisURL is set.
	RateMax     int
	RateWindow  time.Duration
	RateLockout time.Duration
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if DATABASE_URL is missing.
func LoadConfig() (*Config, error) {
	// Best effort; absence of a .env file is not an error.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	cfg.AppEnv = os.Getenv("APP_ENV")
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.JobPollInterval = envDuration("JOB_POLL_INTERVAL", 5*time.Second)
	cfg.JobLease = envDuration("JOB_LEASE", 60*time.Second)
	cfg.JobMaxAttempts = envInt("JOB_MAX_ATTEMPTS", 10)
	cfg.JobBackoffBase = envDuration("JOB_BACKOFF_BASE", 60*time.Second)
	cfg.JobBackoffCap = envDuration("JOB_BACKOFF_CAP", time.Hour)
	cfg.JobBatchSize = envInt("JOB_BATCH_SIZE", 10)

	cfg.HandlerTxTimeout = envDuration("HANDLER_TX_TIMEOUT", 30*time.Second)

	cfg.RateMax = envInt("RATE_MAX", 60)
	cfg.RateWindow = envDuration("RATE_WINDOW", time.Minute)
	cfg.RateLockout = envDuration("RATE_LOCKOUT", time.Minute)

	return cfg, nil
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing
// or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
