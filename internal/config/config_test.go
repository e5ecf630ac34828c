package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Run("requires DATABASE_URL", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error when DATABASE_URL is missing")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/test")
		t.Setenv("REDIS_URL", "")
		t.Setenv("PORT", "")
		t.Setenv("LOG_LEVEL", "")
		t.Setenv("JOB_POLL_INTERVAL", "")
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Port != "8080" {
			t.Errorf("port = %q", cfg.Port)
		}
		if cfg.LogLevel != slog.LevelInfo {
			t.Errorf("log level = %v", cfg.LogLevel)
		}
		if cfg.JobPollInterval != 5*time.Second || cfg.JobLease != 60*time.Second {
			t.Errorf("job knobs = %v / %v", cfg.JobPollInterval, cfg.JobLease)
		}
		if cfg.JobMaxAttempts != 10 {
			t.Errorf("max attempts = %d", cfg.JobMaxAttempts)
		}
		if cfg.JobBackoffBase != 60*time.Second || cfg.JobBackoffCap != time.Hour {
			t.Errorf("backoff = %v / %v", cfg.JobBackoffBase, cfg.JobBackoffCap)
		}
		if cfg.HandlerTxTimeout != 30*time.Second {
			t.Errorf("tx timeout = %v", cfg.HandlerTxTimeout)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/test")
		t.Setenv("PORT", "9999")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("JOB_POLL_INTERVAL", "1s")
		t.Setenv("JOB_MAX_ATTEMPTS", "3")
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Port != "9999" || cfg.LogLevel != slog.LevelDebug {
			t.Errorf("cfg = %+v", cfg)
		}
		if cfg.JobPollInterval != time.Second || cfg.JobMaxAttempts != 3 {
			t.Errorf("job knobs = %v / %d", cfg.JobPollInterval, cfg.JobMaxAttempts)
		}
	})

	t.Run("invalid values fall back to defaults", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/test")
		t.Setenv("JOB_MAX_ATTEMPTS", "minus-one")
		t.Setenv("JOB_POLL_INTERVAL", "-5s")
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatal(err)
		}
		if cfg.JobMaxAttempts != 10 || cfg.JobPollInterval != 5*time.Second {
			t.Errorf("fallbacks = %d / %v", cfg.JobMaxAttempts, cfg.JobPollInterval)
		}
	})
}
