// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	GitHubToken   string
	WebhookSecret string
	ListenAddr    string
	DBPath        string
	PublicURL     string
	LogLevel      slog.Level

	WorkflowFileExt string
	ConfigFileGlob  string

	MergeablePollAttempts int
	MergeablePollInterval time.Duration
	DispatchConcurrency   int

	DeliveryCacheTTL    time.Duration
	WebhookWorkers      int
	WebhookRatePerMin   int
	ReconcileInterval   time.Duration
	ReconcileStaleAfter time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// HOOKRELAY_GITHUB_TOKEN and HOOKRELAY_WEBHOOK_SECRET are required; every
// other variable is optional and falls back to a default.
func Load() (*Config, error) {
	cfg := &Config{
		GitHubToken:           os.Getenv("HOOKRELAY_GITHUB_TOKEN"),
		WebhookSecret:         os.Getenv("HOOKRELAY_WEBHOOK_SECRET"),
		ListenAddr:            stringEnv("HOOKRELAY_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:                stringEnv("HOOKRELAY_DB_PATH", "hookrelay.db"),
		PublicURL:             strings.TrimRight(os.Getenv("HOOKRELAY_PUBLIC_URL"), "/"),
		WorkflowFileExt:       stringEnv("HOOKRELAY_WORKFLOW_FILE_EXT", ".yaml"),
		ConfigFileGlob:        stringEnv("HOOKRELAY_CONFIG_FILE_GLOB", ".github/hooks/**/*.yaml"),
		MergeablePollAttempts: 5,
		MergeablePollInterval: 2 * time.Second,
		DispatchConcurrency:   4,
		DeliveryCacheTTL:      time.Hour,
		WebhookWorkers:        16,
		WebhookRatePerMin:     600,
		ReconcileInterval:     5 * time.Minute,
		ReconcileStaleAfter:   10 * time.Minute,
	}

	var missing []string
	if cfg.GitHubToken == "" {
		missing = append(missing, "HOOKRELAY_GITHUB_TOKEN")
	}
	if cfg.WebhookSecret == "" {
		missing = append(missing, "HOOKRELAY_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	var errs []error
	errs = append(errs,
		durationEnv("HOOKRELAY_MERGEABLE_POLL_INTERVAL", &cfg.MergeablePollInterval),
		durationEnv("HOOKRELAY_DELIVERY_CACHE_TTL", &cfg.DeliveryCacheTTL),
		durationEnv("HOOKRELAY_RECONCILE_INTERVAL", &cfg.ReconcileInterval),
		durationEnv("HOOKRELAY_RECONCILE_STALE_AFTER", &cfg.ReconcileStaleAfter),
		positiveIntEnv("HOOKRELAY_MERGEABLE_POLL_ATTEMPTS", &cfg.MergeablePollAttempts),
		positiveIntEnv("HOOKRELAY_DISPATCH_CONCURRENCY", &cfg.DispatchConcurrency),
		positiveIntEnv("HOOKRELAY_WEBHOOK_WORKERS", &cfg.WebhookWorkers),
		nonNegativeIntEnv("HOOKRELAY_WEBHOOK_RATE_LIMIT", &cfg.WebhookRatePerMin),
		levelEnv("HOOKRELAY_LOG_LEVEL", &cfg.LogLevel),
	)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if !strings.HasPrefix(cfg.WorkflowFileExt, ".") {
		return nil, fmt.Errorf("HOOKRELAY_WORKFLOW_FILE_EXT must start with a dot, got %q", cfg.WorkflowFileExt)
	}
	if cfg.PublicURL != "" && !strings.HasPrefix(cfg.PublicURL, "http://") && !strings.HasPrefix(cfg.PublicURL, "https://") {
		return nil, fmt.Errorf("HOOKRELAY_PUBLIC_URL must be an http(s) URL, got %q", cfg.PublicURL)
	}

	return cfg, nil
}

func stringEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func durationEnv(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("%s must be positive, got %s", key, v)
	}
	*dst = parsed
	return nil
}

func positiveIntEnv(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	*dst = n
	return nil
}

func nonNegativeIntEnv(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fmt.Errorf("%s must be a non-negative integer, got %q", key, v)
	}
	*dst = n
	return nil
}

func levelEnv(key string, dst *slog.Level) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	if err := dst.UnmarshalText([]byte(v)); err != nil {
		return fmt.Errorf("%s has invalid log level %q: %w", key, v, err)
	}
	return nil
}
