package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	DBDriver  string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBDSN     string `envconfig:"DB_DSN" default:"catalogsync.db"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	RedisURL  string `envconfig:"REDIS_URL"`

	ProviderName       string        `envconfig:"PROVIDER_NAME" default:"pricing"`
	ProviderURL        string        `envconfig:"PROVIDER_URL" default:"http://127.0.0.1:8000/v1"`
	ProviderAPIKey     string        `envconfig:"PROVIDER_API_KEY"`
	RateCapacity       int           `envconfig:"PROVIDER_RATE_CAPACITY" default:"60"`
	RatePerMinute      int           `envconfig:"PROVIDER_RATE_PER_MINUTE" default:"300"`
	RateMaxWait        time.Duration `envconfig:"PROVIDER_RATE_MAX_WAIT" default:"30s"`
	ProviderTimeout    time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`
	ProviderMaxRetries int           `envconfig:"PROVIDER_MAX_RETRIES" default:"3"`
	RetryBase          time.Duration `envconfig:"PROVIDER_RETRY_BASE" default:"1s"`
	RetryJitter        float64       `envconfig:"PROVIDER_RETRY_JITTER" default:"0.25"`
	PageSize           int           `envconfig:"PROVIDER_PAGE_SIZE" default:"100"`
	BatchMax           int           `envconfig:"PROVIDER_BATCH_MAX" default:"100"`
	SetCacheTTL        time.Duration `envconfig:"SET_CACHE_TTL" default:"12h"`

	SyncCooldown        time.Duration `envconfig:"SYNC_COOLDOWN" default:"12h"`
	JobLiveness         time.Duration `envconfig:"JOB_LIVENESS_WINDOW" default:"30m"`
	QueueLiveness       time.Duration `envconfig:"QUEUE_LIVENESS_WINDOW" default:"15m"`
	JobMaxRetries       int           `envconfig:"JOB_MAX_RETRIES" default:"3"`
	QueueMaxAttempts    int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3"`
	DrainTimeBudget     time.Duration `envconfig:"DRAIN_TIME_BUDGET" default:"4m"`
	DrainMaxConcurrency int           `envconfig:"DRAIN_MAX_CONCURRENCY" default:"3"`
	DrainMaxBatches     int           `envconfig:"DRAIN_MAX_BATCHES" default:"10"`
	DrainBatchSize      int           `envconfig:"DRAIN_BATCH_SIZE" default:"5"`
	TriggerRateLimit    float64       `envconfig:"TRIGGER_RATE_LIMIT_RPS" default:"1"`
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var errors []string

	if c.Port == "" {
		errors = append(errors, "PORT cannot be empty")
	} else {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			errors = append(errors, fmt.Sprintf("PORT must be a valid number, got: %s", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be between 1 and 65535, got: %d", port))
		}
	}

	validDrivers := map[string]bool{
		"sqlite": true,
		"pgx":    true,
	}
	if !validDrivers[c.DBDriver] {
		errors = append(errors, fmt.Sprintf("DB_DRIVER must be one of: sqlite, pgx, got: %s", c.DBDriver))
	}

	if c.DBDSN == "" {
		errors = append(errors, "DB_DSN cannot be empty")
	}

	if c.ProviderURL == "" {
		errors = append(errors, "PROVIDER_URL cannot be empty")
	} else if u, err := url.Parse(c.ProviderURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, fmt.Sprintf("PROVIDER_URL is not a valid URL: %s", c.ProviderURL))
	}

	if c.RedisURL != "" {
		if _, err := url.Parse(c.RedisURL); err != nil {
			errors = append(errors, fmt.Sprintf("REDIS_URL is not a valid URL: %s", c.RedisURL))
		}
	}

	if c.RateCapacity < 1 {
		errors = append(errors, fmt.Sprintf("PROVIDER_RATE_CAPACITY must be positive, got: %d", c.RateCapacity))
	}
	if c.RatePerMinute < 1 {
		errors = append(errors, fmt.Sprintf("PROVIDER_RATE_PER_MINUTE must be positive, got: %d", c.RatePerMinute))
	}
	if c.ProviderTimeout <= 0 {
		errors = append(errors, "PROVIDER_TIMEOUT must be positive")
	}
	if c.ProviderMaxRetries < 0 {
		errors = append(errors, fmt.Sprintf("PROVIDER_MAX_RETRIES cannot be negative, got: %d", c.ProviderMaxRetries))
	}
	if c.RetryJitter < 0 || c.RetryJitter >= 1 {
		errors = append(errors, fmt.Sprintf("PROVIDER_RETRY_JITTER must be in [0, 1), got: %v", c.RetryJitter))
	}
	if c.PageSize < 1 {
		errors = append(errors, fmt.Sprintf("PROVIDER_PAGE_SIZE must be positive, got: %d", c.PageSize))
	}
	if c.BatchMax < 1 || c.BatchMax > 100 {
		errors = append(errors, fmt.Sprintf("PROVIDER_BATCH_MAX must be between 1 and 100, got: %d", c.BatchMax))
	}

	if c.SyncCooldown < 0 {
		errors = append(errors, "SYNC_COOLDOWN cannot be negative")
	}
	if c.JobLiveness <= 0 {
		errors = append(errors, "JOB_LIVENESS_WINDOW must be positive")
	}
	if c.QueueLiveness <= 0 {
		errors = append(errors, "QUEUE_LIVENESS_WINDOW must be positive")
	}
	if c.DrainTimeBudget <= 0 {
		errors = append(errors, "DRAIN_TIME_BUDGET must be positive")
	} else if c.QueueLiveness > 0 && c.DrainTimeBudget >= c.QueueLiveness {
		errors = append(errors, fmt.Sprintf("DRAIN_TIME_BUDGET (%s) must be shorter than QUEUE_LIVENESS_WINDOW (%s)", c.DrainTimeBudget, c.QueueLiveness))
	}
	if c.DrainMaxConcurrency < 1 {
		errors = append(errors, fmt.Sprintf("DRAIN_MAX_CONCURRENCY must be positive, got: %d", c.DrainMaxConcurrency))
	}
	if c.DrainMaxBatches < 1 {
		errors = append(errors, fmt.Sprintf("DRAIN_MAX_BATCHES must be positive, got: %d", c.DrainMaxBatches))
	}
	if c.DrainBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("DRAIN_BATCH_SIZE must be positive, got: %d", c.DrainBatchSize))
	}
	if c.QueueMaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("QUEUE_MAX_ATTEMPTS must be positive, got: %d", c.QueueMaxAttempts))
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: text, json, got: %s", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// RefillPerSecond converts the per-minute provider budget into a token refill rate.
func (c *Config) RefillPerSecond() float64 {
	return float64(c.RatePerMinute) / 60.0
}
