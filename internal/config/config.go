// Package config provides configuration for the experiment server.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort     int
	InternalPort int

	// Database. Empty disables the archive store.
	DatabaseURL string

	// Execution
	ExecutionTimeout time.Duration
	MonitorInterval  time.Duration

	// Hosts the webhook executor may call. Empty disables webhook endpoints.
	WebhookAllowedHosts []string

	// Analysis
	SignificanceMode       domain.SignificanceMode
	SignificanceAlpha      float64
	SignificanceMinSamples int
	MissingMetricPolicy    domain.MissingMetricPolicy

	// Optional YAML file with experiments created at boot.
	ExperimentsFile string

	// Policy file replacing the built-in lifecycle policy.
	PolicyFile string

	// Live feed websocket settings
	FeedPingInterval time.Duration
	FeedWriteTimeout time.Duration
	FeedReadTimeout  time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:               getEnvInt("HTTP_PORT", 8080),
		InternalPort:           getEnvInt("INTERNAL_PORT", 8081),
		DatabaseURL:            getEnv("DATABASE_URL", "file:experiments.db?cache=shared&mode=rwc"),
		ExecutionTimeout:       time.Duration(getEnvInt("EXECUTION_TIMEOUT_MS", 5000)) * time.Millisecond,
		MonitorInterval:        time.Duration(getEnvInt("MONITOR_INTERVAL_MS", 1000)) * time.Millisecond,
		SignificanceMode:       domain.SignificanceMode(getEnv("SIGNIFICANCE_MODE", string(domain.SignificanceWelch))),
		SignificanceAlpha:      getEnvFloat("SIGNIFICANCE_ALPHA", 0.05),
		SignificanceMinSamples: getEnvInt("SIGNIFICANCE_MIN_SAMPLES", 100),
		MissingMetricPolicy:    domain.MissingMetricPolicy(getEnv("MISSING_METRIC_POLICY", string(domain.MissingMetricRandom))),
		WebhookAllowedHosts:    getEnvList("WEBHOOK_ALLOWED_HOSTS"),
		ExperimentsFile:        getEnv("EXPERIMENTS_FILE", ""),
		PolicyFile:             getEnv("POLICY_FILE", ""),
		FeedPingInterval:       time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		FeedWriteTimeout:       time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		FeedReadTimeout:        time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "text"),
	}
	if _, set := os.LookupEnv("DATABASE_URL"); set && os.Getenv("DATABASE_URL") == "" {
		cfg.DatabaseURL = ""
	}
	return cfg
}

// Defaults returns the configuration Load produces with an empty environment
// and no archive store.
func Defaults() *Config {
	return &Config{
		HTTPPort:               8080,
		InternalPort:           8081,
		ExecutionTimeout:       5 * time.Second,
		MonitorInterval:        time.Second,
		SignificanceMode:       domain.SignificanceWelch,
		SignificanceAlpha:      0.05,
		SignificanceMinSamples: 100,
		MissingMetricPolicy:    domain.MissingMetricRandom,
		FeedPingInterval:       30 * time.Second,
		FeedWriteTimeout:       10 * time.Second,
		FeedReadTimeout:        time.Minute,
		LogLevel:               "info",
		LogFormat:              "text",
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch c.SignificanceMode {
	case domain.SignificanceWelch, domain.SignificanceThreshold:
	default:
		return fmt.Errorf("SIGNIFICANCE_MODE must be %q or %q, got %q", domain.SignificanceWelch, domain.SignificanceThreshold, c.SignificanceMode)
	}
	switch c.MissingMetricPolicy {
	case domain.MissingMetricRandom, domain.MissingMetricSkip:
	default:
		return fmt.Errorf("MISSING_METRIC_POLICY must be %q or %q, got %q", domain.MissingMetricRandom, domain.MissingMetricSkip, c.MissingMetricPolicy)
	}
	if c.SignificanceAlpha <= 0 || c.SignificanceAlpha >= 1 {
		return fmt.Errorf("SIGNIFICANCE_ALPHA must be in (0, 1), got %v", c.SignificanceAlpha)
	}
	if c.SignificanceMinSamples < 2 {
		return fmt.Errorf("SIGNIFICANCE_MIN_SAMPLES must be at least 2, got %d", c.SignificanceMinSamples)
	}
	if c.ExecutionTimeout <= 0 {
		return fmt.Errorf("EXECUTION_TIMEOUT_MS must be positive")
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL_MS must be positive")
	}
	return nil
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(c.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated variable, dropping blank entries.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
