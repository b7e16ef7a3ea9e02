// Package config loads application settings from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full application configuration.
type Config struct {
	// HTTP server.
	ListenAddr string

	// Pipeline concurrency cap for the webhook dispatcher.
	MaxConcurrentPipelines int64

	// Graceful shutdown drain window.
	ShutdownTimeout time.Duration

	// LLM analysis.
	AnthropicAPIKey  string
	AnthropicModel   string
	AnalysisCacheTTL time.Duration

	// Optional shared secret required on webhook endpoints.
	WebhookSecret string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg := &Config{
		ListenAddr:             getEnvOrDefault("LISTEN_ADDR", ":8080"),
		MaxConcurrentPipelines: int64(getEnvInt("MAX_CONCURRENT_PIPELINES", 8)),
		ShutdownTimeout:        getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		AnthropicAPIKey:        os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:         getEnvOrDefault("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		AnalysisCacheTTL:       getEnvDuration("ANALYSIS_CACHE_TTL", time.Hour),
		WebhookSecret:          os.Getenv("WEBHOOK_SECRET"),
	}

	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("Invalid integer env var, using default", "key", key, "value", val)
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("Invalid duration env var, using default", "key", key, "value", val)
		return defaultVal
	}
	return d
}
