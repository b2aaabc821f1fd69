// Package config loads settings for the redact CLI and the redactd
// service from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP service
	Addr            string
	APIKey          string
	MaxUploadBytes  int64
	RateLimit       float64
	RateBurst       int
	RunTTL          time.Duration
	ShutdownTimeout time.Duration

	// Engine
	Workers      int
	MaxResults   int
	SpecTimeout  time.Duration
	MatchTimeout time.Duration
	MaxFormDepth int
	OverlayText  string
	StyleFile    string

	// Output
	Linearize    bool
	Compress     bool
	Deduplicate  bool
	Verify       bool
	StrictVerify bool

	// Logging and tracing
	LogLevel  string
	LogFormat string
	Tracing   bool
}

// Load reads the dotenv file named by REDACT_ENV_FILE (default .env), if
// present, and then the environment. Variables already set win over the
// file.
func Load() (Config, error) {
	envFile := envOr("REDACT_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		Addr:            envOr("REDACT_ADDR", ":8080"),
		APIKey:          os.Getenv("REDACT_API_KEY"),
		MaxUploadBytes:  envInt64("REDACT_MAX_UPLOAD_BYTES", 52428800), // 50MB
		RateLimit:       envFloat("REDACT_RATE_LIMIT", 5),
		RateBurst:       envInt("REDACT_RATE_BURST", 10),
		RunTTL:          envDuration("REDACT_RUN_TTL", time.Hour),
		ShutdownTimeout: envDuration("REDACT_SHUTDOWN_TIMEOUT", 10*time.Second),

		Workers:      envInt("REDACT_WORKERS", runtime.NumCPU()),
		MaxResults:   envInt("REDACT_MAX_RESULTS", 1000),
		SpecTimeout:  envDuration("REDACT_SPEC_TIMEOUT", 30*time.Second),
		MatchTimeout: envDuration("REDACT_MATCH_TIMEOUT", 5*time.Second),
		MaxFormDepth: envInt("REDACT_MAX_FORM_DEPTH", 16),
		OverlayText:  os.Getenv("REDACT_OVERLAY"),
		StyleFile:    os.Getenv("REDACT_STYLE_FILE"),

		Linearize:    envBool("REDACT_LINEARIZE", false),
		Compress:     envBool("REDACT_COMPRESS", true),
		Deduplicate:  envBool("REDACT_DEDUPLICATE", false),
		Verify:       envBool("REDACT_VERIFY", false),
		StrictVerify: envBool("REDACT_STRICT_VERIFY", false),

		LogLevel:  envOr("REDACT_LOG_LEVEL", "info"),
		LogFormat: envOr("REDACT_LOG_FORMAT", "text"),
		Tracing:   envBool("REDACT_TRACING", false),
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return cfg, nil
}

// Validate checks bounds after flags have been applied.
func (c Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	case c.MaxResults <= 0:
		return fmt.Errorf("max results must be positive, got %d", c.MaxResults)
	case c.SpecTimeout < 0 || c.MatchTimeout < 0:
		return fmt.Errorf("timeouts must not be negative")
	case c.MaxFormDepth <= 0:
		return fmt.Errorf("max form depth must be positive, got %d", c.MaxFormDepth)
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("REDACT_MAX_UPLOAD_BYTES must be positive")
	case c.RateLimit < 0 || c.RateBurst < 0:
		return fmt.Errorf("rate limit must not be negative")
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("log format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
