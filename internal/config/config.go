package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/justyntemme/bookshelf/internal/storage"
)

const defaultJWTSecret = "bookshelf-default-secret-change-in-production"

// Config holds the whole application configuration, read from the environment
type Config struct {
	App      AppConfig
	Lookup   LookupConfig
	JWT      JWTConfig
	Artifact ArtifactConfig
}

type AppConfig struct {
	Environment   string // development, production
	LogLevel      string
	Port          string
	DataDir       string
	ShutdownGrace time.Duration
}

// LookupConfig drives the metadata providers and the thumbnail fetcher
type LookupConfig struct {
	GoogleAPIKey string
	Timeout      time.Duration // shared connect/read timeout
	Interval     time.Duration // minimum spacing between queued lookups
}

type JWTConfig struct {
	Secret string
}

type ArtifactConfig struct {
	Backend string // file, minio
	MinIO   storage.MinIOConfig
}

// Load reads .env if present, then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	cfg := &Config{
		App: AppConfig{
			Environment:   getEnv("BOOKSHELF_ENV", "production"),
			LogLevel:      getEnv("BOOKSHELF_LOG_LEVEL", "info"),
			Port:          getEnv("BOOKSHELF_PORT", "8080"),
			DataDir:       getEnv("BOOKSHELF_DATA_DIR", "./data"),
			ShutdownGrace: getEnvMillis("BOOKSHELF_SHUTDOWN_GRACE_MS", 10000),
		},
		Lookup: LookupConfig{
			GoogleAPIKey: getEnv("BOOKSHELF_GOOGLE_API_KEY", ""),
			Timeout:      getEnvMillis("BOOKSHELF_TIMEOUT_MS", 10000),
			Interval:     getEnvMillis("BOOKSHELF_LOOKUP_INTERVAL_MS", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("BOOKSHELF_JWT_SECRET", defaultJWTSecret),
		},
		Artifact: ArtifactConfig{
			Backend: getEnv("BOOKSHELF_ARTIFACT_BACKEND", "file"),
			MinIO: storage.MinIOConfig{
				Endpoint:  getEnv("BOOKSHELF_MINIO_ENDPOINT", "localhost:9000"),
				AccessKey: getEnv("BOOKSHELF_MINIO_ACCESS_KEY", "minioadmin"),
				SecretKey: getEnv("BOOKSHELF_MINIO_SECRET_KEY", "minioadmin"),
				Bucket:    getEnv("BOOKSHELF_MINIO_BUCKET", "bookshelf"),
				UseSSL:    getEnvBool("BOOKSHELF_MINIO_USE_SSL", false),
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate rejects settings the application cannot run with
func (c *Config) Validate() error {
	if c.Lookup.Timeout <= 0 {
		return fmt.Errorf("BOOKSHELF_TIMEOUT_MS must be positive")
	}
	if c.Lookup.Interval < 0 {
		return fmt.Errorf("BOOKSHELF_LOOKUP_INTERVAL_MS must not be negative")
	}
	if c.App.ShutdownGrace <= 0 {
		return fmt.Errorf("BOOKSHELF_SHUTDOWN_GRACE_MS must be positive")
	}
	switch c.Artifact.Backend {
	case "file":
	case "minio":
		if c.Artifact.MinIO.Endpoint == "" || c.Artifact.MinIO.Bucket == "" {
			return fmt.Errorf("BOOKSHELF_MINIO_ENDPOINT and BOOKSHELF_MINIO_BUCKET are required for the minio backend")
		}
	default:
		return fmt.Errorf("unknown artifact backend %q", c.Artifact.Backend)
	}
	if c.App.Environment == "production" && c.JWT.Secret == defaultJWTSecret {
		return fmt.Errorf("BOOKSHELF_JWT_SECRET must be set in production")
	}
	return nil
}

// IsDevelopment reports whether the app runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Millisecond
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
