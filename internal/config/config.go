// Package config provides configuration management for the coloring-page
// service. It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   ObjectStoreConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig
	Credits   CreditsConfig
	Auth      AuthConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ObjectStoreConfig holds MinIO object storage configuration
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// QueueConfig holds durable queue configuration
type QueueConfig struct {
	Stream        string
	Group         string
	DedupeHorizon time.Duration // how long an idempotency marker suppresses duplicates
	RetryLimit    int           // processing attempts per job beyond the first
	ReclaimIdle   time.Duration // unacked deliveries older than this are taken over
	ExpireIn      time.Duration // queued/running jobs older than this are abandoned
	SweepInterval time.Duration
	ClaimsPerSec  int // worker claim pacing
}

// SurfaceLimit holds the fixed-window limit for one rate-limited surface
type SurfaceLimit struct {
	MaxRequests int
	Window      time.Duration
}

// RateLimitConfig holds per-surface rate limiting configuration
type RateLimitConfig struct {
	Generate SurfaceLimit
	Upload   SurfaceLimit
}

// CreditsConfig holds credit and generation policy configuration
type CreditsConfig struct {
	JobCost  int64
	MaxEdits int
	URLTTL   time.Duration
	Model    string
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "coloring_service"),
				User:           getEnv("POSTGRES_USER", "coloring"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Storage: ObjectStoreConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "coloring-pages"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		Queue: QueueConfig{
			Stream:        getEnv("QUEUE_STREAM", "jobs:generate"),
			Group:         getEnv("QUEUE_GROUP", "workers"),
			DedupeHorizon: getEnvAsDuration("QUEUE_DEDUPE_HORIZON", 10*time.Minute),
			RetryLimit:    getEnvAsInt("QUEUE_RETRY_LIMIT", 2),
			ReclaimIdle:   getEnvAsDuration("QUEUE_RECLAIM_IDLE", 5*time.Minute),
			ExpireIn:      getEnvAsDuration("QUEUE_EXPIRE_IN", 30*time.Minute),
			SweepInterval: getEnvAsDuration("QUEUE_SWEEP_INTERVAL", time.Minute),
			ClaimsPerSec:  getEnvAsInt("QUEUE_CLAIMS_PER_SEC", 5),
		},
		RateLimit: RateLimitConfig{
			Generate: SurfaceLimit{
				MaxRequests: getEnvAsInt("RATE_LIMIT_GENERATE_MAX", 5),
				Window:      getEnvAsDuration("RATE_LIMIT_GENERATE_WINDOW", time.Hour),
			},
			Upload: SurfaceLimit{
				MaxRequests: getEnvAsInt("RATE_LIMIT_UPLOAD_MAX", 20),
				Window:      getEnvAsDuration("RATE_LIMIT_UPLOAD_WINDOW", time.Hour),
			},
		},
		Credits: CreditsConfig{
			JobCost:  int64(getEnvAsInt("CREDITS_JOB_COST", 1)),
			MaxEdits: getEnvAsInt("CREDITS_MAX_EDITS", 2),
			URLTTL:   getEnvAsDuration("DOWNLOAD_URL_TTL", time.Hour),
			Model:    getEnv("GENERATION_MODEL", "lineart-v2"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
