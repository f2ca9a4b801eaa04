// Package config provides configuration management for the review reconciler.
// It loads configuration from environment variables and .env files.
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
	OpenAI    OpenAIConfig
	Backfill  BackfillConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
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

// ClickHouseConfig holds ClickHouse configuration for the event audit trail
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// OpenAIConfig holds complaint draft generator configuration
type OpenAIConfig struct {
	APIKey       string
	Model        string
	DraftTimeout time.Duration
}

// BackfillConfig holds backfill queue and worker configuration
type BackfillConfig struct {
	BatchSize         int           // Reviews drafted per batch before progress is persisted
	MaxJobsPerRun     int           // Jobs one worker pass may claim before exiting
	LeaseTimeout      time.Duration // in_progress age after which a job is reclaimable
	DefaultDailyLimit int           // Complaint submissions per store per day when unconfigured
	MatchTolerance    time.Duration // Review timestamp tolerance for context matching
	LinkCacheTTL      time.Duration // TTL for cached link lookups
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	AgentRPS int // Requests per second allowed per agent
	Burst    int
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
		// .env file is optional - environment variables can be set directly
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
				Database:       getEnv("POSTGRES_DB", "review_reconciler"),
				User:           getEnv("POSTGRES_USER", "reconciler"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "review_reconciler"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		OpenAI: OpenAIConfig{
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			Model:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			DraftTimeout: getEnvAsDuration("OPENAI_DRAFT_TIMEOUT", 30*time.Second),
		},
		Backfill: BackfillConfig{
			BatchSize:         getEnvAsInt("BACKFILL_BATCH_SIZE", 10),
			MaxJobsPerRun:     getEnvAsInt("BACKFILL_MAX_JOBS_PER_RUN", 20),
			LeaseTimeout:      getEnvAsDuration("BACKFILL_LEASE_TIMEOUT", 30*time.Minute),
			DefaultDailyLimit: getEnvAsInt("COMPLAINT_DAILY_LIMIT", 100),
			MatchTolerance:    getEnvAsDuration("REVIEW_MATCH_TOLERANCE", 90*time.Second),
			LinkCacheTTL:      getEnvAsDuration("LINK_CACHE_TTL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			AgentRPS: getEnvAsInt("RATE_LIMIT_AGENT_RPS", 20),
			Burst:    getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// PostgresURL builds the URL form of the Postgres config, used by migrations.
func (c *PostgresConfig) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
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
