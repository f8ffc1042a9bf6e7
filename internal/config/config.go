// Package config provides configuration management for the shares
// tracker. It loads configuration from environment variables and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Chain    ChainConfig
	Database DatabaseConfig
	Keeper   KeeperConfig
	Stats    StatsConfig
	Profile  ProfileConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	Host string
	Port string
}

// ChainConfig holds RPC node configuration. RPCURL is required: the
// keeper cannot run without a node endpoint.
type ChainConfig struct {
	RPCURL         string
	RequestTimeout time.Duration
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration.
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration for the trade
// analytics mirror.
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// KeeperConfig holds chain-sync keeper configuration.
type KeeperConfig struct {
	BlocksPerCycle    int           // Max blocks fetched per sync cycle
	ReceiptBatchLimit int           // Max receipt lookups per JSON-RPC batch
	PollInterval      time.Duration // Sleep once caught up to chain head
}

// StatsConfig holds stats aggregator schedules (cron specs).
type StatsConfig struct {
	FastSpec string // newest users / recent trades / leaderboard
	SlowSpec string // realized profit
}

// ProfileConfig holds profile enricher configuration.
type ProfileConfig struct {
	APIBaseURL        string
	RequestsPerSecond float64
	SweepInterval     time.Duration
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment
// variables. A missing RPC_URL is a hard error: every other setting has
// a usable default.
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly.
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	rpcURL := getEnv("RPC_URL", "")
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC_URL is required")
	}

	config := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Chain: ChainConfig{
			RPCURL:         rpcURL,
			RequestTimeout: getEnvAsDuration("RPC_REQUEST_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "shares_tracker"),
				User:           getEnv("POSTGRES_USER", "tracker"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "shares_tracker"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Keeper: KeeperConfig{
			BlocksPerCycle:    getEnvAsInt("KEEPER_BLOCKS_PER_CYCLE", 100),
			ReceiptBatchLimit: getEnvAsInt("KEEPER_RECEIPT_BATCH_LIMIT", 950),
			PollInterval:      getEnvAsDuration("KEEPER_POLL_INTERVAL", 5*time.Second),
		},
		Stats: StatsConfig{
			FastSpec: getEnv("STATS_FAST_SPEC", "@every 15s"),
			SlowSpec: getEnv("STATS_SLOW_SPEC", "@every 30m"),
		},
		Profile: ProfileConfig{
			APIBaseURL:        getEnv("PROFILE_API_URL", "https://prod-api.kosetto.com"),
			RequestsPerSecond: getEnvAsFloat("PROFILE_REQUESTS_PER_SECOND", 3),
			SweepInterval:     getEnvAsDuration("PROFILE_SWEEP_INTERVAL", 1*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value.
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

// getEnvAsFloat gets an environment variable as a float with a default value.
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value.
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
