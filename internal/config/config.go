// Package config loads service configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage and ledger drivers.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config holds all service configuration, read once at startup by Load.
type Config struct {
	// Server
	Port        string
	Environment string

	// Storage
	StorageDriver string
	LedgerDriver  string

	// PostgreSQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisURL string

	// RabbitMQ
	AMQPURL      string
	AMQPExchange string

	// Identity
	JWTSecret string

	// Reservation engine
	LockTimeout       time.Duration
	RetryAttempts     int
	RetryBackoff      time.Duration
	NotifyTimeout     time.Duration
	DefaultListWindow time.Duration

	// HTTP edge
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not read .env file", "error", err)
	}

	storage := getEnv("STORAGE_DRIVER", DriverPostgres)

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		StorageDriver: storage,
		LedgerDriver:  getEnv("LEDGER_DRIVER", storage),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "gymclasses"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "gym.reservations"),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),

		LockTimeout:       getEnvAsDuration("LOCK_TIMEOUT", "2s"),
		RetryAttempts:     getEnvAsInt("RETRY_ATTEMPTS", 3),
		RetryBackoff:      getEnvAsDuration("RETRY_BACKOFF", "50ms"),
		NotifyTimeout:     getEnvAsDuration("NOTIFY_TIMEOUT", "5s"),
		DefaultListWindow: getEnvAsDuration("DEFAULT_LIST_WINDOW", "168h"),

		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 20),
		CORSOrigins:    getEnvAsList("CORS_ORIGINS", "*"),
	}
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
