package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port string
	Env  string

	// Logging
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string

	// Redis (optional; in-memory counters are used when unset)
	RedisURL string

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	BreakerHalfOpenMax      int

	// Rate limiting. The counter TTLs are safety paddings past the window
	// boundary so late-arriving writes still land before expiry.
	RateLimitPrefix   string
	DailyCounterTTL   time.Duration
	MonthlyCounterTTL time.Duration

	// Caching
	CacheTTL     time.Duration
	CacheEnabled bool

	// Upstream
	UpstreamTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		Env:                     getEnv("ENV", "development"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFormat:               getEnv("LOG_FORMAT", "text"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		RedisURL:                getEnv("REDIS_URL", ""),
		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerRecoveryTimeout:  getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
		BreakerHalfOpenMax:      getEnvInt("BREAKER_HALF_OPEN_MAX_CALLS", 3),
		RateLimitPrefix:         getEnv("RATE_LIMIT_PREFIX", "llm"),
		DailyCounterTTL:         getEnvDuration("DAILY_COUNTER_TTL", 48*time.Hour),
		MonthlyCounterTTL:       getEnvDuration("MONTHLY_COUNTER_TTL", 35*24*time.Hour),
		CacheTTL:                getEnvDuration("CACHE_TTL", time.Hour),
		CacheEnabled:            getEnvBool("CACHE_ENABLED", true),
		UpstreamTimeout:         getEnvDuration("UPSTREAM_TIMEOUT", 60*time.Second),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
