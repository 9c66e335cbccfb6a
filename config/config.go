package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the service-level configuration for the sync API
type Config struct {
	Port       string
	SyncAPIKey string

	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisDB       int

	// Batch push endpoints take a stricter cap than pull endpoints
	PushRateLimit   int
	PullRateLimit   int
	RateLimitWindow time.Duration
}

// Load builds the configuration from the environment
func Load() *Config {
	return &Config{
		Port:            getEnvOrDefault("PORT", "8080"),
		SyncAPIKey:      os.Getenv("SYNC_API_KEY"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisUsername:   os.Getenv("REDIS_USERNAME"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         getEnvIntOrDefault("REDIS_DB", 0),
		PushRateLimit:   getEnvIntOrDefault("SYNC_PUSH_RATE_LIMIT", 10),
		PullRateLimit:   getEnvIntOrDefault("SYNC_PULL_RATE_LIMIT", 100),
		RateLimitWindow: time.Duration(getEnvIntOrDefault("SYNC_RATE_LIMIT_WINDOW_SEC", 60)) * time.Second,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
