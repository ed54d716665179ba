package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the framework runtime.
type Config struct {
	Environment string
	Port        string
	LogLevel    string
	DevMode     bool
	Registry    RegistryConfig
	JWT         JWTConfig
	Queue       QueueConfig
	RateLimit   RateLimitConfig
}

// RegistryConfig holds WebSocket connection-registry configuration.
type RegistryConfig struct {
	Backend string // "memory" or "sqlite"
	Path    string
}

// JWTConfig holds bearer-token authentication configuration.
type JWTConfig struct {
	Secret      string
	Issuer      string
	ExpiryHours int
}

// QueueConfig holds queue dispatch defaults.
type QueueConfig struct {
	DefaultTimeoutSeconds int
}

// RateLimitConfig holds dev-server rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load loads configuration from environment variables and an optional
// .env file.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	viper.AutomaticEnv()
	viper.SetDefault("PORT", "8081")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DEV_MODE", false)
	viper.SetDefault("REGISTRY_BACKEND", "memory")
	viper.SetDefault("REGISTRY_PATH", "./data/connections.db")
	viper.SetDefault("JWT_ISSUER", "skylift")
	viper.SetDefault("JWT_EXPIRY_HOURS", 24)
	viper.SetDefault("QUEUE_DEFAULT_TIMEOUT", 30)
	viper.SetDefault("RATE_LIMIT_RPS", 100.0)
	viper.SetDefault("RATE_LIMIT_BURST", 200)

	config := &Config{
		Environment: viper.GetString("ENVIRONMENT"),
		Port:        viper.GetString("PORT"),
		LogLevel:    viper.GetString("LOG_LEVEL"),
		DevMode:     viper.GetBool("DEV_MODE"),
		Registry: RegistryConfig{
			Backend: viper.GetString("REGISTRY_BACKEND"),
			Path:    viper.GetString("REGISTRY_PATH"),
		},
		JWT: JWTConfig{
			Secret:      viper.GetString("JWT_SECRET"),
			Issuer:      viper.GetString("JWT_ISSUER"),
			ExpiryHours: viper.GetInt("JWT_EXPIRY_HOURS"),
		},
		Queue: QueueConfig{
			DefaultTimeoutSeconds: viper.GetInt("QUEUE_DEFAULT_TIMEOUT"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:             viper.GetInt("RATE_LIMIT_BURST"),
		},
	}

	return config, nil
}

// GetEnv gets an environment variable with a fallback value
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvAsInt gets an environment variable as integer with a fallback value
func GetEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// GetEnvAsBool gets an environment variable as boolean with a fallback value
func GetEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}
