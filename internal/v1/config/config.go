package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Core settings with defaults
	Port            int
	RoomIdleTimeout time.Duration

	// Optional variables with defaults
	Environment  string
	APIRateLimit string

	// Optional integrations
	RedisAddress  string
	RedisPassword string
	OTLPEndpoint  string
}

// Development reports whether the process runs with development settings
// (human-readable logs, relaxed output).
func (c *Config) Development() bool {
	return c.Environment == "development"
}

// ReapingEnabled reports whether idle rooms are removed at all. A zero
// timeout keeps empty rooms until the process exits.
func (c *Config) ReapingEnabled() bool {
	return c.RoomIdleTimeout > 0
}

// ValidateEnv validates all environment variables and returns a Config object.
// Returns an error listing every invalid variable rather than stopping at
// the first one.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Optional: PORT (defaults to 3001)
	portValue := getEnvOrDefault("PORT", "3001")
	port, err := strconv.Atoi(portValue)
	if err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", portValue))
	} else {
		cfg.Port = port
	}

	// Optional: ROOM_IDLE_TIMEOUT_SECONDS (defaults to 3600; 0 disables reaping)
	idleValue := getEnvOrDefault("ROOM_IDLE_TIMEOUT_SECONDS", "3600")
	idleSeconds, err := strconv.Atoi(idleValue)
	if err != nil || idleSeconds < 0 {
		errors = append(errors, fmt.Sprintf("ROOM_IDLE_TIMEOUT_SECONDS must be a non-negative integer (got '%s')", idleValue))
	} else {
		cfg.RoomIdleTimeout = time.Duration(idleSeconds) * time.Second
	}

	// Optional: ENVIRONMENT (defaults to "development")
	cfg.Environment = getEnvOrDefault("ENVIRONMENT", "development")
	if cfg.Environment != "development" && cfg.Environment != "production" {
		errors = append(errors, fmt.Sprintf("ENVIRONMENT must be 'development' or 'production' (got '%s')", cfg.Environment))
	}

	// Optional: API_RATE_LIMIT in limiter notation, e.g. "100-M" (defaults to 100/minute)
	cfg.APIRateLimit = getEnvOrDefault("API_RATE_LIMIT", "100-M")

	// Optional: REDIS_ADDRESS enables the shared rate-limit store
	cfg.RedisAddress = os.Getenv("REDIS_ADDRESS")
	if cfg.RedisAddress != "" && !isValidHostPort(cfg.RedisAddress) {
		errors = append(errors, fmt.Sprintf("REDIS_ADDRESS must be in format 'host:port' (got '%s')", cfg.RedisAddress))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Optional: OTEL_EXPORTER_OTLP_ENDPOINT enables trace export
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port".
// IPv6 literals need their usual brackets, e.g. "[::1]:6379".
func isValidHostPort(addr string) bool {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}

	port, err := strconv.Atoi(portStr)
	return err == nil && port >= 1 && port <= 65535
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"room_idle_timeout", cfg.RoomIdleTimeout.String(),
		"reaping_enabled", cfg.ReapingEnabled(),
		"environment", cfg.Environment,
		"api_rate_limit", cfg.APIRateLimit,
		"redis_address", cfg.RedisAddress,
		"redis_password", redactSecret(cfg.RedisPassword),
		"otlp_endpoint", cfg.OTLPEndpoint,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
