// Package config provides configuration management for the document engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Observer ObserverConfig
	Kernel   KernelConfig
	DOMSync  DOMSyncConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORS            bool
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// ObserverConfig holds patch bus configuration: BufferSize is how deep each
// subscriber's backlog may grow before it is dropped as slow, per §4.6.
type ObserverConfig struct {
	EnableWebSocket     bool
	WebSocketBufferSize int
	BufferSize          int
}

// KernelConfig holds execution runner and kernel space timeouts.
type KernelConfig struct {
	MaxConcurrency int64
	StepTimeout    time.Duration
	StartupTimeout time.Duration
}

// DOMSyncConfig holds the DOM synchronizer's diff thresholds, per §4.7.
type DOMSyncConfig struct {
	MinimumDiffLen  int
	MaximumDiffTime time.Duration
}

// Load loads the configuration from environment variables.
func Load() (*Config, error) {
	godotenv.Load()
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("DOCENGINE_PORT", 8585),
			Host:            getEnv("DOCENGINE_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("DOCENGINE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("DOCENGINE_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("DOCENGINE_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORS:            getEnvAsBool("DOCENGINE_CORS_ENABLED", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("DOCENGINE_LOG_LEVEL", "info"),
			Format: getEnv("DOCENGINE_LOG_FORMAT", "json"),
		},
		Observer: ObserverConfig{
			EnableWebSocket:     getEnvAsBool("DOCENGINE_WEBSOCKET_ENABLED", true),
			WebSocketBufferSize: getEnvAsInt("DOCENGINE_WEBSOCKET_BUFFER_SIZE", 256),
			BufferSize:          getEnvAsInt("DOCENGINE_PATCHBUS_BUFFER_SIZE", 100),
		},
		Kernel: KernelConfig{
			MaxConcurrency: int64(getEnvAsInt("DOCENGINE_MAX_CONCURRENCY", 8)),
			StepTimeout:    getEnvAsDuration("DOCENGINE_STEP_TIMEOUT", 30*time.Second),
			StartupTimeout: getEnvAsDuration("DOCENGINE_KERNEL_STARTUP_TIMEOUT", 10*time.Second),
		},
		DOMSync: DOMSyncConfig{
			MinimumDiffLen:  getEnvAsInt("DOCENGINE_DOMSYNC_MIN_DIFF_LEN", 1000),
			MaximumDiffTime: getEnvAsDuration("DOCENGINE_DOMSYNC_MAX_DIFF_TIME", 1*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Kernel.MaxConcurrency < 1 {
		return fmt.Errorf("kernel max concurrency must be at least 1")
	}

	return nil
}

// Helper functions for environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
