// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay service.
package server

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// RateLimitConfig defines the parameters for per-connection inbound frame
// rate limiting.
type RateLimitConfig struct {
	Burst          int           `envconfig:"RATE_LIMIT_BURST"`
	RefillInterval time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL"`
}

// Config holds the relay server settings. All fields can be populated from
// the environment; zero values fall back to the defaults during sanitize.
type Config struct {
	Port            string        `envconfig:"SERVER_PORT"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS"`
	MaxMessageSize  int64         `envconfig:"MAX_MESSAGE_SIZE"`
	StaticDir       string        `envconfig:"STATIC_DIR"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT"`
	LogLevel        string        `envconfig:"LOG_LEVEL"`
	RateLimit       RateLimitConfig
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  4096,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
	}
}

// sanitized returns a copy with every unusable value replaced by its default.
func (c Config) sanitized() Config {
	def := defaultConfig()

	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)

	return c
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for anything unset.
func NewConfigFromEnv() (*Config, error) {
	cfg := defaultConfig()
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.sanitized()
	return &cfg, nil
}
