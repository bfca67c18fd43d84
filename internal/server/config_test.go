package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
}

func TestSanitizedReplacesUnusableValues(t *testing.T) {
	cfg := Config{
		Port:           "",
		MaxMessageSize: -1,
		RateLimit:      RateLimitConfig{Burst: 0, RefillInterval: 0},
	}

	got := cfg.sanitized()
	assert.Equal(t, ":8080", got.Port)
	assert.Equal(t, int64(4096), got.MaxMessageSize)
	assert.Equal(t, 10, got.RateLimit.Burst)
	assert.Equal(t, time.Second, got.RateLimit.RefillInterval)
	assert.Equal(t, "info", got.LogLevel)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9999")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com,https://other.example.com")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("SHUTDOWN_TIMEOUT", "5s")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Port)
	assert.Equal(t, []string{"https://chat.example.com", "https://other.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(1024), cfg.MaxMessageSize)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestNewConfigFromEnvFallsBackToDefaults(t *testing.T) {
	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
}
