package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, 3, cfg.MaxConnectionsPerUser)
	assert.Equal(t, 30*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9999")
	t.Setenv("MAX_CONNECTIONS_PER_USER", "5")
	t.Setenv("IDLE_TIMEOUT_MS", "60000")
	t.Setenv("SWEEP_INTERVAL_MS", "5000")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com, http://localhost:3000")
	t.Setenv("DB_PATH", "/tmp/chatwire-test.db")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9999", cfg.Port)
	assert.Equal(t, 5, cfg.MaxConnectionsPerUser)
	assert.Equal(t, time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.Equal(t, "/tmp/chatwire-test.db", cfg.DBPath)
	assert.Equal(t, "test-secret", cfg.JWTSecret)
	assert.True(t, cfg.IsOriginAllowed("https://chat.example.com"))
	assert.True(t, cfg.IsOriginAllowed("http://localhost:3000"))
	assert.False(t, cfg.IsOriginAllowed("http://evil.example.com"))
}

func TestNewConfigFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("MAX_CONNECTIONS_PER_USER", "not-a-number")
	t.Setenv("IDLE_TIMEOUT_MS", "-5")

	cfg := NewConfigFromEnv()

	assert.Equal(t, 3, cfg.MaxConnectionsPerUser)
	assert.Equal(t, 30*time.Minute, cfg.IdleTimeout)
}

func TestConfigAllowAllOrigins(t *testing.T) {
	cfg := sanitizeConfig(Config{AllowedOrigins: []string{"*"}})

	assert.True(t, cfg.IsOriginAllowed("http://anything.example.com"))
	assert.False(t, cfg.IsOriginAllowed("not-a-url"), "malformed origins are rejected even with a wildcard")
}

func TestConfigNormalizesOrigins(t *testing.T) {
	cfg := sanitizeConfig(Config{AllowedOrigins: []string{" HTTPS://Chat.Example.COM ", "", "garbage"}})

	assert.True(t, cfg.IsOriginAllowed("https://chat.example.com"))
	assert.Len(t, cfg.AllowedOrigins, 1, "blank and invalid origins are dropped")
}
