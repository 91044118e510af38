// Package server provides configuration helpers that define runtime defaults,
// validation, and connection-management parameters for the chatwire service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls
// and the connection-registry tuning knobs.
type Config struct {
	Port                  string
	AllowedOrigins        []string
	MaxMessageSize        int64
	MaxConnectionsPerUser int
	IdleTimeout           time.Duration
	SweepInterval         time.Duration
	RateLimit             RateLimitConfig
	DBPath                string
	JWTSecret             string

	allowAllOrigins  bool
	allowedOriginSet map[string]struct{}
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
			"http://localhost:5173",
		},
		MaxMessageSize:        4096,
		MaxConnectionsPerUser: 3,
		IdleTimeout:           30 * time.Minute,
		SweepInterval:         time.Minute,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		DBPath: "chatwire.db",
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = ":8080"
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}

	if cfg.MaxConnectionsPerUser <= 0 {
		cfg.MaxConnectionsPerUser = 3
	}

	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}

	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	if cfg.DBPath == "" {
		cfg.DBPath = "chatwire.db"
	}

	normalized, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalized
	cfg.allowAllOrigins = allowAll
	cfg.allowedOriginSet = make(map[string]struct{}, len(normalized))
	for _, origin := range normalized {
		cfg.allowedOriginSet[origin] = struct{}{}
	}

	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := sanitizeConfig(defaultConfig())
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64Value(maxSize, cfg.MaxMessageSize)
	}

	if maxConns := os.Getenv("MAX_CONNECTIONS_PER_USER"); maxConns != "" {
		cfg.MaxConnectionsPerUser = parseIntValue(maxConns, cfg.MaxConnectionsPerUser)
	}

	if idle := os.Getenv("IDLE_TIMEOUT_MS"); idle != "" {
		cfg.IdleTimeout = parseMillis(idle, cfg.IdleTimeout)
	}

	if sweep := os.Getenv("SWEEP_INTERVAL_MS"); sweep != "" {
		cfg.SweepInterval = parseMillis(sweep, cfg.SweepInterval)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}

	sanitized := sanitizeConfig(cfg)
	return &sanitized
}

// IsOriginAllowed reports whether the given Origin header value is permitted
// by the configured allow list.
func (c *Config) IsOriginAllowed(origin string) bool {
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}

	if c.allowAllOrigins {
		return true
	}

	_, exists := c.allowedOriginSet[normalized]
	return exists
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseMillis(value string, defaultValue time.Duration) time.Duration {
	if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
