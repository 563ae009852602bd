// Package config loads relay server settings from environment variables,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the complete server configuration.
type Config struct {
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":10000"`
	Port            string        `env:"PORT"` // overrides the port of ListenAddr when set
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	StoreBackend  string        `env:"STORE_BACKEND" envDefault:"memory"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"10m"`
	EvictInterval time.Duration `env:"EVICT_INTERVAL" envDefault:"1m"`
	ShortIDs      bool          `env:"SHORT_IDS" envDefault:"false"`

	Redis RedisConfig `envPrefix:"REDIS_"`
	NATS  NATSConfig  `envPrefix:"NATS_"`

	RateLimit   int           `env:"RATE_LIMIT_CREATE" envDefault:"30"`
	RateWindow  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	CORSOrigins []string      `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`

	WatchMaxWatchers int           `env:"WS_MAX_WATCHERS" envDefault:"10000"`
	WatchPerSession  int           `env:"WS_MAX_PER_SESSION" envDefault:"8"`
	WatchHeartbeat   time.Duration `env:"WS_HEARTBEAT_INTERVAL" envDefault:"30s"`
}

// RedisConfig is used by the redis store backend and the shared rate limiter.
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// NATSConfig enables lifecycle event publishing when URL is set.
type NATSConfig struct {
	URL  string `env:"URL"`
	Name string `env:"NAME" envDefault:"relay"`
}

// Load reads envFile when it exists, then parses the environment. A missing
// envFile is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if cfg.Port != "" {
		cfg.ListenAddr = ":" + cfg.Port
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Validate checks enum fields and durations.
func (c *Config) Validate() error {
	if !slices.Contains([]string{BackendMemory, BackendRedis}, c.StoreBackend) {
		return fmt.Errorf("store backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.StoreBackend)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("log format must be console or json, got %q", c.LogFormat)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if c.EvictInterval <= 0 {
		return fmt.Errorf("evict interval must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.WatchHeartbeat <= 0 {
		return fmt.Errorf("ws heartbeat interval must be positive")
	}
	return nil
}

// UseRedis reports whether any component needs a Redis connection.
func (c *Config) UseRedis() bool {
	return c.StoreBackend == BackendRedis
}
