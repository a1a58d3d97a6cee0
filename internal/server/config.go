// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay.
package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Tyrowin/namerelay/internal/logging"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Binding modes select how an upgraded connection finds its name.
const (
	// BindToken requires the claim token returned by registration.
	BindToken = "token"
	// BindLatest binds the most recently registered pending name.
	BindLatest = "latest"
)

const (
	defaultPort            = "7070"
	defaultMaxMessageSize  = 4096
	defaultRateLimitBurst  = 0
	defaultRefillInterval  = time.Second
	defaultSendQueueSize   = 256
	defaultMaxNameLength   = 64
	defaultShutdownTimeout = 10 * time.Second
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
// A Burst of zero disables the limiter.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" default:"0"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
}

// Config holds the server configuration settings.
type Config struct {
	Port            string        `env:"PORT" default:"7070"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" default:"*"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE" default:"4096"`
	SendQueueSize   int           `env:"SEND_QUEUE_SIZE" default:"256"`
	EchoToSender    bool          `env:"ECHO_TO_SENDER" default:"true"`
	BindMode        string        `env:"BIND_MODE" default:"token"`
	ClaimTTL        time.Duration `env:"CLAIM_TTL" default:"1m"`
	MaxNameLength   int           `env:"MAX_NAME_LENGTH" default:"64"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel        string        `env:"LOG_LEVEL" default:"info"`
	LogFormat       string        `env:"LOG_FORMAT" default:"text"`

	RateLimit RateLimitConfig
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Port:           defaultPort,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateLimitBurst,
			RefillInterval: defaultRefillInterval,
		},
		SendQueueSize:   defaultSendQueueSize,
		EchoToSender:    true,
		BindMode:        BindToken,
		ClaimTTL:        time.Minute,
		MaxNameLength:   defaultMaxNameLength,
		ShutdownTimeout: defaultShutdownTimeout,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// LoadConfig reads the configuration from the environment, after loading an
// optional .env file from the working directory.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// sanitize replaces out-of-range numeric settings with defaults.
func (c *Config) sanitize() {
	c.Port = strings.TrimSpace(c.Port)
	if c.Port == "" {
		c.Port = defaultPort
	}

	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}

	if c.RateLimit.Burst < 0 {
		c.RateLimit.Burst = defaultRateLimitBurst
	}

	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaultRefillInterval
	}

	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}

	if c.ClaimTTL < 0 {
		c.ClaimTTL = 0
	}

	if c.MaxNameLength < 0 {
		c.MaxNameLength = 0
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}

	c.AllowedOrigins = parseOrigins(c.AllowedOrigins)
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.BindMode {
	case BindToken, BindLatest:
	default:
		return fmt.Errorf("BIND_MODE must be %q or %q, got %q", BindToken, BindLatest, c.BindMode)
	}

	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	return nil
}

// Addr returns the listen address for the configured port.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func parseOrigins(origins []string) []string {
	parsed := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			parsed = append(parsed, trimmed)
		}
	}
	return parsed
}
