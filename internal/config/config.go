// Package config provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the GoChat relay.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string   `envconfig:"SERVER_PORT" default:":8080"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	MaxMessageSize int64    `envconfig:"MAX_MESSAGE_SIZE" default:"512"`
	SendBufferSize int      `envconfig:"SEND_BUFFER_SIZE" default:"256"`

	RateLimitBurst          int           `envconfig:"RATE_LIMIT_BURST" default:"5"`
	RateLimitRefillInterval time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`

	DataDir     string        `envconfig:"DATA_DIR" default:"data"`
	TokenSecret string        `envconfig:"TOKEN_SECRET" required:"true"`
	TokenTTL    time.Duration `envconfig:"TOKEN_TTL" default:"168h"`

	DeliveryDelay     time.Duration `envconfig:"DELIVERY_DELAY" default:"700ms"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	HistoryLimit      int           `envconfig:"HISTORY_LIMIT" default:"200"`

	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Default returns a Config populated with default values for every setting
// except the token secret, which has no safe default.
func Default() Config {
	return Config{
		Port:                    ":8080",
		AllowedOrigins:          []string{"http://localhost:8080"},
		MaxMessageSize:          512,
		SendBufferSize:          256,
		RateLimitBurst:          5,
		RateLimitRefillInterval: time.Second,
		DataDir:                 "data",
		TokenTTL:                7 * 24 * time.Hour,
		DeliveryDelay:           700 * time.Millisecond,
		HeartbeatInterval:       30 * time.Second,
		HistoryLimit:            200,
		LogLevel:                "info",
		ShutdownTimeout:         10 * time.Second,
	}
}

// Load reads the configuration from environment variables. Unset variables
// fall back to their defaults; TOKEN_SECRET is mandatory.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg = Sanitize(cfg)
	if strings.TrimSpace(cfg.TokenSecret) == "" {
		return Config{}, fmt.Errorf("load config: TOKEN_SECRET must not be blank")
	}
	return cfg, nil
}

// Sanitize replaces out-of-range values with their defaults and trims the
// configured origins.
func Sanitize(cfg Config) Config {
	def := Default()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = def.RateLimitBurst
	}
	if cfg.RateLimitRefillInterval <= 0 {
		cfg.RateLimitRefillInterval = def.RateLimitRefillInterval
	}
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.DeliveryDelay <= 0 {
		cfg.DeliveryDelay = def.DeliveryDelay
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.AllowedOrigins = origins

	return cfg
}

// RateLimit groups the per-connection rate limiting settings.
func (c Config) RateLimit() RateLimitConfig {
	return RateLimitConfig{Burst: c.RateLimitBurst, RefillInterval: c.RateLimitRefillInterval}
}
