package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"` // console or json

	DatabaseDriver string `mapstructure:"database_driver" yaml:"database_driver"` // sqlite or postgres
	DatabasePath   string `mapstructure:"database_path" yaml:"database_path"`
	DatabaseURL    string `mapstructure:"database_url" yaml:"database_url"`

	RedisURL   string `mapstructure:"redis_url" yaml:"redis_url"`
	InstanceID string `mapstructure:"instance_id" yaml:"instance_id"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	InactivityTimeout  time.Duration `mapstructure:"inactivity_timeout" yaml:"inactivity_timeout"`
	HistoryLimit       int           `mapstructure:"history_limit" yaml:"history_limit"`
	MaxMessageBytes    int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	MaxTextLength      int           `mapstructure:"max_text_length" yaml:"max_text_length"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	ChannelBroadcast   string        `mapstructure:"channel_broadcast" yaml:"channel_broadcast"` // scoped or everyone
	EventBuffer        int           `mapstructure:"event_buffer" yaml:"event_buffer"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		DatabaseDriver:     "sqlite",
		DatabasePath:       "huddle.db",
		JWTSecret:          "change-me-in-production",
		JWTIssuer:          "huddle",
		JWTAudience:        "huddle-clients",
		JWTTTL:             24 * time.Hour,
		InactivityTimeout:  30 * time.Second,
		HistoryLimit:       50,
		MaxMessageBytes:    64 * 1024,
		MaxTextLength:      4000,
		RateLimitPerMinute: 120,
		ChannelBroadcast:   "scoped",
		EventBuffer:        64,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the fields exposed as command-line flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabaseDriver != "" {
		c.DatabaseDriver = other.DatabaseDriver
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.DatabaseURL != "" {
		c.DatabaseURL = other.DatabaseURL
	}
	if other.RedisURL != "" {
		c.RedisURL = other.RedisURL
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case "sqlite":
		if c.DatabasePath == "" {
			errs = append(errs, errors.New("database_path is required for sqlite"))
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database_url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database_driver %q", c.DatabaseDriver))
	}
	switch c.ChannelBroadcast {
	case "scoped", "everyone":
	default:
		errs = append(errs, fmt.Errorf("channel_broadcast must be scoped or everyone, got %q", c.ChannelBroadcast))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if c.InactivityTimeout <= 0 {
		errs = append(errs, errors.New("inactivity_timeout must be positive"))
	}
	return errors.Join(errs...)
}
