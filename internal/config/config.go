// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

// Package config loads and validates server configuration.
//
// Configuration is layered via Koanf v2 (highest priority wins):
//
//  1. Environment variables (see envTransformFunc for the mapping)
//  2. Optional YAML config file (CONFIG_PATH or the default search list)
//  3. Built-in defaults
//
// The resulting Config is validated with go-playground/validator before
// it reaches any component.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Tabularium server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Auth     AuthConfig     `koanf:"auth"`
	Database DatabaseConfig `koanf:"database"`
	Relay    RelayConfig    `koanf:"relay"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP and WebSocket listener settings.
type ServerConfig struct {
	// Host is the listen address. Default: 0.0.0.0
	Host string `koanf:"host" validate:"required"`

	// Port is the listen port. Default: 8000
	Port int `koanf:"port" validate:"min=1,max=65535"`

	// ReadTimeout bounds request header reads. WebSocket connections
	// are hijacked before it applies to frames.
	ReadTimeout time.Duration `koanf:"read_timeout"`

	// WriteTimeout bounds non-hijacked response writes.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// CORSOrigins lists allowed CORS origins. Default: ["*"]
	CORSOrigins []string `koanf:"cors_origins"`

	// HandshakeRateLimit caps WebSocket upgrade attempts per client IP
	// per HandshakeRateWindow. 0 disables the limiter.
	HandshakeRateLimit  int           `koanf:"handshake_rate_limit"`
	HandshakeRateWindow time.Duration `koanf:"handshake_rate_window"`

	// WSMessageRate throttles inbound frames per connection, in
	// messages per second. 0 disables the throttle.
	WSMessageRate  float64 `koanf:"ws_message_rate"`
	WSMessageBurst int     `koanf:"ws_message_burst"`
}

// AuthConfig holds handshake authentication settings.
type AuthConfig struct {
	// AuthToken is the legacy shared-secret token accepted in the
	// handshake payload.
	AuthToken string `koanf:"auth_token" validate:"required"`

	// AdminSecret grants admin privileges, both in the handshake
	// payload and in per-message admin requests.
	AdminSecret string `koanf:"admin_secret" validate:"required"`

	// JWTSecret enables the JWT handshake scheme when non-empty.
	JWTSecret string `koanf:"jwt_secret"`

	// JWTExpiry is the lifetime of tokens issued by the JWT manager.
	JWTExpiry time.Duration `koanf:"jwt_expiry"`
}

// DatabaseConfig holds PostgreSQL event store settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Required.
	URL string `koanf:"url" validate:"required"`

	// PoolMinConns / PoolMaxConns bound the pgx connection pool.
	PoolMinConns int `koanf:"pool_min_conns" validate:"min=0"`
	PoolMaxConns int `koanf:"pool_max_conns" validate:"min=1"`

	// CommandTimeout bounds individual storage operations.
	CommandTimeout time.Duration `koanf:"command_timeout"`

	// FormatVersion is baked into every partition name; bumping it
	// effectively resets all stores.
	FormatVersion int `koanf:"format_version" validate:"min=1"`

	// PullChunkSize caps events per PullRes frame.
	PullChunkSize int `koanf:"pull_chunk_size" validate:"min=1"`
}

// RelayConfig holds the optional NATS JetStream relay settings.
// The relay republishes every committed batch; it never participates
// in the sync path itself.
type RelayConfig struct {
	// Enabled turns the relay on. Default: false
	Enabled bool `koanf:"enabled"`

	// URL is the NATS server address. Ignored when EmbeddedServer is
	// set, in which case the embedded server's client URL is used.
	URL string `koanf:"url"`

	// EmbeddedServer runs an in-process NATS JetStream server for
	// single-binary deployments.
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`

	// StreamName and SubjectPrefix shape the JetStream layout:
	// subjects are <prefix>.<sanitized store id>.
	StreamName    string `koanf:"stream_name"`
	SubjectPrefix string `koanf:"subject_prefix"`

	// RetentionDays bounds stream age.
	RetentionDays int `koanf:"retention_days"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level. Default: info
	Level string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal disabled"`

	// Format is json or console. Default: json
	Format string `koanf:"format" validate:"oneof=json console"`

	// Caller includes caller file:line in log output.
	Caller bool `koanf:"caller"`
}

// defaultConfig returns a Config with every default applied. Defaults
// match the reference deployment; AUTH_TOKEN and ADMIN_SECRET defaults
// are deliberately obvious placeholders.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8000,
			ReadTimeout:         30 * time.Second,
			WriteTimeout:        30 * time.Second,
			ShutdownTimeout:     10 * time.Second,
			CORSOrigins:         []string{"*"},
			HandshakeRateLimit:  100,
			HandshakeRateWindow: time.Minute,
			WSMessageRate:       0,
			WSMessageBurst:      10,
		},
		Auth: AuthConfig{
			AuthToken:   "insecure-token-change-me",
			AdminSecret: "change-me-admin-secret",
			JWTSecret:   "",
			JWTExpiry:   30 * time.Minute,
		},
		Database: DatabaseConfig{
			URL:            "",
			PoolMinConns:   5,
			PoolMaxConns:   20,
			CommandTimeout: 60 * time.Second,
			FormatVersion:  7,
			PullChunkSize:  100,
		},
		Relay: RelayConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			StoreDir:       "/data/nats/jetstream",
			StreamName:     "EVENTLOG",
			SubjectPrefix:  "eventlog",
			RetentionDays:  7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for structural errors plus the
// cross-field constraints the struct tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		return fmt.Errorf("invalid configuration: database pool_min_conns %d exceeds pool_max_conns %d",
			c.Database.PoolMinConns, c.Database.PoolMaxConns)
	}
	if c.Relay.Enabled && !c.Relay.EmbeddedServer && c.Relay.URL == "" {
		return fmt.Errorf("invalid configuration: relay enabled without a NATS url or embedded server")
	}
	return nil
}
