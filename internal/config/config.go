// Package config loads daemon settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/celerix-dev/celerix-board/internal/vault"
)

const minSecretBytes = 16

// Config holds every daemon setting. Values come from CELERIX_BOARD_* variables.
type Config struct {
	HTTPAddr        string        `env:"CELERIX_BOARD_HTTP_ADDR" envDefault:":7002"`
	Store           string        `env:"CELERIX_BOARD_STORE" envDefault:"sqlite"`
	DataDir         string        `env:"CELERIX_BOARD_DATA_DIR" envDefault:"./data"`
	SQLitePath      string        `env:"CELERIX_BOARD_SQLITE_PATH" envDefault:"./data/board.db"`
	JWTSecret       string        `env:"CELERIX_BOARD_JWT_SECRET"`
	TokenTTL        time.Duration `env:"CELERIX_BOARD_TOKEN_TTL" envDefault:"1h"`
	DisableTLS      bool          `env:"CELERIX_BOARD_DISABLE_TLS" envDefault:"true"`
	SeedPrincipals  []string      `env:"CELERIX_BOARD_SEED_PRINCIPALS" envSeparator:","`
	GinMode         string        `env:"CELERIX_BOARD_GIN_MODE" envDefault:"release"`
	ShutdownTimeout time.Duration `env:"CELERIX_BOARD_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxMessageBytes int64         `env:"CELERIX_BOARD_MAX_MESSAGE_BYTES" envDefault:"4194304"`
	MaxConnections  int           `env:"CELERIX_BOARD_MAX_CONNECTIONS" envDefault:"100"`
	AllowedOrigins  []string      `env:"CELERIX_BOARD_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	DataKey         string        `env:"CELERIX_BOARD_DATA_KEY"`
	TLSCertFile     string        `env:"CELERIX_BOARD_TLS_CERT"`
	TLSKeyFile      string        `env:"CELERIX_BOARD_TLS_KEY"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	if len(strings.TrimSpace(c.JWTSecret)) < minSecretBytes {
		return fmt.Errorf("CELERIX_BOARD_JWT_SECRET must be at least %d bytes", minSecretBytes)
	}
	switch c.Store {
	case "sqlite", "file", "memory":
	default:
		return fmt.Errorf("CELERIX_BOARD_STORE must be one of sqlite, file, memory (got %q)", c.Store)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("CELERIX_BOARD_TOKEN_TTL must be positive")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("CELERIX_BOARD_MAX_MESSAGE_BYTES must be positive")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("CELERIX_BOARD_MAX_CONNECTIONS must be positive")
	}
	if _, err := vault.ParseKey(c.DataKey); err != nil {
		return fmt.Errorf("CELERIX_BOARD_DATA_KEY: %w", err)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("CELERIX_BOARD_TLS_CERT and CELERIX_BOARD_TLS_KEY must be set together")
	}
	return nil
}

// Key returns the decoded data key, or nil when none is configured.
func (c Config) Key() []byte {
	key, _ := vault.ParseKey(c.DataKey)
	return key
}

// StoreLocation returns the path the configured backend opens.
func (c Config) StoreLocation() string {
	if c.Store == "file" {
		return c.DataDir
	}
	return c.SQLitePath
}

// Seeds returns the normalized, non-empty seed emails.
func (c Config) Seeds() []string {
	var out []string
	for _, email := range c.SeedPrincipals {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			out = append(out, email)
		}
	}
	return out
}
