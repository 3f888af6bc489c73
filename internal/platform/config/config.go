// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values. A local '.env' file, when
present, is loaded first with 'joho/godotenv' so developers do not need to export
every variable by hand.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (DB, Redis, services) via constructors.
  - Zero Hidden State: No global variables are used to store config.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/taibuivan/mangashelf/internal/platform/sec"
)

// Supported account store backends.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMongo    = "mongo"
	StoreBackendMemory   = "memory"
)

// # Configuration Schema

// Config holds all runtime configuration for the Mangashelf API server.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// StoreBackend selects the account store: "postgres", "mongo" or "memory".
	// The memory store loses every account on restart and is meant for local runs.
	StoreBackend string `env:"STORE_BACKEND" envDefault:"postgres"`

	// Relational Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Document Database (MongoDB)
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"mangashelf"`

	// Key-Value Cache (Redis)
	RedisURL string `env:"REDIS_URL,required,notEmpty"`

	// Cryptographic keys for access-token signing
	JWTPrivKeyPath string `env:"JWT_PRIVATE_KEY_PATH,required,notEmpty"`
	JWTPubKeyPath  string `env:"JWT_PUBLIC_KEY_PATH,required,notEmpty"`

	// Error reporting; empty disables Sentry.
	SentryDSN string `env:"SENTRY_DSN"`

	// Cross-Origin Resource Sharing
	ExtraOrigins string `env:"EXTRA_ORIGINS"`

	// Credential policy. Lengths count characters; bcrypt additionally caps the
	// UTF-8 encoding at 72 bytes, so the maximum may not exceed 72.
	PasswordMinLength int `env:"PASSWORD_MIN_LENGTH" envDefault:"6"`
	PasswordMaxLength int `env:"PASSWORD_MAX_LENGTH" envDefault:"50"`
	BcryptCost        int `env:"BCRYPT_COST"         envDefault:"10"`

	// Session policy. Zero values mean unbounded / no expiry.
	SessionMaxPerAccount int           `env:"SESSION_MAX_PER_ACCOUNT" envDefault:"0"`
	SessionTokenTTL      time.Duration `env:"SESSION_TOKEN_TTL"       envDefault:"0s"`

	// Password reset
	ResetTokenTTL time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`

	// Login throttling per email address. Zero attempts disables the throttle.
	LoginMaxAttempts int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"10"`
	LoginWindow      time.Duration `env:"LOGIN_WINDOW"       envDefault:"15m"`
}

// # Configuration Loading

// Load reads an optional '.env' file and parses environment variables into a [Config].
func Load() (*Config, error) {

	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to read .env file: %w", err)
	}

	return Parse()
}

// Parse maps the current process environment into a [Config] and validates it.
func Parse() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate enforces cross-field rules that struct tags cannot express.
func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	case StoreBackendMongo:
		if c.MongoURI == "" {
			return errors.New("config: MONGO_URI is required when STORE_BACKEND=mongo")
		}
	case StoreBackendMemory:
		if c.IsProduction() {
			return errors.New("config: STORE_BACKEND=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.PasswordMinLength < 1 || c.PasswordMaxLength < c.PasswordMinLength || c.PasswordMaxLength > sec.MaxPasswordBytes {
		return fmt.Errorf("config: invalid password length window [%d, %d] (max %d)", c.PasswordMinLength, c.PasswordMaxLength, sec.MaxPasswordBytes)
	}

	if c.SessionMaxPerAccount < 0 || c.SessionTokenTTL < 0 {
		return errors.New("config: session policy values must not be negative")
	}

	if c.ResetTokenTTL <= 0 {
		return errors.New("config: RESET_TOKEN_TTL must be positive")
	}

	return nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
