// Package config loads server settings from the environment and the town
// genesis from YAML.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-multierror"
)

const envPrefix = "TOWN_"

var ErrInvalid = errors.New("invalid configuration")

// Config holds everything cmd/townd reads from TOWN_* variables.
type Config struct {
	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr       string        `env:"GRPC_ADDR" envDefault:":9090"`
	PGDSN          string        `env:"PG_DSN"`
	PGMigrate      bool          `env:"PG_MIGRATE" envDefault:"true"`
	SQLitePath     string        `env:"SQLITE_PATH"`
	AuthSecret     string        `env:"AUTH_SECRET"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	GenesisPath    string        `env:"GENESIS"`
	RateLimitRPS   float64       `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"40"`
	CORSOrigins    []string      `env:"CORS_ORIGINS" envSeparator:","`
	MaxBodyBytes   int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	ShutdownGrace  time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	return parse(env.Options{Prefix: envPrefix})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.HTTPAddr == "" {
		result = multierror.Append(result, fmt.Errorf("%w: TOWN_HTTP_ADDR is empty", ErrInvalid))
	}
	if c.PGDSN != "" && c.SQLitePath != "" {
		result = multierror.Append(result, fmt.Errorf("%w: TOWN_PG_DSN and TOWN_SQLITE_PATH are exclusive", ErrInvalid))
	}
	if c.AuthSecret != "" && len(c.AuthSecret) < 16 {
		result = multierror.Append(result, fmt.Errorf("%w: TOWN_AUTH_SECRET must be at least 16 bytes", ErrInvalid))
	}
	if c.TokenTTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("%w: TOWN_TOKEN_TTL must be positive", ErrInvalid))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		result = multierror.Append(result, fmt.Errorf("%w: rate limits must not be negative", ErrInvalid))
	}
	if c.MaxBodyBytes <= 0 {
		result = multierror.Append(result, fmt.Errorf("%w: TOWN_MAX_BODY_BYTES must be positive", ErrInvalid))
	}
	return result.ErrorOrNil()
}
