package config

import (
	"log/slog"

	"github.com/caarlos0/env/v10"
)

// Environment variable names for overrides.
const (
	EnvConfig         = "CINELIST_CONFIG"
	EnvSupabaseURL    = "CINELIST_SUPABASE_URL"
	EnvSupabaseAnon   = "CINELIST_SUPABASE_ANON_KEY"
	EnvTMDBAPIKey     = "CINELIST_TMDB_API_KEY"
	EnvDatabaseURL    = "CINELIST_DATABASE_URL"
	EnvLocalStorePath = "CINELIST_LOCAL_PATH"
)

// EnvOverrides holds values derived from environment variables. Empty
// fields mean "not set".
type EnvOverrides struct {
	ConfigPath  string `env:"CINELIST_CONFIG"`
	SupabaseURL string `env:"CINELIST_SUPABASE_URL"`
	AnonKey     string `env:"CINELIST_SUPABASE_ANON_KEY"`
	TMDBAPIKey  string `env:"CINELIST_TMDB_API_KEY"`
	DatabaseURL string `env:"CINELIST_DATABASE_URL"`
	LocalPath   string `env:"CINELIST_LOCAL_PATH"`
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify a Config; Resolve applies the fields.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	var overrides EnvOverrides
	if err := env.Parse(&overrides); err != nil {
		logger.Warn("ignoring unreadable environment overrides", slog.String("error", err.Error()))
		return EnvOverrides{}
	}

	if overrides.ConfigPath != "" {
		logger.Debug("config path from environment", slog.String("path", overrides.ConfigPath))
	}

	return overrides
}

// apply copies set environment values onto cfg.
func (e EnvOverrides) apply(cfg *Config) {
	if e.SupabaseURL != "" {
		cfg.Remote.URL = e.SupabaseURL
	}

	if e.AnonKey != "" {
		cfg.Remote.AnonKey = e.AnonKey
	}

	if e.DatabaseURL != "" {
		cfg.Remote.DatabaseURL = e.DatabaseURL
	}

	if e.TMDBAPIKey != "" {
		cfg.Catalog.APIKey = e.TMDBAPIKey
	}

	if e.LocalPath != "" {
		cfg.Local.Path = e.LocalPath
	}
}
