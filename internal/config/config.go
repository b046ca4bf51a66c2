// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for cinelist. Values resolve through four
// layers: defaults -> config file -> environment -> CLI flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Local   LocalConfig   `toml:"local"`
	Remote  RemoteConfig  `toml:"remote"`
	Catalog CatalogConfig `toml:"catalog"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
}

// LocalConfig selects the on-device store used for the guest watchlist.
// An empty path resolves to the data directory.
type LocalConfig struct {
	Backend string `toml:"backend" validate:"oneof=sqlite bolt"`
	Path    string `toml:"path"`
}

// RemoteConfig points at the account backend. The rest backend talks to the
// hosted API with url and anon_key; the postgres backend connects directly
// with database_url.
type RemoteConfig struct {
	Backend        string `toml:"backend" validate:"oneof=rest postgres"`
	URL            string `toml:"url" validate:"omitempty,http_url"`
	AnonKey        string `toml:"anon_key"`
	DatabaseURL    string `toml:"database_url" validate:"omitempty,url"`
	Table          string `toml:"table" validate:"required"`
	RequestTimeout string `toml:"request_timeout"`
}

// CatalogConfig configures the title catalog used by search, trending, and
// add. An empty api_key disables catalog commands.
type CatalogConfig struct {
	APIKey   string `toml:"api_key"`
	Language string `toml:"language" validate:"required"`
	BaseURL  string `toml:"base_url" validate:"required,http_url"`
}

// SyncConfig controls background write behavior.
type SyncConfig struct {
	MigrationWorkers int    `toml:"migration_workers" validate:"gte=1,lte=16"`
	WriteTimeout     string `toml:"write_timeout"`
	ShutdownTimeout  string `toml:"shutdown_timeout"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings.
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
}

// RequestTimeout returns remote.request_timeout. Validation guarantees it
// parses; the default applies otherwise.
func (c *Config) RequestTimeout() time.Duration {
	return durationOr(c.Remote.RequestTimeout, defaultRequestTimeout)
}

// WriteTimeout returns sync.write_timeout.
func (c *Config) WriteTimeout() time.Duration {
	return durationOr(c.Sync.WriteTimeout, defaultWriteTimeout)
}

// ShutdownTimeout returns sync.shutdown_timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return durationOr(c.Sync.ShutdownTimeout, defaultShutdownTimeout)
}

// RemoteConfigured reports whether enough of [remote] is set to reach the
// account backend.
func (c *Config) RemoteConfigured() bool {
	switch c.Remote.Backend {
	case RemoteBackendPostgres:
		return c.Remote.DatabaseURL != ""
	default:
		return c.Remote.URL != "" && c.Remote.AnonKey != ""
	}
}

func durationOr(s, fallback string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	d, _ := time.ParseDuration(fallback)

	return d
}
