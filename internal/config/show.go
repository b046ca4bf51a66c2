package config

import (
	"fmt"
	"io"
)

// secretMask replaces credentials in rendered output.
const secretMask = "********"

// RenderEffective writes the resolved configuration as an annotated TOML
// summary to w. Credentials are masked. This powers "config show".
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	ew.printf("[local]\n")
	ew.printf("backend = %q\n", cfg.Local.Backend)
	ew.printf("path    = %q\n\n", cfg.Local.Path)

	ew.printf("[remote]\n")
	ew.printf("backend         = %q\n", cfg.Remote.Backend)
	ew.printf("url             = %q\n", cfg.Remote.URL)
	ew.printf("anon_key        = %q\n", mask(cfg.Remote.AnonKey))
	ew.printf("database_url    = %q\n", mask(cfg.Remote.DatabaseURL))
	ew.printf("table           = %q\n", cfg.Remote.Table)
	ew.printf("request_timeout = %q\n\n", cfg.Remote.RequestTimeout)

	ew.printf("[catalog]\n")
	ew.printf("api_key  = %q\n", mask(cfg.Catalog.APIKey))
	ew.printf("language = %q\n", cfg.Catalog.Language)
	ew.printf("base_url = %q\n\n", cfg.Catalog.BaseURL)

	ew.printf("[sync]\n")
	ew.printf("migration_workers = %d\n", cfg.Sync.MigrationWorkers)
	ew.printf("write_timeout     = %q\n", cfg.Sync.WriteTimeout)
	ew.printf("shutdown_timeout  = %q\n\n", cfg.Sync.ShutdownTimeout)

	ew.printf("[logging]\n")
	ew.printf("log_level          = %q\n", cfg.Logging.LogLevel)
	ew.printf("log_file           = %q\n", cfg.Logging.LogFile)
	ew.printf("log_format         = %q\n", cfg.Logging.LogFormat)
	ew.printf("log_retention_days = %d\n", cfg.Logging.LogRetentionDays)

	return ew.err
}

func mask(s string) string {
	if s == "" {
		return ""
	}

	return secretMask
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// Redacted returns a copy of cfg with credentials masked, for JSON output.
func Redacted(cfg *Config) *Config {
	out := *cfg
	out.Remote.AnonKey = mask(cfg.Remote.AnonKey)
	out.Remote.DatabaseURL = mask(cfg.Remote.DatabaseURL)
	out.Catalog.APIKey = mask(cfg.Catalog.APIKey)

	return &out
}
