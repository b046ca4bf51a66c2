package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// configFilePermissions keeps the config private: it may hold API keys.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by WriteDefault when the file is already there.
var ErrConfigExists = errors.New("config file already exists")

// configTemplate is the starter config written by "config init". Every
// setting is present as a commented-out default.
const configTemplate = `# cinelist configuration

[local]
# Store for the guest watchlist on this device: "sqlite" or "bolt"
# backend = "sqlite"
# path = ""

[remote]
# Account backend: "rest" (hosted API) or "postgres" (direct connection)
# backend = "rest"
# url = "https://your-project.supabase.co"
# anon_key = ""
# database_url = ""
# table = "watchlist"
# request_timeout = "15s"

[catalog]
# Title catalog used by search, trending, popular and add
# api_key = ""
# language = "en-US"
# base_url = "https://api.themoviedb.org/3"

[sync]
# Parallel uploads when moving a guest watchlist into an account (1-16)
# migration_workers = 4
# write_timeout = "30s"
# shutdown_timeout = "10s"

[logging]
# log_level = "info"
# log_file = ""
# log_format = "auto"
# log_retention_days = 30
`

// WriteDefault writes the starter config to path. Refuses to overwrite an
// existing file.
func WriteDefault(path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	if err := atomicWriteFile(path, []byte(configTemplate)); err != nil {
		return err
	}

	logger.Info("wrote default config", slog.String("path", path))

	return nil
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. Parent directories are created
// as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
