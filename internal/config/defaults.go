package config

// Backend names accepted in [local] and [remote].
const (
	LocalBackendSQLite    = "sqlite"
	LocalBackendBolt      = "bolt"
	RemoteBackendREST     = "rest"
	RemoteBackendPostgres = "postgres"
)

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	defaultLocalBackend     = LocalBackendSQLite
	defaultRemoteBackend    = RemoteBackendREST
	defaultTable            = "watchlist"
	defaultRequestTimeout   = "15s"
	defaultCatalogLanguage  = "en-US"
	defaultCatalogBaseURL   = "https://api.themoviedb.org/3"
	defaultMigrationWorkers = 4
	defaultWriteTimeout     = "30s"
	defaultShutdownTimeout  = "10s"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogRetentionDays = 30
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Local: LocalConfig{
			Backend: defaultLocalBackend,
		},
		Remote: RemoteConfig{
			Backend:        defaultRemoteBackend,
			Table:          defaultTable,
			RequestTimeout: defaultRequestTimeout,
		},
		Catalog: CatalogConfig{
			Language: defaultCatalogLanguage,
			BaseURL:  defaultCatalogBaseURL,
		},
		Sync: SyncConfig{
			MigrationWorkers: defaultMigrationWorkers,
			WriteTimeout:     defaultWriteTimeout,
			ShutdownTimeout:  defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogRetentionDays: defaultLogRetentionDays,
		},
	}
}
