package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvSupabaseURL, "https://abc.supabase.co")
	t.Setenv(EnvSupabaseAnon, "anon")
	t.Setenv(EnvTMDBAPIKey, "tmdb")
	t.Setenv(EnvDatabaseURL, "postgres://localhost/cinelist")
	t.Setenv(EnvLocalStorePath, "/data/watchlist.db")

	overrides := ReadEnvOverrides(testLogger(t))
	assert.Equal(t, EnvOverrides{
		ConfigPath:  "/custom/config.toml",
		SupabaseURL: "https://abc.supabase.co",
		AnonKey:     "anon",
		TMDBAPIKey:  "tmdb",
		DatabaseURL: "postgres://localhost/cinelist",
		LocalPath:   "/data/watchlist.db",
	}, overrides)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	for _, name := range []string{EnvConfig, EnvSupabaseURL, EnvSupabaseAnon, EnvTMDBAPIKey, EnvDatabaseURL, EnvLocalStorePath} {
		t.Setenv(name, "")
	}

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides(testLogger(t)))
}

func TestEnvOverrides_ApplyOnlySetFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.URL = "https://file.supabase.co"

	EnvOverrides{AnonKey: "env-anon"}.apply(cfg)

	assert.Equal(t, "https://file.supabase.co", cfg.Remote.URL)
	assert.Equal(t, "env-anon", cfg.Remote.AnonKey)
}
