package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cinelist/internal/config"
)

func TestBootstrapLogger_Levels(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	def := bootstrapLogger(CLIFlags{})
	assert.True(t, def.Enabled(ctx, slog.LevelWarn))
	assert.False(t, def.Enabled(ctx, slog.LevelInfo))

	verbose := bootstrapLogger(CLIFlags{Verbose: true})
	assert.True(t, verbose.Enabled(ctx, slog.LevelDebug))

	quiet := bootstrapLogger(CLIFlags{Quiet: true})
	assert.False(t, quiet.Enabled(ctx, slog.LevelWarn))
	assert.True(t, quiet.Enabled(ctx, slog.LevelError))
}

func TestBuildLogger_ConfigLevelAndFlags(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name      string
		cfgLevel  string
		flags     CLIFlags
		enabled   slog.Level
		disabled  slog.Level
		checkDown bool
	}{
		{name: "config info", cfgLevel: "info", enabled: slog.LevelInfo, disabled: slog.LevelDebug, checkDown: true},
		{name: "config debug", cfgLevel: "debug", enabled: slog.LevelDebug},
		{name: "config warn", cfgLevel: "warn", enabled: slog.LevelWarn, disabled: slog.LevelInfo, checkDown: true},
		{name: "verbose wins", cfgLevel: "error", flags: CLIFlags{Verbose: true}, enabled: slog.LevelDebug},
		{
			name: "quiet wins", cfgLevel: "debug", flags: CLIFlags{Quiet: true},
			enabled: slog.LevelError, disabled: slog.LevelWarn, checkDown: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			cfg.Logging.LogLevel = tt.cfgLevel

			logger, closeLog := buildLogger(cfg, tt.flags, &bytes.Buffer{})
			defer closeLog()

			assert.True(t, logger.Enabled(ctx, tt.enabled))

			if tt.checkDown {
				assert.False(t, logger.Enabled(ctx, tt.disabled))
			}
		})
	}
}

func TestBuildLogger_Formats(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		format string
		json   bool
	}{
		{"json", true},
		{"text", false},
		{"auto", true}, // not a terminal
	} {
		t.Run(tt.format, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			cfg.Logging.LogFormat = tt.format

			var buf bytes.Buffer

			logger, closeLog := buildLogger(cfg, CLIFlags{}, &buf)
			defer closeLog()

			logger.Info("hello", slog.String("k", "v"))

			if tt.json {
				assert.Contains(t, buf.String(), `"msg":"hello"`)
			} else {
				assert.Contains(t, buf.String(), "msg=hello")
			}
		})
	}
}

func TestBuildLogger_LogFile(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Logging.LogFile = filepath.Join(t.TempDir(), "logs", "cinelist.log")

	var stderr bytes.Buffer

	logger, closeLog := buildLogger(cfg, CLIFlags{}, &stderr)
	logger.Info("to file")
	require.NoError(t, closeLog())

	assert.Empty(t, stderr.String())
	assert.FileExists(t, cfg.Logging.LogFile)
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{
		"login", "logout", "guest", "whoami",
		"list", "add", "remove", "toggle", "has", "stats",
		"search", "trending", "popular", "top-rated", "upcoming", "on-air",
		"genres", "discover",
		"watch", "status", "config",
	} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()

	for _, name := range []string{"config", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}

	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)
	assert.Equal(t, "q", cmd.PersistentFlags().Lookup("quiet").Shorthand)
}

func TestConfigInit_SkipsConfig(t *testing.T) {
	t.Parallel()

	cmd := newConfigInitCmd()
	assert.Equal(t, "true", cmd.Annotations[skipConfigAnnotation])
}

func TestMustCLIContext_PanicsWhenMissing(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { mustCLIContext(context.Background()) })

	cc := &CLIContext{}
	assert.Same(t, cc, mustCLIContext(withCLIContext(context.Background(), cc)))
}

func TestDefaultHTTPClient_HasTimeout(t *testing.T) {
	t.Parallel()

	assert.Equal(t, httpClientTimeout, defaultHTTPClient().Timeout)
}
