package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/cinelist/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that run without a resolved config:
// they either write the config (config init) or only print the version.
const skipConfigAnnotation = "skipConfig"

// httpClientTimeout bounds every outbound HTTP request.
const httpClientTimeout = 30 * time.Second

// Log file rotation limits and log_format values.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 5
	logFormatJSON = "json"
	logFormatText = "text"
)

// CLIFlags are the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries what the pre-run phase resolved. Commands fetch it with
// mustCLIContext(cmd.Context()).
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config
	CfgPath string
	Logger  *slog.Logger

	// closeLog releases the rotating log file, if any.
	closeLog func() error
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// cliContextFrom returns the CLIContext stored by the root pre-run, or nil.
func cliContextFrom(ctx context.Context) *CLIContext {
	if ctx == nil {
		return nil
	}

	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

// mustCLIContext panics when called outside a command run; that is a wiring
// bug, not a user error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("cinelist: CLIContext missing from command context")
	}

	return cc
}

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds the root command with every subcommand registered.
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:     "cinelist",
		Short:   "Movie and series watchlist",
		Long:    "Keep a movie and series watchlist on this device or in your account, and browse the title catalog.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(cmd, flags)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cc := cliContextFrom(cmd.Context()); cc != nil && cc.closeLog != nil {
				return cc.closeLog()
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newGuestCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newToggleCmd())
	cmd.AddCommand(newHasCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newTrendingCmd())
	cmd.AddCommand(newPopularCmd())
	cmd.AddCommand(newTopRatedCmd())
	cmd.AddCommand(newUpcomingCmd())
	cmd.AddCommand(newOnAirCmd())
	cmd.AddCommand(newGenresCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration through the override
// chain and builds the logger from it. Commands annotated with
// skipConfigAnnotation get a bootstrap logger and no config.
func loadCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	cc := &CLIContext{Flags: flags}

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		cc.Logger = bootstrapLogger(flags)
		return cc, nil
	}

	env := config.ReadEnvOverrides(bootstrapLogger(flags))

	cfg, path, err := config.Resolve(env, config.CLIOverrides{ConfigPath: flags.ConfigPath}, bootstrapLogger(flags))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = cfg
	cc.CfgPath = path

	logger, closeLog := buildLogger(cfg, flags, os.Stderr)
	cc.Logger = logger
	cc.closeLog = closeLog

	return cc, nil
}

// bootstrapLogger is used before the config is known. It only shows
// warnings unless a verbosity flag says otherwise.
func bootstrapLogger(flags CLIFlags) *slog.Logger {
	level := slog.LevelWarn

	switch {
	case flags.Verbose:
		level = slog.LevelDebug
	case flags.Quiet:
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildLogger creates the command logger. The config's log_level is the
// baseline and --verbose/--quiet override it. When log_file is set, records
// go to a rotating file instead of stderr.
func buildLogger(cfg *config.Config, flags CLIFlags, stderr io.Writer) (*slog.Logger, func() error) {
	level := logLevel(cfg.Logging.LogLevel)

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	out := stderr
	closeLog := func() error { return nil }

	if cfg.Logging.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Logging.LogFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     cfg.Logging.LogRetentionDays,
		}
		out = lj
		closeLog = lj.Close
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(cfg.Logging.LogFormat, out) {
		return slog.New(slog.NewJSONHandler(out, opts)), closeLog
	}

	return slog.New(slog.NewTextHandler(out, opts)), closeLog
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// useJSONLogs resolves log_format. "auto" means text on a terminal and JSON
// everywhere else, including log files.
func useJSONLogs(format string, out io.Writer) bool {
	switch format {
	case logFormatJSON:
		return true
	case logFormatText:
		return false
	}

	f, ok := out.(*os.File)
	if !ok {
		return true
	}

	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}
