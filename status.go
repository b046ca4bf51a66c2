package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateExpired = "expired"
	tokenStateValid   = "valid"
)

const notConfigured = "(not configured)"

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, owner and watchlist size",
		Long: `Display where the watchlist lives and who owns it.

Shows the config file in use, the local and account backends, the signed-in
user with token state, and how many titles are saved.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	ConfigPath    string `json:"config_path"`
	LocalBackend  string `json:"local_backend"`
	LocalPath     string `json:"local_path"`
	RemoteBackend string `json:"remote_backend"`
	RemoteReady   bool   `json:"remote_configured"`
	CatalogReady  bool   `json:"catalog_configured"`
	Owner         string `json:"owner"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	TokenState    string `json:"token_state"`
	Entries       *int   `json:"entries,omitempty"`
	LoadError     string `json:"load_error,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)
	p := newIdentity(cc)

	who, err := describeOwner(ctx, p)
	if err != nil {
		cc.Logger.Warn("unreadable session", slog.String("error", err.Error()))
		who = whoamiOutput{Owner: ownerKindNone}
	}

	out := statusOutput{
		ConfigPath:    cc.CfgPath,
		LocalBackend:  cc.Cfg.Local.Backend,
		LocalPath:     cc.Cfg.Local.Path,
		RemoteBackend: cc.Cfg.Remote.Backend,
		RemoteReady:   cc.Cfg.RemoteConfigured(),
		CatalogReady:  cc.Cfg.Catalog.APIKey != "",
		Owner:         who.Owner,
		UserID:        who.UserID,
		Email:         who.Email,
		TokenState:    tokenState(who, time.Now()),
	}

	if who.Owner != ownerKindNone {
		n, err := countEntries(ctx, cc)
		if err != nil {
			out.LoadError = err.Error()
		} else {
			out.Entries = &n
		}
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	printStatusText(cmd.OutOrStdout(), &out)

	return nil
}

// tokenState classifies the saved token by its expiry. An expired access
// token is still usable while the refresh token is accepted.
func tokenState(who whoamiOutput, now time.Time) string {
	switch {
	case who.Owner != ownerKindAccount:
		return tokenStateMissing
	case who.Expiry != nil && !who.Expiry.After(now):
		return tokenStateExpired
	default:
		return tokenStateValid
	}
}

func countEntries(ctx context.Context, cc *CLIContext) (int, error) {
	a, err := openApp(ctx, cc)
	if err != nil {
		return 0, err
	}

	defer func() {
		if cerr := a.close(); cerr != nil {
			cc.Logger.Warn("closing watchlist", slog.String("error", cerr.Error()))
		}
	}()

	if err := a.load(ctx); err != nil {
		return 0, err
	}

	return len(a.rec.Snapshot()), nil
}

func printStatusText(w io.Writer, s *statusOutput) {
	fmt.Fprintf(w, "Config:  %s\n", s.ConfigPath)
	fmt.Fprintf(w, "Local:   %s (%s)\n", s.LocalPath, s.LocalBackend)

	remote := s.RemoteBackend
	if !s.RemoteReady {
		remote += " " + notConfigured
	}

	fmt.Fprintf(w, "Account: %s\n", remote)

	catalog := "ready"
	if !s.CatalogReady {
		catalog = notConfigured
	}

	fmt.Fprintf(w, "Catalog: %s\n", catalog)

	switch s.Owner {
	case ownerKindAccount:
		fmt.Fprintf(w, "Owner:   %s (%s)\n", orDash(s.Email), s.UserID)
		fmt.Fprintf(w, "Token:   %s\n", s.TokenState)
	case ownerKindGuest:
		fmt.Fprintln(w, "Owner:   guest")
	default:
		fmt.Fprintln(w, "Owner:   none (run 'cinelist login' or 'cinelist guest')")
	}

	switch {
	case s.Entries != nil:
		fmt.Fprintf(w, "Titles:  %d\n", *s.Entries)
	case s.LoadError != "":
		fmt.Fprintf(w, "Titles:  unavailable (%s)\n", s.LoadError)
	}
}

