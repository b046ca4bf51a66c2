package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tonimelisma/cinelist/internal/identity"
	"github.com/tonimelisma/cinelist/internal/watchlist"
)

// Owner kinds reported by whoami and status.
const (
	ownerKindAccount = "account"
	ownerKindGuest   = "guest"
	ownerKindNone    = "none"
)

func newLoginCmd() *cobra.Command {
	var (
		email         string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to your account",
		Long: `Sign in with email and password.

A watchlist kept on this device as a guest is moved into the account as part
of signing in.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, email, passwordStdin)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")

	if err := cmd.MarkFlagRequired("email"); err != nil {
		panic(err)
	}

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the guest choice",
		RunE:  runLogout,
	}
}

func newGuestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guest",
		Short: "Keep the watchlist on this device without an account",
		RunE:  runGuest,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show who owns the watchlist",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, email string, passwordStdin bool) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	if cc.Cfg.Remote.URL == "" || cc.Cfg.Remote.AnonKey == "" {
		return errors.New("signing in needs remote.url and remote.anon_key in the config file")
	}

	password, err := promptPassword(cc, cmd.InOrStdin(), passwordStdin)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := a.close(); cerr != nil {
			cc.Logger.Warn("closing watchlist", slog.String("error", cerr.Error()))
		}
	}()

	// Load the guest watchlist first so signing in moves it into the account.
	before := a.identity.Owner(ctx)
	if before.IsGuest() {
		a.rec.OnIdentityChange(ctx, before)
	}

	session, err := a.identity.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return errors.New("sign-in failed: wrong email or password")
		}

		return err
	}

	cc.Logger.Info("signed in", slog.String("user_id", session.UserID))

	if a.bearer != nil {
		a.bearer.Reset()
	}

	if !cc.Cfg.RemoteConfigured() {
		cc.Statusf("Signed in as %s.\n", displayEmail(session))
		return nil
	}

	a.rec.OnIdentityChange(ctx, identity.OwnerOf(session))

	cc.Statusf("Signed in as %s.\n", displayEmail(session))

	if moved := a.rec.Migrated(); moved > 0 {
		cc.Statusf("Moving %d saved title(s) from this device into your account.\n", moved)
	}

	return nil
}

// promptPassword reads the password without echo when stdin is a terminal.
// Piped input and --password-stdin read a single line instead.
func promptPassword(cc *CLIContext, in io.Reader, fromStdin bool) (string, error) {
	f, isFile := in.(*os.File)
	if fromStdin || !isFile || !isatty.IsTerminal(f.Fd()) {
		return readPassword(in)
	}

	cc.Statusf("Password: ")

	raw, err := term.ReadPassword(int(f.Fd()))
	cc.Statusf("\n")

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	if len(raw) == 0 {
		return "", errors.New("empty password")
	}

	return string(raw), nil
}

// readPassword reads one line from r without the trailing newline.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}

	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}

	return password, nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := newIdentity(cc).SignOut(); err != nil {
		return err
	}

	cc.Statusf("Signed out.\n")

	return nil
}

func runGuest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)
	p := newIdentity(cc)

	session, err := p.CurrentSession(ctx)
	if err != nil {
		cc.Logger.Debug("ignoring unreadable session", slog.String("error", err.Error()))
	}

	if err := p.ContinueAsGuest(); err != nil {
		return err
	}

	if session != nil {
		cc.Statusf("Guest mode saved, but you are still signed in as %s. Run 'cinelist logout' to use the device watchlist.\n",
			displayEmail(session))

		return nil
	}

	cc.Statusf("Continuing as guest. Your watchlist stays on this device.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Owner  string     `json:"owner"`
	UserID string     `json:"user_id,omitempty"`
	Email  string     `json:"email,omitempty"`
	Expiry *time.Time `json:"token_expiry,omitempty"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	out, err := describeOwner(ctx, newIdentity(cc))
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()

	switch out.Owner {
	case ownerKindAccount:
		fmt.Fprintf(w, "Signed in as %s\n", orDash(out.Email))
		fmt.Fprintf(w, "User ID: %s\n", out.UserID)

		if out.Expiry != nil {
			fmt.Fprintf(w, "Token:   %s\n", formatExpiry(*out.Expiry, time.Now()))
		}
	case ownerKindGuest:
		fmt.Fprintln(w, "Guest: watchlist is kept on this device")
	default:
		fmt.Fprintln(w, "Not signed in. Run 'cinelist login' or 'cinelist guest'.")
	}

	return nil
}

// describeOwner reports the current owner without opening any store.
func describeOwner(ctx context.Context, p *identity.FileProvider) (whoamiOutput, error) {
	session, err := p.CurrentSession(ctx)
	if err != nil {
		return whoamiOutput{}, err
	}

	if session != nil {
		out := whoamiOutput{Owner: ownerKindAccount, UserID: session.UserID, Email: session.Email}
		if !session.Expiry.IsZero() {
			exp := session.Expiry
			out.Expiry = &exp
		}

		return out, nil
	}

	if p.IsGuest() {
		return whoamiOutput{Owner: ownerKindGuest}, nil
	}

	return whoamiOutput{Owner: ownerKindNone}, nil
}

func displayEmail(s *identity.Session) string {
	if s.Email != "" {
		return s.Email
	}

	return s.UserID
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

// ownerLabel renders an owner context for status output.
func ownerLabel(o watchlist.OwnerContext) string {
	switch {
	case o.IsAuthenticated():
		return "account " + o.UserID()
	case o.IsGuest():
		return ownerKindGuest
	default:
		return ownerKindNone
	}
}
