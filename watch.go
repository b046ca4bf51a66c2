package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/cinelist/internal/identity"
	"github.com/tonimelisma/cinelist/internal/watchlist"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the watchlist as you sign in and out",
		Long: `Print the watchlist and reprint it whenever it changes.

Signing in or out from another terminal switches the watchlist being shown;
signing in from guest mode moves the device watchlist into the account.
Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := a.close(); cerr != nil {
			cc.Logger.Warn("closing watchlist", slog.String("error", cerr.Error()))
		}
	}()

	sessions, err := a.identity.Subscribe(ctx)
	if err != nil {
		return err
	}

	changes, unsubscribe := a.rec.Subscribe()
	defer unsubscribe()

	owners := make(chan watchlist.OwnerContext)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(owners)
		return forwardOwners(gctx, a, sessions, owners)
	})

	g.Go(func() error {
		return a.rec.Run(gctx, owners)
	})

	g.Go(func() error {
		return printChanges(gctx, cmd, a, changes)
	})

	cc.Logger.Info("watching watchlist", slog.String("session", a.identity.SessionPath()))

	return g.Wait()
}

// forwardOwners turns session notifications into owner contexts. Signing
// out after a signed-in user forwards Guest even without the guest flag, so
// that user's entries are replaced by the device watchlist. Without a
// previous user the notification is only reported.
func forwardOwners(
	ctx context.Context, a *app, sessions <-chan *identity.Session, owners chan<- watchlist.OwnerContext,
) error {
	var (
		last      string
		forwarded bool
	)

	for s := range sessions {
		if s == nil && !a.identity.IsGuest() {
			a.cc.Statusf("Not signed in. Run 'cinelist login' or 'cinelist guest' in another terminal.\n")

			if !forwarded || last == "" {
				continue
			}
		}

		user := ""
		if s != nil {
			user = s.UserID
		}

		if a.bearer != nil && user != last {
			a.bearer.Reset()
		}

		last = user

		select {
		case owners <- identity.OwnerOf(s):
			forwarded = true
		case <-ctx.Done():
			return nil
		}
	}

	return nil
}

// printChanges reprints the snapshot after every change once it is loaded.
func printChanges(ctx context.Context, cmd *cobra.Command, a *app, changes <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-changes:
			if !a.rec.Ready() {
				continue
			}

			if err := printSnapshot(cmd, a); err != nil {
				return err
			}
		}
	}
}

// watchFrame is the JSON shape of one `watch --json` line.
type watchFrame struct {
	Time    time.Time         `json:"time"`
	Owner   string            `json:"owner"`
	Stats   watchlist.Stats   `json:"stats"`
	Entries []watchlist.Entry `json:"entries"`
}

func printSnapshot(cmd *cobra.Command, a *app) error {
	entries := a.rec.Snapshot()
	owner := ownerLabel(a.rec.Owner())

	if a.cc.Flags.JSON {
		if entries == nil {
			entries = []watchlist.Entry{}
		}

		return printJSON(cmd.OutOrStdout(), watchFrame{
			Time:    time.Now().UTC(),
			Owner:   owner,
			Stats:   watchlist.CountKinds(entries),
			Entries: entries,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n[%s] %s, %d title(s)\n", time.Now().Format(time.TimeOnly), owner, len(entries))

	return printEntries(cmd, a.cc, entries)
}
