package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/cinelist/internal/catalog"
	"github.com/tonimelisma/cinelist/internal/watchlist"
)

// errNotMember makes `has` exit non-zero without printing an error.
var errNotMember = errors.New("not on watchlist")

// withWatchlist opens the stores, loads the snapshot for the current owner,
// runs fn and waits for the writes fn scheduled.
func withWatchlist(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := a.close(); cerr != nil {
			cc.Logger.Warn("closing watchlist", slog.String("error", cerr.Error()))
		}
	}()

	if err := a.load(ctx); err != nil {
		return err
	}

	return fn(ctx, a)
}

func newListCmd() *cobra.Command {
	var kind, filter string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved titles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var want watchlist.MediaKind

			if kind != "" {
				k, err := watchlist.ParseMediaKind(kind)
				if err != nil {
					return err
				}

				want = k
			}

			return withWatchlist(cmd, func(_ context.Context, a *app) error {
				entries := filterEntries(a.rec.Snapshot(), want, filter)

				return printEntries(cmd, a.cc, entries)
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "only show movie or tv")
	cmd.Flags().StringVar(&filter, "filter", "", "fuzzy match on title")

	return cmd
}

// filterEntries keeps entries of the wanted kind (all when empty) whose title
// fuzzy-matches query. Matches are ordered best first; without a query the
// snapshot order is kept.
func filterEntries(entries []watchlist.Entry, kind watchlist.MediaKind, query string) []watchlist.Entry {
	if kind != "" {
		kept := make([]watchlist.Entry, 0, len(entries))

		for _, e := range entries {
			if e.Kind == kind {
				kept = append(kept, e)
			}
		}

		entries = kept
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return entries
	}

	titles := make([]string, len(entries))
	for i, e := range entries {
		titles[i] = strings.ToLower(e.Title)
	}

	matches := fuzzy.Find(strings.ToLower(query), titles)

	out := make([]watchlist.Entry, 0, len(matches))
	for _, m := range matches {
		out = append(out, entries[m.Index])
	}

	return out
}

func printEntries(cmd *cobra.Command, cc *CLIContext, entries []watchlist.Entry) error {
	if cc.Flags.JSON {
		if entries == nil {
			entries = []watchlist.Entry{}
		}

		return printJSON(cmd.OutOrStdout(), entries)
	}

	if len(entries) == 0 {
		cc.Statusf("Your watchlist is empty.\n")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.ExternalID, 10),
			formatKind(e.Kind),
			formatTitle(e.Title),
			formatYear(e.ReleaseDate),
			formatRating(e.Rating),
		})
	}

	printTable(cmd.OutOrStdout(), []string{"ID", "KIND", "TITLE", "YEAR", "RATING"}, rows)

	return nil
}

// titleFlags are the --movie/--tv pair used by add and toggle.
type titleFlags struct {
	movie int64
	tv    int64
}

func (f *titleFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.movie, "movie", 0, "catalog id of a movie")
	cmd.Flags().Int64Var(&f.tv, "tv", 0, "catalog id of a series")
	cmd.MarkFlagsMutuallyExclusive("movie", "tv")
	cmd.MarkFlagsOneRequired("movie", "tv")
}

func (f *titleFlags) target() (watchlist.MediaKind, int64, error) {
	switch {
	case f.movie > 0:
		return watchlist.MediaMovie, f.movie, nil
	case f.tv > 0:
		return watchlist.MediaSeries, f.tv, nil
	default:
		return "", 0, errors.New("catalog id must be a positive number")
	}
}

// fetchEntry looks the title up in the catalog.
func fetchEntry(ctx context.Context, cc *CLIContext, kind watchlist.MediaKind, id int64) (watchlist.Entry, error) {
	e, err := newCatalog(cc).Details(ctx, kind, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotConfigured) {
			return watchlist.Entry{}, errors.New("adding titles needs catalog.api_key in the config file")
		}

		if errors.Is(err, catalog.ErrNotFound) {
			return watchlist.Entry{}, fmt.Errorf("no %s with id %d in the catalog", formatKind(kind), id)
		}

		return watchlist.Entry{}, err
	}

	if err := e.Validate(); err != nil {
		return watchlist.Entry{}, err
	}

	return e, nil
}

func newAddCmd() *cobra.Command {
	var flags titleFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a title to the watchlist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, id, err := flags.target()
			if err != nil {
				return err
			}

			return withWatchlist(cmd, func(ctx context.Context, a *app) error {
				if a.rec.IsMember(id) {
					a.cc.Statusf("Already on your watchlist.\n")
					return nil
				}

				e, err := fetchEntry(ctx, a.cc, kind, id)
				if err != nil {
					return err
				}

				a.rec.Toggle(e)
				a.cc.Statusf("Added %s.\n", e.Title)

				return nil
			})
		},
	}

	flags.register(cmd)

	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove ID",
		Aliases: []string{"rm"},
		Short:   "Remove a title from the watchlist",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return withWatchlist(cmd, func(_ context.Context, a *app) error {
				e, ok := findEntry(a.rec.Snapshot(), id)
				if !ok {
					a.cc.Statusf("Not on your watchlist.\n")
					return nil
				}

				a.rec.Toggle(e)
				a.cc.Statusf("Removed %s.\n", e.Title)

				return nil
			})
		},
	}
}

func newToggleCmd() *cobra.Command {
	var flags titleFlags

	cmd := &cobra.Command{
		Use:   "toggle",
		Short: "Add the title if missing, remove it if saved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, id, err := flags.target()
			if err != nil {
				return err
			}

			return withWatchlist(cmd, func(ctx context.Context, a *app) error {
				e, ok := findEntry(a.rec.Snapshot(), id)
				if !ok {
					e, err = fetchEntry(ctx, a.cc, kind, id)
					if err != nil {
						return err
					}
				}

				if a.rec.Toggle(e) {
					a.cc.Statusf("Added %s.\n", e.Title)
				} else {
					a.cc.Statusf("Removed %s.\n", e.Title)
				}

				return nil
			})
		},
	}

	flags.register(cmd)

	return cmd
}

func newHasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "has ID",
		Short: "Report whether a title is saved (exit status 1 if not)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return withWatchlist(cmd, func(_ context.Context, a *app) error {
				member := a.rec.IsMember(id)

				if a.cc.Flags.JSON {
					if err := printJSON(cmd.OutOrStdout(), map[string]bool{"member": member}); err != nil {
						return err
					}
				} else if member {
					fmt.Fprintln(cmd.OutOrStdout(), "yes")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "no")
				}

				if !member {
					return errNotMember
				}

				return nil
			})
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count saved movies and series",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withWatchlist(cmd, func(_ context.Context, a *app) error {
				s := a.rec.Stats()

				if a.cc.Flags.JSON {
					return printJSON(cmd.OutOrStdout(), s)
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Movies: %d\n", s.Movies)
				fmt.Fprintf(w, "Series: %d\n", s.Series)
				fmt.Fprintf(w, "Total:  %d\n", s.Total)

				return nil
			})
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid catalog id %q", s)
	}

	return id, nil
}

func findEntry(entries []watchlist.Entry, id int64) (watchlist.Entry, bool) {
	for _, e := range entries {
		if e.ExternalID == id {
			return e, true
		}
	}

	return watchlist.Entry{}, false
}
