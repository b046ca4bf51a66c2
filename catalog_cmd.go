package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cinelist/internal/catalog"
	"github.com/tonimelisma/cinelist/internal/watchlist"
)

var errCatalogNotConfigured = errors.New("browsing the catalog needs catalog.api_key in the config file")

// savedMarker flags catalog results that are already on the watchlist.
const savedMarker = "*"

func newSearchCmd() *cobra.Command {
	var page int

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search the catalog for movies and series",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			return browse(cmd, func(ctx context.Context, c *catalog.Client) (*catalog.Page, error) {
				return c.Search(ctx, query, page)
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "result page")

	return cmd
}

func newTrendingCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "trending",
		Short: "Show this week's trending titles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := watchlist.ParseMediaKind(kind)
			if err != nil {
				return err
			}

			return browse(cmd, func(ctx context.Context, c *catalog.Client) (*catalog.Page, error) {
				return c.Trending(ctx, k)
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "movie", "movie or tv")

	return cmd
}

func newPopularCmd() *cobra.Command {
	var (
		kind string
		page int
	)

	cmd := &cobra.Command{
		Use:   "popular",
		Short: "Show popular titles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := watchlist.ParseMediaKind(kind)
			if err != nil {
				return err
			}

			return browse(cmd, func(ctx context.Context, c *catalog.Client) (*catalog.Page, error) {
				return c.Popular(ctx, k, page)
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "movie", "movie or tv")
	cmd.Flags().IntVar(&page, "page", 1, "result page")

	return cmd
}

func newTopRatedCmd() *cobra.Command {
	var (
		kind string
		page int
	)

	cmd := &cobra.Command{
		Use:   "top-rated",
		Short: "Show the highest rated titles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := watchlist.ParseMediaKind(kind)
			if err != nil {
				return err
			}

			return browse(cmd, func(ctx context.Context, c *catalog.Client) (*catalog.Page, error) {
				return c.TopRated(ctx, k, page)
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "movie", "movie or tv")
	cmd.Flags().IntVar(&page, "page", 1, "result page")

	return cmd
}

func newUpcomingCmd() *cobra.Command {
	var page int

	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "Show movies coming to theaters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return browse(cmd, func(ctx context.Context, c *catalog.Client) (*catalog.Page, error) {
				return c.Upcoming(ctx, page)
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "result page")

	return cmd
}

func newOnAirCmd() *cobra.Command {
	var page int

	cmd := &cobra.Command{
		Use:   "on-air",
		Short: "Show series airing this week",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return browse(cmd, func(ctx context.Context, c *catalog.Client) (*catalog.Page, error) {
				return c.OnAir(ctx, page)
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "result page")

	return cmd
}

func newGenresCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "genres",
		Short: "List catalog genres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			k, err := watchlist.ParseMediaKind(kind)
			if err != nil {
				return err
			}

			c := newCatalog(cc)
			if !c.Configured() {
				return errCatalogNotConfigured
			}

			genres, err := c.Genres(cmd.Context(), k)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				if genres == nil {
					genres = []catalog.Genre{}
				}

				return printJSON(cmd.OutOrStdout(), genres)
			}

			rows := make([][]string, 0, len(genres))
			for _, g := range genres {
				rows = append(rows, []string{strconv.FormatInt(g.ID, 10), g.Name})
			}

			printTable(cmd.OutOrStdout(), []string{"ID", "NAME"}, rows)

			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "movie", "movie or tv")

	return cmd
}

func newDiscoverCmd() *cobra.Command {
	var (
		kind  string
		genre string
		page  int
	)

	cmd := &cobra.Command{
		Use:   "discover --genre GENRE",
		Short: "Show popular titles in a genre",
		Long: `Show the most popular titles in one genre.

GENRE is a genre id or name as listed by 'cinelist genres'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := watchlist.ParseMediaKind(kind)
			if err != nil {
				return err
			}

			return browse(cmd, func(ctx context.Context, c *catalog.Client) (*catalog.Page, error) {
				id, err := resolveGenre(ctx, c, k, genre)
				if err != nil {
					return nil, err
				}

				return c.Discover(ctx, k, id, page)
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "movie", "movie or tv")
	cmd.Flags().StringVar(&genre, "genre", "", "genre id or name")
	cmd.Flags().IntVar(&page, "page", 1, "result page")

	if err := cmd.MarkFlagRequired("genre"); err != nil {
		panic(err)
	}

	return cmd
}

// resolveGenre accepts a numeric genre id as is and looks a name up
// case-insensitively in the kind's genre list.
func resolveGenre(ctx context.Context, c *catalog.Client, kind watchlist.MediaKind, genre string) (int64, error) {
	genre = strings.TrimSpace(genre)

	if id, err := strconv.ParseInt(genre, 10, 64); err == nil && id > 0 {
		return id, nil
	}

	genres, err := c.Genres(ctx, kind)
	if err != nil {
		return 0, err
	}

	for _, g := range genres {
		if strings.EqualFold(g.Name, genre) {
			return g.ID, nil
		}
	}

	return 0, fmt.Errorf("unknown %s genre %q (see 'cinelist genres --kind %s')", formatKind(kind), genre, kind)
}

// browseResult is the JSON shape of one catalog row.
type browseResult struct {
	watchlist.Entry
	Saved bool `json:"saved"`
}

// browse fetches a catalog page and prints it with watchlist markers. The
// markers are skipped when nobody owns a watchlist yet.
func browse(cmd *cobra.Command, fetch func(ctx context.Context, c *catalog.Client) (*catalog.Page, error)) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	c := newCatalog(cc)
	if !c.Configured() {
		return errCatalogNotConfigured
	}

	page, err := fetch(ctx, c)
	if err != nil {
		return err
	}

	isSaved := savedLookup(ctx, cc)

	results := make([]browseResult, 0, len(page.Results))
	for _, t := range page.Results {
		e := t.ToEntry()
		results = append(results, browseResult{Entry: e, Saved: isSaved(e.ExternalID)})
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), results)
	}

	if len(results) == 0 {
		cc.Statusf("No results.\n")
		return nil
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		marker := ""
		if r.Saved {
			marker = savedMarker
		}

		rows = append(rows, []string{
			marker,
			strconv.FormatInt(r.ExternalID, 10),
			formatKind(r.Kind),
			formatTitle(r.Title),
			formatYear(r.ReleaseDate),
			formatRating(r.Rating),
		})
	}

	printTable(cmd.OutOrStdout(), []string{"", "ID", "KIND", "TITLE", "YEAR", "RATING"}, rows)

	if page.TotalPages > 1 {
		cc.Statusf("Page %d of %d.\n", page.Page, page.TotalPages)
	}

	return nil
}

// savedLookup loads the current watchlist and returns a membership test.
// Any failure yields a test that always reports false.
func savedLookup(ctx context.Context, cc *CLIContext) func(int64) bool {
	none := func(int64) bool { return false }

	a, err := openApp(ctx, cc)
	if err != nil {
		cc.Logger.Debug("watchlist unavailable for markers", slog.String("error", err.Error()))
		return none
	}

	defer func() {
		if cerr := a.close(); cerr != nil {
			cc.Logger.Warn("closing watchlist", slog.String("error", cerr.Error()))
		}
	}()

	if err := a.load(ctx); err != nil {
		cc.Logger.Debug("watchlist unavailable for markers", slog.String("error", err.Error()))
		return none
	}

	saved := make(map[int64]struct{})
	for _, e := range a.rec.Snapshot() {
		saved[e.ExternalID] = struct{}{}
	}

	return func(id int64) bool {
		_, ok := saved[id]
		return ok
	}
}
