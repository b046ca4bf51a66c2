package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tonimelisma/cinelist/internal/watchlist"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// maxTitleWidth truncates long titles in table output.
const maxTitleWidth = 48

// formatTitle shortens a title to maxTitleWidth runes.
func formatTitle(s string) string {
	r := []rune(s)
	if len(r) <= maxTitleWidth {
		return s
	}

	return string(r[:maxTitleWidth-1]) + "…"
}

// formatRating renders a 0-10 vote average, or "-" when unrated.
func formatRating(v float64) string {
	if v <= 0 {
		return "-"
	}

	return fmt.Sprintf("%.1f", v)
}

// formatYear returns the year part of a release date, or "-".
func formatYear(date string) string {
	if len(date) < 4 {
		return "-"
	}

	return date[:4]
}

// formatKind renders a media kind for humans.
func formatKind(k watchlist.MediaKind) string {
	if k == watchlist.MediaSeries {
		return "series"
	}

	return "movie"
}

// formatExpiry describes a token expiry relative to now.
func formatExpiry(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	if !t.After(now) {
		return "expired " + t.Local().Format(time.DateTime)
	}

	return fmt.Sprintf("%s (in %s)", t.Local().Format(time.DateTime), t.Sub(now).Round(time.Minute))
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len([]rune(h))
	}

	for _, row := range rows {
		for i, cell := range row {
			if n := len([]rune(cell)); n > widths[i] {
				widths[i] = n
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = cell + strings.Repeat(" ", widths[i]-len([]rune(cell)))
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}
