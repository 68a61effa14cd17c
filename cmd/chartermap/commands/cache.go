package commands

import (
	"fmt"
	"io"
	"time"

	"chartermap/internal/brand"
	"chartermap/internal/components/chrono"
	"chartermap/internal/components/telemetry"
	"chartermap/internal/stores"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var onlyStale bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspects the detail cache.",
}

var cacheListCmd = &cobra.Command{
	Use:   "list [--stale]",
	Short: "Lists cached entries with their age.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		overrides.apply(&cfg)
		matcher, err := cfg.Matcher()
		if err != nil {
			return err
		}

		cache, closeCache, err := cfg.OpenCache(cmd.Context(), chrono.NewStandardImpl(), telemetry.NewSlogAPI(nil))
		if err != nil {
			return err
		}
		defer closeCache()
		cache.Load(cmd.Context())

		renderCache(cmd.OutOrStdout(), cache, matcher, onlyStale)
		return nil
	},
}

func init() {
	cacheListCmd.Flags().BoolVar(&onlyStale, "stale", false, "Only list entries the next run may look up again: expired ones and ones without an icon.")
	cacheListCmd.Flags().StringVar(&overrides.cache, "cache", "", "The json cache file.")
	cacheCmd.AddCommand(cacheListCmd)
	rootCmd.AddCommand(cacheCmd)
}

func formatAge(entry stores.Entry, age time.Duration) string {
	if entry.ResolvedAt.IsZero() {
		return "never"
	}
	days := int(age.Hours()) / 24
	if days > 0 {
		return fmt.Sprintf("%dd", days)
	}
	return age.Truncate(time.Minute).String()
}

func renderCache(w io.Writer, cache *stores.Cache, matcher brand.Matcher, onlyStale bool) int {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Name", "Icon", matcher.Label(), "Age", "Stale"})

	rows := 0
	for _, id := range cache.IDs() {
		entry, _ := cache.Get(id)
		stale := cache.IsStale(entry, matcher.Classify)
		// an iconless entry is looked up again unless the run's hints
		// already match the brand, which only the run knows
		if onlyStale && !stale && entry.Icon != "" {
			continue
		}
		t.AppendRow(table.Row{
			id,
			entry.Name,
			entry.Icon,
			matcher.Classify(entry),
			formatAge(entry, cache.Age(entry)),
			stale,
		})
		rows++
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", rows})
	t.Render()
	return rows
}
