package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chartermap/internal/components/chrono"
	"chartermap/internal/components/telemetry"
	"chartermap/internal/consum"
	"chartermap/internal/fetch"
	"chartermap/internal/geojson"
	"chartermap/internal/pipeline"
	libtelemetry "chartermap/lib/telemetry"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type runOverrides struct {
	output      string
	cache       string
	concurrency int
	deadline    time.Duration
	listing     bool
}

var overrides runOverrides

func addRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&overrides.output, "output", "o", "", "Where the GeoJSON artifact is written.")
	flags.StringVar(&overrides.cache, "cache", "", "The json cache file.")
	flags.IntVar(&overrides.concurrency, "concurrency", 0, "Detail lookups in flight at once.")
	flags.DurationVar(&overrides.deadline, "deadline", 0, "Stop starting lookups after this long (ex. 10m).")
	flags.BoolVar(&overrides.listing, "listing", false, "Also walk the html store listing.")
}

var runCmd = &cobra.Command{
	Use:   "run [--output <path>] [--cache <path>] [--concurrency <n>] [--deadline <duration>]",
	Short: "Discovers, resolves and publishes the stores.",
	Args:  cobra.NoArgs,
	RunE:  runPipeline,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func (o runOverrides) apply(cfg *Config) {
	if o.output != "" {
		cfg.Output = o.output
	}
	if o.cache != "" {
		// an explicit cache file wins over a configured database
		cfg.Cache.File = o.cache
		cfg.Cache.Database.File = ""
		cfg.Cache.Database.Url = ""
	}
	if o.concurrency > 0 {
		cfg.Concurrency = o.concurrency
	}
	if o.deadline > 0 {
		cfg.Deadline = o.deadline.String()
	}
	if o.listing {
		cfg.UseListing = true
	}
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	overrides.apply(&cfg)

	deadline, err := cfg.DeadlineDuration()
	if err != nil {
		return err
	}
	matcher, err := cfg.Matcher()
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := slog.Default().With("run_id", runID)
	tel := telemetry.NewSlogAPI(logger)

	perfCtx, stopPerf := context.WithCancel(ctx)
	defer stopPerf()
	libtelemetry.InstrumentPerfStats(perfCtx, 10*time.Second)

	clock := chrono.NewStandardImpl()
	cache, closeCache, err := cfg.OpenCache(ctx, clock, tel)
	if err != nil {
		return err
	}
	defer closeCache()

	fetcher := fetch.New(cfg.FetchOptions(), tel)

	var sources []pipeline.Source
	for _, feed := range cfg.Feeds {
		sources = append(sources, consum.NewFeedSource(fetcher, feed, tel))
	}
	if cfg.UseListing {
		sources = append(sources, consum.NewListingSource(fetcher, cfg.ListingURL, tel))
	}
	if len(sources) == 0 {
		return fmt.Errorf("no feeds configured and the listing is disabled")
	}

	resolver := consum.NewDetailResolver(fetcher, cfg.DetailBases)

	p := pipeline.New(pipeline.Options{
		Sources:     sources,
		Resolver:    resolver.Resolve,
		Cache:       cache,
		Matcher:     matcher,
		Writer:      geojson.NewWriter(cfg.Output, tel),
		Pool:        cfg.PoolOptions(),
		Deadline:    deadline,
		SourceLabel: cfg.SourceLabel,
		RunID:       runID,
		Time:        clock,
		Tel:         tel,
	})

	start := time.Now()
	summary, err := p.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info(
		"run finished",
		"seen", summary.Seen,
		"resolved", summary.Resolved,
		"unresolved", summary.Unresolved,
		"accepted", summary.Accepted,
		"written", summary.Written,
		"output", cfg.Output,
		"seconds", time.Since(start).Seconds(),
	)
	return nil
}
