package commands

import (
	"context"
	"os"

	libtelemetry "chartermap/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "chartermap",
	Short: "chartermap publishes the Charter supermarkets listed on consum.es as GeoJSON.",
	Long: `chartermap collects store ids from the consum.es map feeds, resolves the
details of every id it has no fresh cache entry for and writes the stores
that belong to the Charter brand to a GeoJSON FeatureCollection.

Running it without a subcommand is the same as "chartermap run".`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		libtelemetry.InitSlog(os.Stderr, verbose)
	},
	RunE: runPipeline,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "chartermap.json5", "The configuration file, a .local variant is merged over it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug reports.")
	addRunFlags(rootCmd)
}

// ExecuteContext runs the command line, the error is returned so the
// caller can flush telemetry before exiting.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
