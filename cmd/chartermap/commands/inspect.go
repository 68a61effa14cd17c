package commands

import (
	"fmt"
	"io"
	"time"

	"chartermap/internal/geojson"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [path]",
	Short: "Prints the metadata and features of a published artifact.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		} else {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			path = cfg.Output
		}

		fc, err := geojson.Read(path)
		if err != nil {
			return err
		}
		describeArtifact(cmd.OutOrStdout(), path, fc)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func describeArtifact(w io.Writer, path string, fc geojson.FeatureCollection) {
	fmt.Fprintf(w, "%s: %d feature(s)\n", path, len(fc.Features))
	if fc.Metadata != nil {
		fmt.Fprintf(w, "source: %s\n", fc.Metadata.Source)
		fmt.Fprintf(w, "ids seen: %d, accepted: %d\n", fc.Metadata.IDs, fc.Metadata.Accepted)
		fmt.Fprintf(w, "generated at: %s\n", fc.Metadata.GeneratedAt.Format(time.RFC3339))
	}
	if len(fc.Features) == 0 {
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Name", "Address", "Lon", "Lat"})
	for _, feature := range fc.Features {
		lon, lat, _ := feature.Geometry.Point()
		t.AppendRow(table.Row{
			feature.Properties.ID,
			feature.Properties.Name,
			feature.Properties.Address,
			lon,
			lat,
		})
	}
	t.Render()
}
