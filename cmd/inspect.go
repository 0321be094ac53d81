package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wegman-software/vtpipe/internal/extsort"
	"github.com/wegman-software/vtpipe/internal/feature"
	"github.com/wegman-software/vtpipe/internal/tile"
)

var inspectLimit int

// inspectCmd dumps the records of a sort run file left behind by a crashed
// run, which is the fastest way to see what tile a bad feature landed in.
var inspectCmd = &cobra.Command{
	Use:   "inspect-run <run-file>",
	Short: "Dump the records of an intermediate sort run file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		count := 0
		err := extsort.ReadRun(args[0], func(entry feature.SortableFeature) error {
			if inspectLimit > 0 && count >= inspectLimit {
				return nil
			}
			count++
			coord := tile.Decode(feature.TileFromSortKey(entry.SortKey))
			fmt.Printf("%016x tile=%-12s layer=%-3d z-order=%-8d group=%-5v value=%d bytes\n",
				entry.SortKey,
				coord,
				feature.LayerFromSortKey(entry.SortKey),
				feature.ZOrderFromSortKey(entry.SortKey),
				feature.HasGroupFromSortKey(entry.SortKey),
				len(entry.Value))
			return nil
		})
		if err != nil {
			exitWithError("Failed to read run file", err)
		}
		fmt.Printf("%d records\n", count)
	},
}

func init() {
	inspectCmd.Flags().IntVarP(&inspectLimit, "limit", "n", 50, "Maximum records to print (0 = all)")
	rootCmd.AddCommand(inspectCmd)
}
