package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/vtpipe/internal/config"
	"github.com/wegman-software/vtpipe/internal/logger"
	"github.com/wegman-software/vtpipe/internal/pipeline"
	"github.com/wegman-software/vtpipe/internal/profile"
	"github.com/wegman-software/vtpipe/internal/stats"
)

var generateCmd = &cobra.Command{
	Use:   "generate <input.osm.pbf>",
	Short: "Generate vector tiles from an OSM PBF file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg.InputFile = args[0]

		log := logger.Get()
		defer logger.Sync()

		prof, cleanup, err := buildProfile(cfg)
		if err != nil {
			exitWithError("Failed to load profile", err)
		}
		defer cleanup()

		st := stats.InMemory()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		coord, err := pipeline.NewCoordinator(ctx, cfg, prof, st)
		if err != nil {
			exitWithError("Failed to build pipeline", err)
		}
		defer coord.Close()

		result, err := coord.Run(ctx)
		if err != nil {
			exitWithError("Tile generation failed", err)
		}

		st.PrintSummary()
		log.Info("Done",
			zap.Int64("features", result.FeaturesWritten),
			zap.Int64("tiles", result.TilesEmitted),
			zap.Duration("elapsed", result.Elapsed))
	},
}

// buildProfile picks the profile implementation: a Lua script, a YAML style
// file, or a no-op default.
func buildProfile(cfg *config.Config) (profile.Profile, func(), error) {
	switch {
	case cfg.ProfileScript != "":
		lp := profile.NewLuaProfile()
		if err := lp.LoadFile(cfg.ProfileScript); err != nil {
			lp.Close()
			return nil, nil, err
		}
		return lp, lp.Close, nil
	case cfg.StyleFile != "":
		style, err := config.LoadStyle(cfg.StyleFile)
		if err != nil {
			return nil, nil, err
		}
		return profile.NewRuleProfile(style), func() {}, nil
	default:
		return profile.Noop{}, func() {}, nil
	}
}

func init() {
	generateCmd.Flags().StringVarP(&cfg.OutputDir, "output", "o", cfg.OutputDir, "Tile output directory")
	generateCmd.Flags().IntVar(&cfg.MinZoom, "min-zoom", cfg.MinZoom, "Minimum zoom level")
	generateCmd.Flags().IntVar(&cfg.MaxZoom, "max-zoom", cfg.MaxZoom, "Maximum zoom level")
	generateCmd.Flags().StringVar(&cfg.ProfileScript, "profile", "", "Lua profile script for per-layer rules")
	generateCmd.Flags().StringVar(&cfg.StyleFile, "style", "", "YAML style file for per-layer rules")
	generateCmd.Flags().Int64Var(&cfg.ChunkMemoryBudgetBytes, "sort-memory", cfg.ChunkMemoryBudgetBytes, "Sort chunk memory budget in bytes")
	generateCmd.Flags().IntVar(&cfg.ChunkMaxEntries, "sort-entries", cfg.ChunkMaxEntries, "Sort chunk entry cap")
	generateCmd.Flags().StringVar(&cfg.TempDir, "temp-dir", cfg.TempDir, "Scratch directory for sort run files")
	generateCmd.Flags().IntVar(&cfg.SortParallelism, "sort-parallelism", cfg.SortParallelism, "Chunk sort parallelism")
	generateCmd.Flags().BoolVar(&cfg.SortMmap, "sort-mmap", false, "Read sort runs through mmap during merge")
	generateCmd.Flags().Float64Var(&cfg.BufferPixels, "buffer", cfg.BufferPixels, "Tile buffer in pixels (clip radius)")
	generateCmd.Flags().IntVar(&cfg.TileExtent, "extent", cfg.TileExtent, "Tile extent in pixels")
	generateCmd.Flags().StringVar(&cfg.ParquetStats, "tile-stats", "", "Write per-tile stats to this Parquet file")

	rootCmd.AddCommand(generateCmd)
}
