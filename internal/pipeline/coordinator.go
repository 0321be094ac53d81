package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/vtpipe/internal/config"
	"github.com/wegman-software/vtpipe/internal/extsort"
	"github.com/wegman-software/vtpipe/internal/feature"
	"github.com/wegman-software/vtpipe/internal/geo"
	"github.com/wegman-software/vtpipe/internal/logger"
	"github.com/wegman-software/vtpipe/internal/metrics"
	"github.com/wegman-software/vtpipe/internal/profile"
	"github.com/wegman-software/vtpipe/internal/render"
	"github.com/wegman-software/vtpipe/internal/sink"
	"github.com/wegman-software/vtpipe/internal/source"
	"github.com/wegman-software/vtpipe/internal/stats"
)

// GenerateStats summarizes one pipeline run.
type GenerateStats struct {
	FeaturesWritten int64
	TilesEmitted    int64
	TilesDeduped    int64
	SortDiskBytes   int64
	Elapsed         time.Duration
}

// Coordinator wires the full tile generation pipeline: a producer pool
// rendering input geometries into per-tile features, the feature group
// buffering and sorting them, and a consumer assembling, post-processing
// and sinking each tile. Producer back-pressure comes from the sorter's
// bounded in-memory chunk.
type Coordinator struct {
	cfg   *config.Config
	prof  profile.Profile
	st    stats.Stats
	group *feature.Group
	sinks sink.Sink
	stat  *sink.ParquetStatsWriter
}

// NewCoordinator builds the pipeline from configuration. The caller owns
// ctx; sinks that need connections use it during setup.
func NewCoordinator(ctx context.Context, cfg *config.Config, prof profile.Profile, st stats.Stats) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	geo.TileExtent = float64(cfg.TileExtent)

	sorter, err := extsort.New(cfg.TempDir, extsort.Options{
		ChunkBytes:   cfg.ChunkMemoryBudgetBytes,
		ChunkEntries: cfg.ChunkMaxEntries,
		Parallelism:  cfg.SortParallelism,
		Mmap:         cfg.SortMmap,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sorter: %w", err)
	}

	c := &Coordinator{
		cfg:   cfg,
		prof:  prof,
		st:    st,
		group: feature.NewGroup(sorter, prof, st),
	}

	dirSink, err := sink.NewDirSink(cfg.OutputDir)
	if err != nil {
		c.group.Close()
		return nil, err
	}
	sinks := sink.MultiSink{dirSink}
	if cfg.DBEnabled {
		pg, err := sink.NewPostgresSink(ctx, cfg)
		if err != nil {
			c.group.Close()
			return nil, fmt.Errorf("failed to create database sink: %w", err)
		}
		sinks = append(sinks, pg)
	}
	c.sinks = sinks

	if cfg.ParquetStats != "" {
		w, err := sink.NewParquetStatsWriter(cfg.ParquetStats, 0)
		if err != nil {
			c.group.Close()
			return nil, fmt.Errorf("failed to create stats writer: %w", err)
		}
		c.stat = w
	}
	return c, nil
}

// Close releases the sorter scratch space and open sinks.
func (c *Coordinator) Close() error {
	err := c.group.Close()
	if c.sinks != nil {
		if cerr := c.sinks.Close(context.Background()); err == nil {
			err = cerr
		}
	}
	return err
}

// Run executes the pipeline: ingest, sort, emit.
func (c *Coordinator) Run(ctx context.Context) (*GenerateStats, error) {
	log := logger.Get()
	start := time.Now()
	out := &GenerateStats{}

	if c.cfg.MetricsInterval > 0 {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()
		collector := metrics.NewCollector(c.cfg.MetricsInterval, log)
		go collector.Start(metricsCtx)
		log.Info("System metrics collection started",
			zap.Duration("interval", c.cfg.MetricsInterval))
	}

	c.st.Gauge("sort_disk_bytes", func() float64 { return float64(c.group.DiskUsageBytes()) })

	if err := c.ingest(ctx); err != nil {
		return nil, fmt.Errorf("ingest failed: %w", err)
	}
	out.FeaturesWritten = c.group.NumFeaturesWritten()
	out.SortDiskBytes = c.group.DiskUsageBytes()

	emitted, deduped, err := c.emit(ctx)
	if err != nil {
		return nil, fmt.Errorf("tile emission failed: %w", err)
	}
	out.TilesEmitted = emitted
	out.TilesDeduped = deduped
	out.Elapsed = time.Since(start)

	log.Info("Pipeline finished",
		zap.Int64("features", out.FeaturesWritten),
		zap.Int64("tiles", out.TilesEmitted),
		zap.Int64("deduped", out.TilesDeduped),
		zap.String("sort_disk", FormatBytes(out.SortDiskBytes)),
		zap.Duration("elapsed", out.Elapsed))
	return out, nil
}

// ingest reads the input, renders features through a worker pool, and feeds
// the sorter from a single accepting goroutine.
func (c *Coordinator) ingest(ctx context.Context) error {
	finish := c.st.StartStage("ingest")
	defer finish()

	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	go NewProgressTracker("ingest").report(progressCtx, 10*time.Second, c.group.NumFeaturesWritten)

	renderer := render.New(c.cfg.MinZoom, c.cfg.MaxZoom, c.cfg.TileExtent, c.cfg.BufferPixels)
	reader := source.NewPBFReader(c.cfg.InputFile)

	geoms := make(chan source.Geometry, 10000)
	rendered := make(chan feature.SortableFeature, 50000)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(geoms)
		return reader.Read(gctx, func(geom source.Geometry) error {
			select {
			case geoms <- geom:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	// producer pool: render and serialize in parallel, each worker with its
	// own encoder so value memoization stays single-threaded
	workers := &errgroup.Group{}
	for i := 0; i < c.cfg.Workers; i++ {
		enc := c.group.NewEncoder()
		workers.Go(func() error {
			for geom := range geoms {
				for _, src := range classify(geom, c.cfg.MaxZoom) {
					err := renderer.Render(src, func(rf feature.RenderedFeature) error {
						entry, err := enc.Encode(rf)
						if err != nil {
							return err
						}
						select {
						case rendered <- entry:
							return nil
						case <-gctx.Done():
							return gctx.Err()
						}
					})
					if err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(rendered)
		return workers.Wait()
	})

	// single writer into the sorter
	g.Go(func() error {
		for entry := range rendered {
			if err := c.group.Accept(entry); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// emit iterates tiles in ascending id order, post-processes and encodes
// each, reusing the previous tile's bytes when the contents are identical.
func (c *Coordinator) emit(ctx context.Context) (emitted, deduped int64, err error) {
	finish := c.st.StartStage("emit")
	defer finish()

	it, err := c.group.Iterator(ctx)
	if err != nil {
		return 0, 0, err
	}

	var lastTile *feature.TileFeatures
	var lastBytes []byte
	for {
		tf, err := it.Next()
		if err != nil {
			return emitted, deduped, err
		}
		if tf == nil {
			break
		}

		var data []byte
		dedup := false
		if lastTile != nil && tf.HasSameContents(lastTile) {
			data = lastBytes
			dedup = true
			deduped++
		} else {
			encoder, err := tf.GetVectorTileEncoder()
			if err != nil {
				return emitted, deduped, err
			}
			data, err = encoder.MarshalGzipped(c.cfg.TileExtent)
			if err != nil {
				return emitted, deduped, fmt.Errorf("encoding tile %v: %w", tf.TileCoord(), err)
			}
		}
		lastTile = tf
		lastBytes = data

		coord := tf.TileCoord()
		if err := c.sinks.Write(ctx, sink.EncodedTile{Coord: coord, Data: data}); err != nil {
			return emitted, deduped, err
		}
		c.st.WroteTile(coord.Z, len(data))
		emitted++

		if c.stat != nil {
			if err := c.stat.Write(sink.TileStat{
				Zoom:        coord.Z,
				X:           coord.X,
				Y:           coord.Y,
				NumFeatures: tf.NumFeaturesToEmit(),
				Bytes:       int64(len(data)),
				Dedup:       dedup,
			}); err != nil {
				return emitted, deduped, fmt.Errorf("writing tile stats: %w", err)
			}
		}
	}

	if c.stat != nil {
		if err := c.stat.Close(ctx); err != nil {
			return emitted, deduped, err
		}
	}
	return emitted, deduped, nil
}
