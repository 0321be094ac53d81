package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/vtpipe/internal/config"
	"github.com/wegman-software/vtpipe/internal/logger"
)

// PostgresSink archives finished tiles into a PostgreSQL table, batching
// inserts so the tile consumer is not stalled per row.
type PostgresSink struct {
	pool    *pgxpool.Pool
	schema  string
	pending [][]any
	written int64
}

const pgBatchSize = 500

// NewPostgresSink connects and prepares the tiles table.
func NewPostgresSink(ctx context.Context, cfg *config.Config) (*PostgresSink, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &PostgresSink{pool: pool, schema: cfg.DBSchema}
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", s.schema)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.tiles (
		zoom_level integer NOT NULL,
		tile_column integer NOT NULL,
		tile_row integer NOT NULL,
		tile_data bytea NOT NULL,
		PRIMARY KEY (zoom_level, tile_column, tile_row)
	)`, s.schema)
	if _, err := pool.Exec(ctx, create); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating tiles table: %w", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s.tiles", s.schema)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("truncating tiles table: %w", err)
	}
	return s, nil
}

func (s *PostgresSink) Write(ctx context.Context, t EncodedTile) error {
	s.pending = append(s.pending, []any{t.Coord.Z, t.Coord.X, t.Coord.Y, t.Data})
	if len(s.pending) >= pgBatchSize {
		return s.flush(ctx)
	}
	return nil
}

func (s *PostgresSink) flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{s.schema, "tiles"},
		[]string{"zoom_level", "tile_column", "tile_row", "tile_data"},
		pgx.CopyFromRows(s.pending),
	)
	if err != nil {
		return fmt.Errorf("copying tiles to database: %w", err)
	}
	s.written += n
	s.pending = s.pending[:0]
	return nil
}

func (s *PostgresSink) Close(ctx context.Context) error {
	err := s.flush(ctx)
	s.pool.Close()
	if err == nil {
		logger.Get().Info("Archived tiles to database", zap.Int64("tiles", s.written))
	}
	return err
}
