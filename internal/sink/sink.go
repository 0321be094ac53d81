package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wegman-software/vtpipe/internal/tile"
)

// EncodedTile is one finished tile ready to store.
type EncodedTile struct {
	Coord tile.Coord
	Data  []byte // gzipped Mapbox Vector Tile
}

// Sink stores finished tiles. Write is called from a single consumer
// goroutine in ascending tile order.
type Sink interface {
	Write(ctx context.Context, t EncodedTile) error
	Close(ctx context.Context) error
}

// DirSink writes tiles into a directory hierarchy as z/x/y.mvt.
type DirSink struct {
	root string
}

// NewDirSink creates the root directory if needed.
func NewDirSink(root string) (*DirSink, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating tile output directory: %w", err)
	}
	return &DirSink{root: root}, nil
}

func (s *DirSink) Write(_ context.Context, t EncodedTile) error {
	dir := filepath.Join(s.root, fmt.Sprintf("%d/%d", t.Coord.Z, t.Coord.X))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.mvt", t.Coord.Y))
	if err := os.WriteFile(path, t.Data, 0644); err != nil {
		return fmt.Errorf("writing tile %v: %w", t.Coord, err)
	}
	return nil
}

func (s *DirSink) Close(context.Context) error { return nil }

// MultiSink fans every tile out to several sinks.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, t EncodedTile) error {
	for _, s := range m {
		if err := s.Write(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close(ctx context.Context) error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
