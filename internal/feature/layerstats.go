package feature

import (
	"sort"
	"sync"

	"github.com/wegman-software/vtpipe/internal/vectortile"
)

// LayerStats tallies what was written to each layer: the zoom range and the
// geometry types seen. Group.LayerStats exposes the tally.
type LayerStats struct {
	mu     sync.Mutex
	layers map[string]*LayerSummary
}

// LayerSummary describes one layer seen during ingest.
type LayerSummary struct {
	Name        string
	MinZoom     int
	MaxZoom     int
	NumFeatures int64
	GeomTypes   map[vectortile.GeomType]int64
}

// NewLayerStats returns an empty tally.
func NewLayerStats() *LayerStats {
	return &LayerStats{layers: make(map[string]*LayerSummary)}
}

func (s *LayerStats) accept(f RenderedFeature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layers[f.Feature.Layer]
	if !ok {
		l = &LayerSummary{
			Name:      f.Feature.Layer,
			MinZoom:   f.Tile.Z,
			MaxZoom:   f.Tile.Z,
			GeomTypes: make(map[vectortile.GeomType]int64),
		}
		s.layers[f.Feature.Layer] = l
	}
	if f.Tile.Z < l.MinZoom {
		l.MinZoom = f.Tile.Z
	}
	if f.Tile.Z > l.MaxZoom {
		l.MaxZoom = f.Tile.Z
	}
	l.NumFeatures++
	l.GeomTypes[f.Feature.Geometry.GeomType]++
}

// Summaries returns one summary per layer, sorted by name.
func (s *LayerStats) Summaries() []LayerSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LayerSummary, 0, len(s.layers))
	for _, l := range s.layers {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
