package feature

import (
	"github.com/wegman-software/vtpipe/internal/tile"
	"github.com/wegman-software/vtpipe/internal/vectortile"
)

// GroupInfo clusters related features (e.g. points for the same place across
// zooms) so tile assembly can cap how many of them land in one tile layer.
// Limit 0 means unlimited.
type GroupInfo struct {
	ID    int64
	Limit int32
}

// RenderedFeature is one feature rendered into the pixel space of a single
// tile, ready to be serialized into intermediate storage.
type RenderedFeature struct {
	Tile    tile.Coord
	Feature *vectortile.Feature
	ZOrder  int
	Group   *GroupInfo // nil when the feature carries no grouping
}
