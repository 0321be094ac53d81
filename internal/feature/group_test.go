package feature

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/vtpipe/internal/tile"
	"github.com/wegman-software/vtpipe/internal/vectortile"
)

func pointFeature(t *testing.T, layer string, id int64) *vectortile.Feature {
	t.Helper()
	geom, err := vectortile.EncodeGeometry(orb.Point{128, 128})
	require.NoError(t, err)
	return &vectortile.Feature{Layer: layer, ID: id, Geometry: geom, Attrs: map[string]any{"rank": id}}
}

func collectTiles(t *testing.T, g *Group) []*TileFeatures {
	t.Helper()
	it, err := g.Iterator(context.Background())
	require.NoError(t, err)
	var out []*TileFeatures
	for {
		tf, err := it.Next()
		require.NoError(t, err)
		if tf == nil {
			return out
		}
		out = append(out, tf)
	}
}

func TestGroupLimitDropsExcessFeatures(t *testing.T) {
	g := NewGroup(&nullSorter{}, noopProfile{}, nullStats{})
	enc := g.NewEncoder()

	coord := tile.Coord{Z: 10, X: 5, Y: 5}
	for i := 0; i < 4; i++ {
		entry, err := enc.Encode(RenderedFeature{
			Tile:    coord,
			Feature: pointFeature(t, "place", int64(i)),
			ZOrder:  5,
			Group:   &GroupInfo{ID: 7, Limit: 2},
		})
		require.NoError(t, err)
		require.NoError(t, g.Accept(entry))
	}

	tiles := collectTiles(t, g)
	require.Len(t, tiles, 1)
	assert.EqualValues(t, 4, tiles[0].NumFeaturesProcessed())
	assert.EqualValues(t, 2, tiles[0].NumFeaturesToEmit())
}

func TestGroupLimitZeroMeansUnlimited(t *testing.T) {
	g := NewGroup(&nullSorter{}, noopProfile{}, nullStats{})
	enc := g.NewEncoder()

	coord := tile.Coord{Z: 10, X: 5, Y: 5}
	for i := 0; i < 10; i++ {
		entry, err := enc.Encode(RenderedFeature{
			Tile:    coord,
			Feature: pointFeature(t, "place", int64(i)),
			ZOrder:  0,
			Group:   &GroupInfo{ID: 1, Limit: 0},
		})
		require.NoError(t, err)
		require.NoError(t, g.Accept(entry))
	}

	tiles := collectTiles(t, g)
	require.Len(t, tiles, 1)
	assert.EqualValues(t, 10, tiles[0].NumFeaturesToEmit())
}

func TestGroupCountersResetOnLayerChange(t *testing.T) {
	g := NewGroup(&nullSorter{}, noopProfile{}, nullStats{})
	enc := g.NewEncoder()

	coord := tile.Coord{Z: 10, X: 5, Y: 5}
	for _, layer := range []string{"city", "town"} {
		for i := 0; i < 3; i++ {
			entry, err := enc.Encode(RenderedFeature{
				Tile:    coord,
				Feature: pointFeature(t, layer, int64(i)),
				ZOrder:  0,
				Group:   &GroupInfo{ID: 42, Limit: 2},
			})
			require.NoError(t, err)
			require.NoError(t, g.Accept(entry))
		}
	}

	tiles := collectTiles(t, g)
	require.Len(t, tiles, 1)
	// the limit applies per layer: 2 from each
	assert.EqualValues(t, 4, tiles[0].NumFeaturesToEmit())
	assert.EqualValues(t, 6, tiles[0].NumFeaturesProcessed())
}

func TestTilesIterateInAscendingOrder(t *testing.T) {
	g := NewGroup(&nullSorter{}, noopProfile{}, nullStats{})
	enc := g.NewEncoder()

	coords := []tile.Coord{
		{Z: 5, X: 10, Y: 10},
		{Z: 3, X: 1, Y: 2},
		{Z: 5, X: 9, Y: 10},
		{Z: 1, X: 0, Y: 0},
	}
	for i, c := range coords {
		entry, err := enc.Encode(RenderedFeature{Tile: c, Feature: pointFeature(t, "place", int64(i)), ZOrder: 0})
		require.NoError(t, err)
		require.NoError(t, g.Accept(entry))
	}

	tiles := collectTiles(t, g)
	require.Len(t, tiles, len(coords))
	last := int64(-1)
	for _, tf := range tiles {
		id := int64(tf.TileCoord().Encode())
		assert.Greater(t, id, last)
		last = id
	}
	assert.EqualValues(t, len(coords), g.NumFeaturesWritten())
}

func TestHasSameContents(t *testing.T) {
	g := NewGroup(&nullSorter{}, noopProfile{}, nullStats{})
	enc := g.NewEncoder()

	// identical point feature rendered into two different tiles
	ocean := pointFeature(t, "water", 1)
	for _, c := range []tile.Coord{{Z: 4, X: 0, Y: 0}, {Z: 4, X: 7, Y: 3}} {
		entry, err := enc.Encode(RenderedFeature{Tile: c, Feature: ocean, ZOrder: 0})
		require.NoError(t, err)
		require.NoError(t, g.Accept(entry))
	}

	tiles := collectTiles(t, g)
	require.Len(t, tiles, 2)
	assert.NotEqual(t, tiles[0].TileCoord(), tiles[1].TileCoord())
	assert.True(t, tiles[0].HasSameContents(tiles[1]))
	assert.True(t, tiles[1].HasSameContents(tiles[0]), "symmetric")
	assert.True(t, tiles[0].HasSameContents(tiles[0]), "reflexive")
	assert.False(t, tiles[0].HasSameContents(nil))
}

func TestCorruptGroupPreambleFailsIteration(t *testing.T) {
	g := NewGroup(&nullSorter{}, noopProfile{}, nullStats{})

	// hasGroup bit set but no preamble bytes to read
	coord := tile.Coord{Z: 10, X: 5, Y: 5}
	entry := SortableFeature{
		SortKey: EncodeSortKey(coord.Encode(), 1, 0, true),
		Value:   nil,
	}
	require.NoError(t, g.Accept(entry))

	it, err := g.Iterator(context.Background())
	require.NoError(t, err)

	_, err = it.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt group preamble")

	// the iterator stays failed
	_, err = it.Next()
	assert.Error(t, err)
}

func TestPrepareIdempotent(t *testing.T) {
	g := NewGroup(&nullSorter{}, noopProfile{}, nullStats{})
	ctx := context.Background()
	require.NoError(t, g.Prepare(ctx))
	require.NoError(t, g.Prepare(ctx))
}

// recordingProfile notes the layers and feature ids in the order the tile
// hands them to post-processing, and leaves the features unchanged.
type recordingProfile struct {
	layers []string
	ids    [][]int64
}

func (p *recordingProfile) PostProcessLayerFeatures(layer string, _ int, features []vectortile.Feature) ([]vectortile.Feature, error) {
	ids := make([]int64, 0, len(features))
	for _, f := range features {
		ids = append(ids, f.ID)
	}
	p.layers = append(p.layers, layer)
	p.ids = append(p.ids, ids)
	return nil, nil
}

func TestGetVectorTileEncoderWalksLayersInDrawOrder(t *testing.T) {
	prof := &recordingProfile{}
	g := NewGroup(&nullSorter{}, prof, nullStats{})
	enc := g.NewEncoder()

	coord := tile.Coord{Z: 10, X: 5, Y: 5}
	// two layers, several z-orders each
	for _, f := range []struct {
		layer  string
		id     int64
		zOrder int
	}{
		{"road", 1, 10},
		{"road", 2, -3},
		{"water", 3, 0},
	} {
		entry, err := enc.Encode(RenderedFeature{
			Tile:    coord,
			Feature: pointFeature(t, f.layer, f.id),
			ZOrder:  f.zOrder,
		})
		require.NoError(t, err)
		require.NoError(t, g.Accept(entry))
	}

	tiles := collectTiles(t, g)
	require.Len(t, tiles, 1)
	encoded, err := tiles[0].GetVectorTileEncoder()
	require.NoError(t, err)
	assert.Equal(t, 2, encoded.NumLayers())
	assert.Equal(t, 3, encoded.NumFeatures())
	// road was encoded first so it sorts first; the backwards walk hands
	// over water, then road bottom-most first (z-order -3 before 10)
	assert.Equal(t, []string{"water", "road"}, prof.layers)
	assert.Equal(t, [][]int64{{3}, {2, 1}}, prof.ids)
}

func TestLayerStatsTally(t *testing.T) {
	g := NewGroup(&nullSorter{}, noopProfile{}, nullStats{})
	enc := g.NewEncoder()

	for z := 3; z <= 6; z++ {
		entry, err := enc.Encode(RenderedFeature{
			Tile:    tile.Coord{Z: z, X: 0, Y: 0},
			Feature: pointFeature(t, "place", 1),
			ZOrder:  0,
		})
		require.NoError(t, err)
		require.NoError(t, g.Accept(entry))
	}

	summaries := g.LayerStats().Summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, "place", summaries[0].Name)
	assert.Equal(t, 3, summaries[0].MinZoom)
	assert.Equal(t, 6, summaries[0].MaxZoom)
	assert.EqualValues(t, 4, summaries[0].NumFeatures)
}
