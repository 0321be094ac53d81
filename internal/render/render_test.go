package render

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/vtpipe/internal/feature"
	"github.com/wegman-software/vtpipe/internal/vectortile"
)

func collect(t *testing.T, r *Renderer, src Source) []feature.RenderedFeature {
	t.Helper()
	var out []feature.RenderedFeature
	require.NoError(t, r.Render(src, func(f feature.RenderedFeature) error {
		out = append(out, f)
		return nil
	}))
	return out
}

func TestRenderPointLandsInOneTilePerZoom(t *testing.T) {
	r := New(0, 4, 256, 0)
	got := collect(t, r, Source{
		ID:    1,
		Layer: "place",
		Geom:  orb.Point{7.4246, 43.7384}, // Monaco
		Attrs: map[string]any{"name": "Monaco"},
	})

	require.Len(t, got, 5, "one tile per zoom 0..4")
	zooms := map[int]bool{}
	for _, f := range got {
		zooms[f.Tile.Z] = true
		assert.Equal(t, vectortile.GeomPoint, f.Feature.Geometry.GeomType)
		assert.True(t, f.Tile.Valid())
	}
	assert.Len(t, zooms, 5)
}

func TestRenderPointPixelPosition(t *testing.T) {
	r := New(0, 0, 256, 0)
	got := collect(t, r, Source{ID: 1, Layer: "p", Geom: orb.Point{0, 0}})
	require.Len(t, got, 1)

	geom, err := got[0].Feature.Geometry.Decode()
	require.NoError(t, err)
	p := geom.(orb.Point)
	assert.InDelta(t, 128, p[0], 0.1, "lon 0 is mid-tile at z0")
	assert.InDelta(t, 128, p[1], 0.1, "lat 0 is mid-tile at z0")
}

func TestRenderLineSpansMultipleTiles(t *testing.T) {
	r := New(2, 2, 256, 4)
	got := collect(t, r, Source{
		ID:      7,
		Layer:   "road",
		Geom:    orb.LineString{{-60, 0}, {60, 0}},
		Attrs:   map[string]any{"class": "trunk"},
		MinZoom: 2,
		MaxZoom: 2,
	})

	require.NotEmpty(t, got)
	tiles := map[uint32]bool{}
	for _, f := range got {
		tiles[f.Tile.Encode()] = true
		assert.Equal(t, 2, f.Tile.Z)
		assert.Equal(t, vectortile.GeomLine, f.Feature.Geometry.GeomType)
	}
	assert.GreaterOrEqual(t, len(tiles), 2, "a third of the equator crosses tiles at z2")
}

func TestRenderSkipsTilesOutsideGeometry(t *testing.T) {
	r := New(3, 3, 256, 4)
	got := collect(t, r, Source{
		ID:      9,
		Layer:   "building",
		Geom:    orb.Polygon{{{20, 20}, {21, 20}, {21, 21}, {20, 21}, {20, 20}}},
		MinZoom: 3,
		MaxZoom: 3,
	})
	require.Len(t, got, 1, "a tiny polygon touches exactly one z3 tile")
	assert.Equal(t, vectortile.GeomPolygon, got[0].Feature.Geometry.GeomType)
}
