package geo

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/vtpipe/internal/vectortile"
)

func squareFeature(t *testing.T, attrs map[string]any, minX, minY, maxX, maxY float64) vectortile.Feature {
	t.Helper()
	geom, err := vectortile.EncodeGeometry(orb.Polygon{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}})
	require.NoError(t, err)
	return vectortile.Feature{Layer: "landcover", Geometry: geom, Attrs: attrs}
}

func TestMergeNearbySquaresIntoOne(t *testing.T) {
	attrs := map[string]any{"subclass": "wood"}
	features := []vectortile.Feature{
		squareFeature(t, attrs, 0, 0, 10, 10),
		squareFeature(t, attrs, 12, 0, 22, 10),
	}

	merged, err := MergePolygons(features, 10, 3, 2)
	require.NoError(t, err)
	require.Len(t, merged, 1)

	geom, err := merged[0].Geometry.Decode()
	require.NoError(t, err)
	poly, ok := geom.(orb.Polygon)
	require.True(t, ok, "two squares 2 apart with minDist=3 must fuse into one polygon, got %T", geom)

	b := poly.Bound()
	assert.InDelta(t, 0, b.Min[0], 0.1)
	assert.InDelta(t, 22, b.Max[0], 0.1)
	assert.InDelta(t, 0, b.Min[1], 0.1)
	assert.InDelta(t, 10, b.Max[1], 0.1)
}

func TestFarSquaresStaySeparate(t *testing.T) {
	attrs := map[string]any{"subclass": "wood"}
	features := []vectortile.Feature{
		squareFeature(t, attrs, 0, 0, 10, 10),
		squareFeature(t, attrs, 12, 0, 22, 10),
	}

	merged, err := MergePolygons(features, 10, 1, 2)
	require.NoError(t, err)
	require.Len(t, merged, 1)

	geom, err := merged[0].Geometry.Decode()
	require.NoError(t, err)
	mp, ok := geom.(orb.MultiPolygon)
	require.True(t, ok, "squares 2 apart with minDist=1 must stay separate, got %T", geom)
	assert.Len(t, mp, 2)
}

func TestMinAreaDropsSmallSingletons(t *testing.T) {
	attrs := map[string]any{"subclass": "grass"}
	features := []vectortile.Feature{
		squareFeature(t, attrs, 0, 0, 2, 2),     // area 4
		squareFeature(t, attrs, 100, 0, 110, 10), // area 100
	}

	merged, err := MergePolygons(features, 10, 1, 0)
	require.NoError(t, err)
	require.Len(t, merged, 1)

	geom, err := merged[0].Geometry.Decode()
	require.NoError(t, err)
	poly, ok := geom.(orb.Polygon)
	require.True(t, ok)
	assert.InDelta(t, 100, RingArea(poly[0]), 1)
}

func TestDifferentAttributesNeverMerge(t *testing.T) {
	features := []vectortile.Feature{
		squareFeature(t, map[string]any{"subclass": "wood"}, 0, 0, 10, 10),
		squareFeature(t, map[string]any{"subclass": "sand"}, 11, 0, 21, 10),
	}

	merged, err := MergePolygons(features, 0, 5, 2)
	require.NoError(t, err)
	assert.Len(t, merged, 2)
}

func TestTouchingChainMergesTransitively(t *testing.T) {
	// a-b within distance, b-c within distance, a-c not: all three must land
	// in one component
	attrs := map[string]any{"subclass": "wood"}
	features := []vectortile.Feature{
		squareFeature(t, attrs, 0, 0, 10, 10),
		squareFeature(t, attrs, 11, 0, 21, 10),
		squareFeature(t, attrs, 22, 0, 32, 10),
	}

	merged, err := MergePolygons(features, 0, 2, 1)
	require.NoError(t, err)
	require.Len(t, merged, 1)

	geom, err := merged[0].Geometry.Decode()
	require.NoError(t, err)
	poly, ok := geom.(orb.Polygon)
	require.True(t, ok, "chained squares must fuse, got %T", geom)
	assert.InDelta(t, 32, poly.Bound().Max[0], 0.1)
}

func TestPolygonPassThroughForOtherTypes(t *testing.T) {
	lineGeom, err := vectortile.EncodeGeometry(orb.LineString{{0, 0}, {1, 1}})
	require.NoError(t, err)
	features := []vectortile.Feature{
		{Layer: "landcover", Geometry: lineGeom, Attrs: map[string]any{"a": "b"}},
	}

	merged, err := MergePolygons(features, 10, 3, 2)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, vectortile.GeomLine, merged[0].Geometry.GeomType)
}

func TestIsWithinDistance(t *testing.T) {
	a := orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}
	b := orb.Polygon{{{12, 0}, {22, 0}, {22, 10}, {12, 10}, {12, 0}}}

	assert.True(t, IsWithinDistance(a, b, 3))
	assert.True(t, IsWithinDistance(a, b, 2))
	assert.False(t, IsWithinDistance(a, b, 1))

	// overlap and containment count as distance zero
	c := orb.Polygon{{{5, 5}, {15, 5}, {15, 15}, {5, 15}, {5, 5}}}
	assert.True(t, IsWithinDistance(a, c, 0.1))
	inner := orb.Polygon{{{2, 2}, {3, 2}, {3, 3}, {2, 3}, {2, 2}}}
	assert.True(t, IsWithinDistance(a, inner, 0.1))
}

func TestConnectedComponentsDeepChainIterative(t *testing.T) {
	// a path graph long enough to blow a recursive DFS
	n := 200000
	adjacency := make(map[int][]int, n)
	for i := 0; i < n-1; i++ {
		adjacency[i] = append(adjacency[i], i+1)
		adjacency[i+1] = append(adjacency[i+1], i)
	}
	groups := extractConnectedComponents(adjacency, n)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0], n)
}
