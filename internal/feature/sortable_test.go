package feature

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/vtpipe/internal/stringtable"
	"github.com/wegman-software/vtpipe/internal/tile"
	"github.com/wegman-software/vtpipe/internal/vectortile"
)

func TestSortKeyRoundTrip(t *testing.T) {
	cases := []struct {
		tileID   uint32
		layer    byte
		zOrder   int
		hasGroup bool
	}{
		{0, 1, 0, false},
		{1, 250, 5, true},
		{1 << 30, 7, ZOrderMax, false},
		{42, 3, ZOrderMin, true},
		{123456, 99, -17, false},
	}
	for _, c := range cases {
		key := EncodeSortKey(c.tileID, c.layer, c.zOrder, c.hasGroup)
		assert.Equal(t, c.tileID, TileFromSortKey(key))
		assert.Equal(t, c.layer, LayerFromSortKey(key))
		assert.Equal(t, c.zOrder, ZOrderFromSortKey(key))
		assert.Equal(t, c.hasGroup, HasGroupFromSortKey(key))
	}
}

func TestSortKeyOrdering(t *testing.T) {
	// tile is the primary dimension
	assert.Less(t,
		EncodeSortKey(1, 200, ZOrderMin, true),
		EncodeSortKey(2, 1, ZOrderMax, false))

	// layer ascends within a tile
	assert.Less(t,
		EncodeSortKey(5, 1, ZOrderMin, true),
		EncodeSortKey(5, 2, ZOrderMax, false))

	// higher z-order sorts earlier within a tile and layer (drawn last after
	// the reverse walk)
	assert.Less(t,
		EncodeSortKey(5, 1, 10, false),
		EncodeSortKey(5, 1, 9, false))

	// grouped comes right after ungrouped at the same z-order
	assert.Less(t,
		EncodeSortKey(5, 1, 10, false),
		EncodeSortKey(5, 1, 10, true))
}

func testFeature(t *testing.T) *vectortile.Feature {
	t.Helper()
	geom, err := vectortile.EncodeGeometry(orb.LineString{{0, 0}, {10, 5}, {20, 0}})
	require.NoError(t, err)
	return &vectortile.Feature{
		Layer:    "road",
		ID:       1234,
		Geometry: geom,
		Attrs: map[string]any{
			"class":  "motorway",
			"lanes":  int64(4),
			"bridge": true,
			"width":  2.5,
			"note":   nil, // dropped at encode time
		},
	}
}

func TestValueCodecRoundTrip(t *testing.T) {
	layers := stringtable.NewEncoder("layer")
	attrKeys := stringtable.NewEncoder("attribute key")
	layerID, err := layers.Encode("road")
	require.NoError(t, err)

	f := testFeature(t)
	var p packer
	value, err := encodeValue(f, nil, attrKeys, &p)
	require.NoError(t, err)

	entry := SortableFeature{
		SortKey: EncodeSortKey(77, layerID, 5, false),
		Value:   value,
	}
	decoded, err := decodeValue(entry, layers, attrKeys)
	require.NoError(t, err)

	assert.Equal(t, "road", decoded.Layer)
	assert.Equal(t, int64(1234), decoded.ID)
	assert.Equal(t, f.Geometry, decoded.Geometry)
	assert.Equal(t, vectortile.NoGroup, decoded.Group)
	assert.Equal(t, map[string]any{
		"class":  "motorway",
		"lanes":  int64(4),
		"bridge": true,
		"width":  2.5,
	}, decoded.Attrs, "nil attribute dropped, others round-trip")
}

func TestValueCodecGroupPreamble(t *testing.T) {
	layers := stringtable.NewEncoder("layer")
	attrKeys := stringtable.NewEncoder("attribute key")
	layerID, err := layers.Encode("poi")
	require.NoError(t, err)

	f := testFeature(t)
	var p packer
	value, err := encodeValue(f, &GroupInfo{ID: -99, Limit: 3}, attrKeys, &p)
	require.NoError(t, err)

	info, err := peekGroupInfo(value)
	require.NoError(t, err)
	assert.Equal(t, GroupInfo{ID: -99, Limit: 3}, info)

	entry := SortableFeature{SortKey: EncodeSortKey(1, layerID, 0, true), Value: value}
	decoded, err := decodeValue(entry, layers, attrKeys)
	require.NoError(t, err)
	assert.Equal(t, int64(-99), decoded.Group)
	assert.Equal(t, int64(1234), decoded.ID)
}

func TestIdenticalAttrsProduceIdenticalBytes(t *testing.T) {
	attrKeys := stringtable.NewEncoder("attribute key")
	f1 := testFeature(t)
	f2 := testFeature(t)

	var p packer
	v1, err := encodeValue(f1, nil, attrKeys, &p)
	require.NoError(t, err)
	v2, err := encodeValue(f2, nil, attrKeys, &p)
	require.NoError(t, err)
	assert.Equal(t, v1, v2, "map iteration order must not leak into the encoding")
}

func TestEncoderMemoizesIdenticalGeometry(t *testing.T) {
	g := NewGroup(&nullSorter{}, noopProfile{}, nullStats{})
	enc := g.NewEncoder()

	f := testFeature(t)
	a, err := enc.Encode(RenderedFeature{Tile: tile.Coord{Z: 3, X: 1, Y: 1}, Feature: f, ZOrder: 0})
	require.NoError(t, err)
	b, err := enc.Encode(RenderedFeature{Tile: tile.Coord{Z: 3, X: 1, Y: 2}, Feature: f, ZOrder: 0})
	require.NoError(t, err)

	assert.Same(t, &a.Value[0], &b.Value[0], "same feature object must reuse the encoded value bytes")

	other := testFeature(t)
	c, err := enc.Encode(RenderedFeature{Tile: tile.Coord{Z: 3, X: 1, Y: 3}, Feature: other, ZOrder: 0})
	require.NoError(t, err)
	assert.NotSame(t, &a.Value[0], &c.Value[0])
	assert.Equal(t, a.Value, c.Value, "bytes still identical for identical content")
}

func TestEncoderRejectsOutOfRangeZOrder(t *testing.T) {
	g := NewGroup(&nullSorter{}, noopProfile{}, nullStats{})
	enc := g.NewEncoder()
	_, err := enc.Encode(RenderedFeature{
		Tile:    tile.Coord{Z: 0, X: 0, Y: 0},
		Feature: testFeature(t),
		ZOrder:  ZOrderMax + 1,
	})
	assert.Error(t, err)
}
