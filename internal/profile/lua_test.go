package profile

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/vtpipe/internal/vectortile"
)

func roadFeatures(t *testing.T) []vectortile.Feature {
	t.Helper()
	attrs := map[string]any{"class": "motorway"}
	var out []vectortile.Feature
	for _, pts := range [][]orb.Point{
		{{0, 0}, {1, 0}},
		{{1, 0}, {2, 0}},
	} {
		geom, err := vectortile.EncodeGeometry(orb.LineString(pts))
		require.NoError(t, err)
		out = append(out, vectortile.Feature{Layer: "road", Geometry: geom, Attrs: attrs})
	}
	return out
}

func TestLuaStaticLayerRules(t *testing.T) {
	p := NewLuaProfile()
	defer p.Close()
	require.NoError(t, p.LoadString(`
		vtpipe.layer{name = "road", merge_lines = {min_length = 0, tolerance = 0, clip = 0}}
	`))

	merged, err := p.PostProcessLayerFeatures("road", 10, roadFeatures(t))
	require.NoError(t, err)
	require.Len(t, merged, 1, "colinear segments must merge into one")

	unchanged, err := p.PostProcessLayerFeatures("water", 10, roadFeatures(t))
	require.NoError(t, err)
	assert.Nil(t, unchanged, "undeclared layer stays unchanged")
}

func TestLuaDynamicCallback(t *testing.T) {
	p := NewLuaProfile()
	defer p.Close()
	require.NoError(t, p.LoadString(`
		vtpipe.post_process_layer = function(layer, zoom)
			if layer == "road" and zoom < 12 then
				return {merge_lines = {min_length = 0, tolerance = 0, clip = 0}}
			end
		end
	`))

	merged, err := p.PostProcessLayerFeatures("road", 10, roadFeatures(t))
	require.NoError(t, err)
	assert.Len(t, merged, 1)

	unchanged, err := p.PostProcessLayerFeatures("road", 14, roadFeatures(t))
	require.NoError(t, err)
	assert.Nil(t, unchanged, "callback returning nil means unchanged")
}

func TestLuaLayerRequiresName(t *testing.T) {
	p := NewLuaProfile()
	defer p.Close()
	assert.Error(t, p.LoadString(`vtpipe.layer{merge_lines = {}}`))
}
