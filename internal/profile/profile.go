package profile

import (
	"github.com/wegman-software/vtpipe/internal/config"
	"github.com/wegman-software/vtpipe/internal/geo"
	"github.com/wegman-software/vtpipe/internal/vectortile"
)

// Profile is the per-layer hook the core pipeline calls while assembling
// each tile. PostProcessLayerFeatures receives the layer's features in draw
// order (bottom-most first) and returns the post-processed list, nil to
// mean "unchanged", or a geo.Error when the geometry work failed; any other
// error is treated as fatal for the tile.
type Profile interface {
	PostProcessLayerFeatures(layer string, zoom int, features []vectortile.Feature) ([]vectortile.Feature, error)
}

// Noop is a profile that leaves every layer unchanged.
type Noop struct{}

func (Noop) PostProcessLayerFeatures(string, int, []vectortile.Feature) ([]vectortile.Feature, error) {
	return nil, nil
}

// RuleProfile runs the declarative per-layer merge rules of a style file.
type RuleProfile struct {
	style *config.Style
}

// NewRuleProfile wraps a loaded style.
func NewRuleProfile(style *config.Style) *RuleProfile {
	return &RuleProfile{style: style}
}

func (p *RuleProfile) PostProcessLayerFeatures(layer string, zoom int, features []vectortile.Feature) ([]vectortile.Feature, error) {
	rules := p.style.Layer(layer)
	if rules == nil {
		return nil, nil
	}
	return applyRules(rules.MergeLines, rules.MergePolygons, features)
}

func applyRules(lines *config.MergeLinesRule, polygons *config.MergePolygonsRule,
	features []vectortile.Feature) ([]vectortile.Feature, error) {
	out := features
	changed := false
	if lines != nil {
		merged, err := geo.MergeLineStrings(out, lines.MinLength, lines.Tolerance, lines.Clip)
		if err != nil {
			return nil, err
		}
		out = merged
		changed = true
	}
	if polygons != nil {
		merged, err := geo.MergePolygons(out, polygons.MinArea, polygons.MinDist, polygons.Buffer)
		if err != nil {
			return nil, err
		}
		out = merged
		changed = true
	}
	if !changed {
		return nil, nil
	}
	return out, nil
}
