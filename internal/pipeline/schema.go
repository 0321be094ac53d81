package pipeline

import (
	"github.com/wegman-software/vtpipe/internal/feature"
	"github.com/wegman-software/vtpipe/internal/render"
	"github.com/wegman-software/vtpipe/internal/source"
)

// classify maps tagged OSM geometries onto output layers. This small
// built-in schema assigns layers on every run; the profile script only
// tunes per-layer post-processing and does not change layer assignment.
func classify(g source.Geometry, maxZoom int) []render.Source {
	var out []render.Source

	add := func(layer string, attrs map[string]any, zOrder, minZoom int, group *feature.GroupInfo) {
		out = append(out, render.Source{
			ID:      g.ID,
			Layer:   layer,
			Geom:    g.Geom,
			Attrs:   attrs,
			ZOrder:  zOrder,
			Group:   group,
			MinZoom: minZoom,
			MaxZoom: maxZoom,
		})
	}

	if highway, ok := g.Tags["highway"]; ok {
		add("road", map[string]any{"class": highway}, roadZOrder(highway), 5, nil)
	}
	if g.Tags["natural"] == "water" || g.Tags["waterway"] == "riverbank" || g.Tags["water"] != "" {
		add("water", map[string]any{"class": "lake"}, 0, 0, nil)
	}
	if natural, ok := g.Tags["natural"]; ok && natural != "water" && natural != "coastline" {
		add("landcover", map[string]any{"subclass": natural}, 0, 7, nil)
	}
	if landuse, ok := g.Tags["landuse"]; ok {
		add("landcover", map[string]any{"subclass": landuse}, 0, 7, nil)
	}
	if _, ok := g.Tags["building"]; ok {
		add("building", map[string]any{}, 0, 13, nil)
	}
	if place, ok := g.Tags["place"]; ok {
		rank := placeRank(place)
		add("place", map[string]any{
			"class": place,
			"name":  g.Tags["name"],
		}, -rank, 3,
			// cap how many labels of one kind land in a tile
			&feature.GroupInfo{ID: int64(rank), Limit: 8})
	}
	return out
}

func roadZOrder(highway string) int {
	switch highway {
	case "motorway":
		return 400
	case "trunk":
		return 380
	case "primary":
		return 360
	case "secondary":
		return 340
	case "tertiary":
		return 320
	case "residential", "unclassified":
		return 300
	case "service":
		return 280
	default:
		return 200
	}
}

func placeRank(place string) int {
	switch place {
	case "city":
		return 1
	case "town":
		return 2
	case "village":
		return 3
	case "hamlet":
		return 4
	default:
		return 5
	}
}
