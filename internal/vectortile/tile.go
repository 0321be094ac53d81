package vectortile

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
)

// DefaultExtent is the Mapbox Vector Tile integer extent emitted on the wire.
const DefaultExtent = 4096

// Tile accumulates finished layers for one tile and marshals them to the
// Mapbox Vector Tile wire format.
type Tile struct {
	layers []layer
}

type layer struct {
	name     string
	features []Feature
}

// AddLayerFeatures appends a finished layer. Layers keep the order they were
// added in; an empty feature list is dropped.
func (t *Tile) AddLayerFeatures(name string, features []Feature) {
	if len(features) == 0 {
		return
	}
	t.layers = append(t.layers, layer{name: name, features: features})
}

// NumFeatures returns the total feature count across layers.
func (t *Tile) NumFeatures() int {
	n := 0
	for _, l := range t.layers {
		n += len(l.features)
	}
	return n
}

// NumLayers returns the number of layers added so far.
func (t *Tile) NumLayers() int {
	return len(t.layers)
}

// MarshalGzipped encodes all layers as a gzipped Mapbox Vector Tile.
// Geometries are scaled from tile pixel space (0..extentPixels) to the wire
// extent.
func (t *Tile) MarshalGzipped(extentPixels int) ([]byte, error) {
	scale := float64(DefaultExtent) / float64(extentPixels)
	layers := make(mvt.Layers, 0, len(t.layers))
	for _, l := range t.layers {
		out := &mvt.Layer{
			Name:     l.name,
			Version:  2,
			Extent:   DefaultExtent,
			Features: make([]*geojson.Feature, 0, len(l.features)),
		}
		for _, f := range l.features {
			geom, err := f.Geometry.Decode()
			if err != nil {
				return nil, fmt.Errorf("decoding feature %d in layer %s: %w", f.ID, l.name, err)
			}
			gf := geojson.NewFeature(scaleGeometry(geom, scale))
			gf.ID = float64(f.ID)
			gf.Properties = geojson.Properties(f.Attrs)
			out.Features = append(out.Features, gf)
		}
		layers = append(layers, out)
	}
	data, err := mvt.MarshalGzipped(layers)
	if err != nil {
		return nil, fmt.Errorf("marshalling tile: %w", err)
	}
	return data, nil
}

func scaleGeometry(geom orb.Geometry, scale float64) orb.Geometry {
	if scale == 1 {
		return geom
	}
	switch g := geom.(type) {
	case orb.Point:
		return orb.Point{g[0] * scale, g[1] * scale}
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(g))
		for i, p := range g {
			out[i] = orb.Point{p[0] * scale, p[1] * scale}
		}
		return out
	case orb.LineString:
		out := make(orb.LineString, len(g))
		for i, p := range g {
			out[i] = orb.Point{p[0] * scale, p[1] * scale}
		}
		return out
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(g))
		for i, line := range g {
			out[i] = scaleGeometry(line, scale).(orb.LineString)
		}
		return out
	case orb.Ring:
		out := make(orb.Ring, len(g))
		for i, p := range g {
			out[i] = orb.Point{p[0] * scale, p[1] * scale}
		}
		return out
	case orb.Polygon:
		out := make(orb.Polygon, len(g))
		for i, ring := range g {
			out[i] = scaleGeometry(ring, scale).(orb.Ring)
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(g))
		for i, poly := range g {
			out[i] = scaleGeometry(poly, scale).(orb.Polygon)
		}
		return out
	default:
		return geom
	}
}
