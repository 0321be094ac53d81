package render

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"

	"github.com/wegman-software/vtpipe/internal/feature"
	"github.com/wegman-software/vtpipe/internal/tile"
	"github.com/wegman-software/vtpipe/internal/vectortile"
)

// Source is one input geometry in lon/lat with the layer and attributes the
// profile assigned to it.
type Source struct {
	ID     int64
	Layer  string
	Geom   orb.Geometry
	Attrs  map[string]any
	ZOrder int
	Group  *feature.GroupInfo

	MinZoom int
	MaxZoom int
}

// Renderer projects source geometries into the pixel space of every tile
// they touch across a zoom range and hands the resulting rendered features
// to a consumer (typically a feature group encoder).
type Renderer struct {
	minZoom int
	maxZoom int
	extent  float64
	buffer  float64
}

// New creates a renderer for the zoom range with the given tile extent and
// buffer, both in pixels.
func New(minZoom, maxZoom int, extent int, bufferPixels float64) *Renderer {
	return &Renderer{
		minZoom: minZoom,
		maxZoom: maxZoom,
		extent:  float64(extent),
		buffer:  bufferPixels,
	}
}

// mercator projects lon/lat into the unit square [0,1)² of the Web Mercator
// world, y growing south.
func mercator(p orb.Point) orb.Point {
	x := (p[0] + 180) / 360
	sin := math.Sin(p[1] * math.Pi / 180)
	y := 0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)
	return orb.Point{x, y}
}

func projectGeometry(g orb.Geometry) orb.Geometry {
	switch t := g.(type) {
	case orb.Point:
		return mercator(t)
	case orb.LineString:
		out := make(orb.LineString, len(t))
		for i, p := range t {
			out[i] = mercator(p)
		}
		return out
	case orb.Ring:
		out := make(orb.Ring, len(t))
		for i, p := range t {
			out[i] = mercator(p)
		}
		return out
	case orb.Polygon:
		out := make(orb.Polygon, len(t))
		for i, r := range t {
			out[i] = projectGeometry(r).(orb.Ring)
		}
		return out
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(t))
		for i, l := range t {
			out[i] = projectGeometry(l).(orb.LineString)
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(t))
		for i, p := range t {
			out[i] = projectGeometry(p).(orb.Polygon)
		}
		return out
	default:
		return nil
	}
}

// Render slices one source feature into rendered per-tile features and
// passes each to emit. Within a zoom, a tile whose geometry commands equal
// those of the previous emitted tile reuses that tile's vectortile.Feature
// pointer, so downstream encoding can memoize identical value bytes; other
// tiles get a new Feature.
func (r *Renderer) Render(src Source, emit func(feature.RenderedFeature) error) error {
	world := projectGeometry(src.Geom)
	if world == nil {
		return fmt.Errorf("unsupported source geometry %T", src.Geom)
	}

	minZoom := max(src.MinZoom, r.minZoom)
	maxZoom := min(src.MaxZoom, r.maxZoom)
	if maxZoom == 0 && src.MaxZoom == 0 {
		maxZoom = r.maxZoom
	}

	for z := minZoom; z <= maxZoom; z++ {
		if err := r.renderZoom(src, world, z, emit); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) renderZoom(src Source, world orb.Geometry, z int, emit func(feature.RenderedFeature) error) error {
	n := float64(int(1) << uint(z))
	bound := world.Bound()
	pad := r.buffer / r.extent / n

	minX := int(math.Floor((bound.Min[0] - pad) * n))
	maxX := int(math.Floor((bound.Max[0] + pad) * n))
	minY := int(math.Floor((bound.Min[1] - pad) * n))
	maxY := int(math.Floor((bound.Max[1] + pad) * n))
	limit := int(n) - 1
	minX = clampInt(minX, 0, limit)
	maxX = clampInt(maxX, 0, limit)
	minY = clampInt(minY, 0, limit)
	maxY = clampInt(maxY, 0, limit)

	var shared *vectortile.Feature
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			coord := tile.Coord{Z: z, X: x, Y: y}
			pixels := r.toTilePixels(world, coord, n)
			clipped := r.clipToTile(pixels)
			if clipped == nil {
				continue
			}
			geom, err := vectortile.EncodeGeometry(clipped)
			if err != nil {
				// collapsed below pixel resolution in this tile
				continue
			}

			// geometry differs per tile, so memoization only helps when a
			// filled tile repeats the identical full-cover geometry
			vf := &vectortile.Feature{
				ID:       src.ID,
				Layer:    src.Layer,
				Geometry: geom,
				Attrs:    src.Attrs,
			}
			if shared != nil && sameCommands(shared.Geometry, geom) {
				vf = shared
			} else {
				shared = vf
			}

			if err := emit(feature.RenderedFeature{
				Tile:    coord,
				Feature: vf,
				ZOrder:  src.ZOrder,
				Group:   src.Group,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// toTilePixels rescales world coordinates into the pixel space of one tile.
func (r *Renderer) toTilePixels(world orb.Geometry, coord tile.Coord, n float64) orb.Geometry {
	ox := float64(coord.X) / n
	oy := float64(coord.Y) / n
	scale := n * r.extent
	transform := func(p orb.Point) orb.Point {
		return orb.Point{(p[0] - ox) * scale, (p[1] - oy) * scale}
	}
	return mapPoints(world, transform)
}

func (r *Renderer) clipToTile(geom orb.Geometry) orb.Geometry {
	b := orb.Bound{
		Min: orb.Point{-r.buffer, -r.buffer},
		Max: orb.Point{r.extent + r.buffer, r.extent + r.buffer},
	}
	clipped := clip.Geometry(b, geom)
	if clipped == nil {
		return nil
	}
	switch g := clipped.(type) {
	case orb.LineString:
		if len(g) < 2 {
			return nil
		}
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) < 4 {
			return nil
		}
	case orb.MultiLineString:
		if len(g) == 0 {
			return nil
		}
	case orb.MultiPolygon:
		if len(g) == 0 {
			return nil
		}
	}
	return clipped
}

func mapPoints(g orb.Geometry, f func(orb.Point) orb.Point) orb.Geometry {
	switch t := g.(type) {
	case orb.Point:
		return f(t)
	case orb.LineString:
		out := make(orb.LineString, len(t))
		for i, p := range t {
			out[i] = f(p)
		}
		return out
	case orb.Ring:
		out := make(orb.Ring, len(t))
		for i, p := range t {
			out[i] = f(p)
		}
		return out
	case orb.Polygon:
		out := make(orb.Polygon, len(t))
		for i, r := range t {
			out[i] = mapPoints(r, f).(orb.Ring)
		}
		return out
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(t))
		for i, l := range t {
			out[i] = mapPoints(l, f).(orb.LineString)
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(t))
		for i, p := range t {
			out[i] = mapPoints(p, f).(orb.Polygon)
		}
		return out
	default:
		return nil
	}
}

func sameCommands(a, b vectortile.VectorGeometry) bool {
	if a.GeomType != b.GeomType || len(a.Commands) != len(b.Commands) {
		return false
	}
	for i := range a.Commands {
		if a.Commands[i] != b.Commands[i] {
			return false
		}
	}
	return true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
