package vectortile

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// GeomType tags the geometry kind carried by a VectorGeometry.
type GeomType byte

const (
	GeomUnknown GeomType = 0
	GeomPoint   GeomType = 1
	GeomLine    GeomType = 2
	GeomPolygon GeomType = 3
)

// String returns the lowercase type name
func (t GeomType) String() string {
	switch t {
	case GeomPoint:
		return "point"
	case GeomLine:
		return "line"
	case GeomPolygon:
		return "polygon"
	default:
		return "unknown"
	}
}

// Mapbox Vector Tile geometry command ids.
const (
	cmdMoveTo    = 1
	cmdLineTo    = 2
	cmdClosePath = 7
)

// Scale is the fixed-point precision of encoded coordinates: tile pixel
// coordinates are stored in 1/16ths so a 256px tile spans the usual 4096
// extent. Encoding rounds to this grid.
const Scale = 16.0

// VectorGeometry is a geometry encoded as a Mapbox Vector Tile command
// stream. The same format is used on the wire in finished tiles and in
// intermediate feature storage, so decode(encode(g)) must reproduce g up to
// 1/16 pixel.
type VectorGeometry struct {
	Commands []uint32
	GeomType GeomType
}

func zigzagEncode(n int32) uint32 {
	return uint32((n << 1) ^ (n >> 31))
}

func zigzagDecode(v uint32) int32 {
	return int32(v>>1) ^ -int32(v&1)
}

func command(id, count int) uint32 {
	return uint32(id&0x7) | uint32(count)<<3
}

type cursor struct {
	commands []uint32
	x, y     int32
}

func (c *cursor) moveTo(points ...orb.Point) {
	c.commands = append(c.commands, command(cmdMoveTo, len(points)))
	c.push(points)
}

func (c *cursor) lineTo(points []orb.Point) {
	c.commands = append(c.commands, command(cmdLineTo, len(points)))
	c.push(points)
}

func (c *cursor) closePath() {
	c.commands = append(c.commands, command(cmdClosePath, 1))
}

func (c *cursor) push(points []orb.Point) {
	for _, p := range points {
		x := int32(math.Round(p[0] * Scale))
		y := int32(math.Round(p[1] * Scale))
		c.commands = append(c.commands, zigzagEncode(x-c.x), zigzagEncode(y-c.y))
		c.x, c.y = x, y
	}
}

// EncodeGeometry converts an orb geometry into a command stream. Supported
// inputs are points, multipoints, line strings, multiline strings, polygons
// and multipolygons; anything else reports an error.
func EncodeGeometry(geom orb.Geometry) (VectorGeometry, error) {
	c := &cursor{}
	switch g := geom.(type) {
	case orb.Point:
		c.moveTo(g)
		return VectorGeometry{Commands: c.commands, GeomType: GeomPoint}, nil
	case orb.MultiPoint:
		c.moveTo(g...)
		return VectorGeometry{Commands: c.commands, GeomType: GeomPoint}, nil
	case orb.LineString:
		if err := c.encodeLine(g); err != nil {
			return VectorGeometry{}, err
		}
		return VectorGeometry{Commands: c.commands, GeomType: GeomLine}, nil
	case orb.MultiLineString:
		for _, line := range g {
			if err := c.encodeLine(line); err != nil {
				return VectorGeometry{}, err
			}
		}
		return VectorGeometry{Commands: c.commands, GeomType: GeomLine}, nil
	case orb.Ring:
		return EncodeGeometry(orb.Polygon{g})
	case orb.Polygon:
		if err := c.encodePolygon(g); err != nil {
			return VectorGeometry{}, err
		}
		return VectorGeometry{Commands: c.commands, GeomType: GeomPolygon}, nil
	case orb.MultiPolygon:
		for _, poly := range g {
			if err := c.encodePolygon(poly); err != nil {
				return VectorGeometry{}, err
			}
		}
		return VectorGeometry{Commands: c.commands, GeomType: GeomPolygon}, nil
	default:
		return VectorGeometry{}, fmt.Errorf("unsupported geometry type %T", geom)
	}
}

func (c *cursor) encodeLine(line orb.LineString) error {
	if len(line) < 2 {
		return fmt.Errorf("line string needs at least 2 points, got %d", len(line))
	}
	c.moveTo(line[0])
	c.lineTo([]orb.Point(line[1:]))
	return nil
}

func (c *cursor) encodePolygon(poly orb.Polygon) error {
	for i, ring := range poly {
		if len(ring) < 4 {
			return fmt.Errorf("polygon ring %d needs at least 4 points, got %d", i, len(ring))
		}
		// first ring is the exterior and must wind positive, interior rings
		// negative; the decoder relies on winding to group rings into polygons
		wantPositive := i == 0
		pts := []orb.Point(ring)
		if (ringSignedArea(ring) > 0) != wantPositive {
			pts = reversePoints(pts)
		}
		// the closing point is implied by ClosePath
		c.moveTo(pts[0])
		c.lineTo(pts[1 : len(pts)-1])
		c.closePath()
	}
	return nil
}

func reversePoints(pts []orb.Point) []orb.Point {
	out := make([]orb.Point, len(pts))
	for i, p := range pts {
		out[len(pts)-1-i] = p
	}
	return out
}

func ringSignedArea(ring orb.Ring) float64 {
	sum := 0.0
	for i := 0; i < len(ring)-1; i++ {
		sum += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return sum / 2
}

// Decode converts the command stream back into an orb geometry. Line
// geometries with one path decode to a LineString, several paths to a
// MultiLineString; polygons group rings by winding: a positive ring starts a
// new polygon, negative rings are holes of the preceding one.
func (g VectorGeometry) Decode() (orb.Geometry, error) {
	var paths [][]orb.Point
	var current []orb.Point
	var closed []bool

	x, y := int32(0), int32(0)
	i := 0
	cmds := g.Commands
	for i < len(cmds) {
		cmd := cmds[i] & 0x7
		count := int(cmds[i] >> 3)
		i++
		switch cmd {
		case cmdMoveTo:
			for n := 0; n < count; n++ {
				if i+1 >= len(cmds) {
					return nil, fmt.Errorf("truncated MoveTo at command %d", i)
				}
				x += zigzagDecode(cmds[i])
				y += zigzagDecode(cmds[i+1])
				i += 2
				if current != nil {
					paths = append(paths, current)
					closed = append(closed, false)
				}
				current = []orb.Point{{float64(x) / Scale, float64(y) / Scale}}
			}
		case cmdLineTo:
			if current == nil {
				return nil, fmt.Errorf("LineTo before MoveTo at command %d", i-1)
			}
			for n := 0; n < count; n++ {
				if i+1 >= len(cmds) {
					return nil, fmt.Errorf("truncated LineTo at command %d", i)
				}
				x += zigzagDecode(cmds[i])
				y += zigzagDecode(cmds[i+1])
				i += 2
				current = append(current, orb.Point{float64(x) / Scale, float64(y) / Scale})
			}
		case cmdClosePath:
			if current == nil {
				return nil, fmt.Errorf("ClosePath before MoveTo at command %d", i-1)
			}
			paths = append(paths, current)
			closed = append(closed, true)
			current = nil
		default:
			return nil, fmt.Errorf("unknown geometry command %d", cmd)
		}
	}
	if current != nil {
		paths = append(paths, current)
		closed = append(closed, false)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("empty geometry")
	}

	switch g.GeomType {
	case GeomPoint:
		if len(paths) == 1 && len(paths[0]) == 1 {
			return paths[0][0], nil
		}
		var mp orb.MultiPoint
		for _, p := range paths {
			mp = append(mp, p...)
		}
		return mp, nil
	case GeomLine:
		if len(paths) == 1 {
			return orb.LineString(paths[0]), nil
		}
		ml := make(orb.MultiLineString, 0, len(paths))
		for _, p := range paths {
			ml = append(ml, orb.LineString(p))
		}
		return ml, nil
	case GeomPolygon:
		return assemblePolygons(paths, closed)
	default:
		return nil, fmt.Errorf("cannot decode geometry of type %d", g.GeomType)
	}
}

func assemblePolygons(paths [][]orb.Point, closed []bool) (orb.Geometry, error) {
	var polys orb.MultiPolygon
	for i, path := range paths {
		if !closed[i] {
			return nil, fmt.Errorf("polygon ring %d not closed", i)
		}
		ring := orb.Ring(append(path, path[0]))
		if ringSignedArea(ring) > 0 || len(polys) == 0 {
			polys = append(polys, orb.Polygon{ring})
		} else {
			polys[len(polys)-1] = append(polys[len(polys)-1], ring)
		}
	}
	if len(polys) == 1 {
		return polys[0], nil
	}
	return polys, nil
}
