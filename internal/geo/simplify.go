package geo

import (
	"github.com/paulmach/orb"
)

// Simplify returns a copy of geom simplified with the Douglas-Peucker
// algorithm, without any attempt to repair geometries that become invalid.
// Polygon rings keep at least two interior points so they cannot collapse
// here; the caller's area filter removes degenerate polygons more
// accurately. Rings that still end up with fewer than 4 points are dropped,
// and dropping a polygon's exterior ring drops the polygon.
func Simplify(geom orb.Geometry, tolerance float64) orb.Geometry {
	sq := tolerance * tolerance
	switch g := geom.(type) {
	case orb.Point, orb.MultiPoint:
		return orb.Clone(g)
	case orb.LineString:
		return simplifyLine(g, sq)
	case orb.MultiLineString:
		out := make(orb.MultiLineString, 0, len(g))
		for _, line := range g {
			out = append(out, simplifyLine(line, sq))
		}
		return out
	case orb.Ring:
		return simplifyRing(g, sq)
	case orb.Polygon:
		if poly, ok := simplifyPolygon(g, sq); ok {
			return poly
		}
		return nil
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(g))
		for _, poly := range g {
			if p, ok := simplifyPolygon(poly, sq); ok {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, 0, len(g))
		for _, member := range g {
			if s := Simplify(member, tolerance); s != nil {
				out = append(out, s)
			}
		}
		return out
	default:
		return geom
	}
}

func simplifyLine(line orb.LineString, sqTolerance float64) orb.LineString {
	return orb.LineString(simplifyPoints(line, sqTolerance, 0))
}

func simplifyRing(ring orb.Ring, sqTolerance float64) orb.Ring {
	// keep at least 2 interior points even below tolerance to avoid collapse
	return orb.Ring(simplifyPoints(ring, sqTolerance, 2))
}

func simplifyPolygon(poly orb.Polygon, sqTolerance float64) (orb.Polygon, bool) {
	out := make(orb.Polygon, 0, len(poly))
	for i, ring := range poly {
		simplified := simplifyRing(ring, sqTolerance)
		if len(simplified) < 4 {
			if i == 0 {
				return nil, false
			}
			continue
		}
		out = append(out, simplified)
	}
	return out, true
}

// sqSegDist returns the squared distance from (px, py) to the segment from
// (x1, y1) to (x2, y2), falling back to point distance when the segment is
// degenerate.
func sqSegDist(px, py, x1, y1, x2, y2 float64) float64 {
	x, y := x1, y1
	dx, dy := x2-x, y2-y

	if dx != 0 || dy != 0 {
		t := ((px-x)*dx + (py-y)*dy) / (dx*dx + dy*dy)
		if t > 1 {
			x, y = x2, y2
		} else if t > 0 {
			x += dx * t
			y += dy * t
		}
	}

	dx, dy = px-x, py-y
	return dx*dx + dy*dy
}

// simplifyPoints runs the anchored Douglas-Peucker recursion over pts with
// an explicit work stack; degenerate landcover inputs produce recursion
// thousands deep, so the call stack is off limits. Endpoints are always
// kept. numForcedPoints keeps at least that many interior points even when
// every candidate is below tolerance, splitting on the farthest one.
func simplifyPoints(pts []orb.Point, sqTolerance float64, numForcedPoints int) []orb.Point {
	if len(pts) == 0 {
		return nil
	}
	out := make([]orb.Point, 0, len(pts))
	out = append(out, pts[0])
	if len(pts) > 1 {
		subsimplify(pts, &out, 0, len(pts)-1, numForcedPoints, sqTolerance)
		out = append(out, pts[len(pts)-1])
	}
	return out
}

type dpFrame struct {
	first, last, forced int
	// emit frames append in[emit] instead of recursing
	emit int
}

func subsimplify(in []orb.Point, out *[]orb.Point, first, last, numForcedPoints int, sqTolerance float64) {
	// frames are processed in sequence order so points are emitted left to
	// right, exactly like the recursive version
	stack := make([]dpFrame, 0, 32)
	stack = append(stack, dpFrame{first: first, last: last, forced: numForcedPoints, emit: -1})

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if frame.emit >= 0 {
			*out = append(*out, in[frame.emit])
			continue
		}

		// when points are being forced, even the farthest-but-below-tolerance
		// interior point splits the range
		maxSqDist := sqTolerance
		if frame.forced > 0 {
			maxSqDist = -1
		}
		index := -1
		x1, y1 := in[frame.first][0], in[frame.first][1]
		x2, y2 := in[frame.last][0], in[frame.last][1]

		for i := frame.first + 1; i < frame.last; i++ {
			if d := sqSegDist(in[i][0], in[i][1], x1, y1, x2, y2); d > maxSqDist {
				index = i
				maxSqDist = d
			}
		}

		if index < 0 {
			continue
		}

		// push in reverse so the left half pops first, then the split point,
		// then the right half
		if frame.last-index > 1 {
			stack = append(stack, dpFrame{first: index, last: frame.last, forced: frame.forced - 2, emit: -1})
		}
		stack = append(stack, dpFrame{emit: index})
		if index-frame.first > 1 {
			stack = append(stack, dpFrame{first: frame.first, last: index, forced: frame.forced - 1, emit: -1})
		}
	}
}
