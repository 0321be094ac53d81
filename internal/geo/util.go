package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// snapGrid is the fixed-point grid polygon repair snaps to, matching the
// 1/16 pixel precision of encoded tile geometry.
const snapGrid = 16.0

// RingArea returns the absolute area enclosed by a ring.
func RingArea(ring orb.Ring) float64 {
	return math.Abs(ringSignedArea(ring))
}

func ringSignedArea(ring orb.Ring) float64 {
	sum := 0.0
	for i := 0; i < len(ring)-1; i++ {
		sum += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return sum / 2
}

// ExteriorRingArea returns the area of a polygon's exterior ring, ignoring
// holes. This is the area filter polygon merging applies.
func ExteriorRingArea(geom orb.Geometry) float64 {
	switch g := geom.(type) {
	case orb.Polygon:
		if len(g) == 0 {
			return 0
		}
		return RingArea(g[0])
	case orb.MultiPolygon:
		total := 0.0
		for _, poly := range g {
			if len(poly) > 0 {
				total += RingArea(poly[0])
			}
		}
		return total
	default:
		return 0
	}
}

// CombineLineStrings merges line strings into the simplest geometry holding
// them all: the line itself for one input, a MultiLineString otherwise.
func CombineLineStrings(lines []orb.LineString) orb.Geometry {
	if len(lines) == 1 {
		return lines[0]
	}
	out := make(orb.MultiLineString, len(lines))
	copy(out, lines)
	return out
}

// CombinePolygons merges polygons into the simplest geometry holding them
// all.
func CombinePolygons(polys []orb.Polygon) orb.Geometry {
	if len(polys) == 1 {
		return polys[0]
	}
	out := make(orb.MultiPolygon, len(polys))
	copy(out, polys)
	return out
}

// Length returns the Euclidean length of a line geometry.
func Length(geom orb.Geometry) float64 {
	switch g := geom.(type) {
	case orb.LineString:
		total := 0.0
		for i := 0; i < len(g)-1; i++ {
			total += planar.Distance(g[i], g[i+1])
		}
		return total
	case orb.MultiLineString:
		total := 0.0
		for _, line := range g {
			total += Length(line)
		}
		return total
	default:
		return 0
	}
}

// boundExpandedBy grows a bound by d on all sides.
func boundExpandedBy(b orb.Bound, d float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.Min[0] - d, b.Min[1] - d},
		Max: orb.Point{b.Max[0] + d, b.Max[1] + d},
	}
}

func boundsIntersect(a, b orb.Bound) bool {
	return a.Min[0] <= b.Max[0] && b.Min[0] <= a.Max[0] &&
		a.Min[1] <= b.Max[1] && b.Min[1] <= a.Max[1]
}

// IsWithinDistance reports whether two polygonal geometries come within d of
// each other: overlapping or touching counts, as does one containing the
// other.
func IsWithinDistance(a, b orb.Geometry, d float64) bool {
	if !boundsIntersect(boundExpandedBy(a.Bound(), d), b.Bound()) {
		return false
	}
	ringsA := collectRings(a)
	ringsB := collectRings(b)
	if len(ringsA) == 0 || len(ringsB) == 0 {
		return false
	}

	// containment: either boundary inside the other means distance 0
	if polygonContains(a, ringsB[0][0]) || polygonContains(b, ringsA[0][0]) {
		return true
	}

	dd := d * d
	for _, ra := range ringsA {
		for _, rb := range ringsB {
			if ringsWithinSqDist(ra, rb, dd) {
				return true
			}
		}
	}
	return false
}

func ringsWithinSqDist(a, b orb.Ring, dd float64) bool {
	for i := 0; i < len(a)-1; i++ {
		for j := 0; j < len(b)-1; j++ {
			if segmentsWithinSqDist(a[i], a[i+1], b[j], b[j+1], dd) {
				return true
			}
		}
	}
	return false
}

func segmentsWithinSqDist(a1, a2, b1, b2 orb.Point, dd float64) bool {
	if segmentsIntersect(a1, a2, b1, b2) {
		return true
	}
	// for non-crossing segments the minimum distance is at an endpoint
	return planar.DistanceFromSegmentSquared(a1, a2, b1) <= dd ||
		planar.DistanceFromSegmentSquared(a1, a2, b2) <= dd ||
		planar.DistanceFromSegmentSquared(b1, b2, a1) <= dd ||
		planar.DistanceFromSegmentSquared(b1, b2, a2) <= dd
}

func segmentsIntersect(a1, a2, b1, b2 orb.Point) bool {
	d1 := cross(b1, b2, a1)
	d2 := cross(b1, b2, a2)
	d3 := cross(a1, a2, b1)
	d4 := cross(a1, a2, b2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(b1, b2, a1)) ||
		(d2 == 0 && onSegment(b1, b2, a2)) ||
		(d3 == 0 && onSegment(a1, a2, b1)) ||
		(d4 == 0 && onSegment(a1, a2, b2))
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func onSegment(p, q, r orb.Point) bool {
	return math.Min(p[0], q[0]) <= r[0] && r[0] <= math.Max(p[0], q[0]) &&
		math.Min(p[1], q[1]) <= r[1] && r[1] <= math.Max(p[1], q[1])
}

func collectRings(geom orb.Geometry) []orb.Ring {
	switch g := geom.(type) {
	case orb.Ring:
		return []orb.Ring{g}
	case orb.Polygon:
		return []orb.Ring(g)
	case orb.MultiPolygon:
		var rings []orb.Ring
		for _, poly := range g {
			rings = append(rings, poly...)
		}
		return rings
	case orb.Collection:
		var rings []orb.Ring
		for _, member := range g {
			rings = append(rings, collectRings(member)...)
		}
		return rings
	default:
		return nil
	}
}

func polygonContains(geom orb.Geometry, p orb.Point) bool {
	switch g := geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	default:
		return false
	}
}

// SnapAndFixPolygon snaps coordinates to the 1/16 pixel grid, drops
// degenerate rings, and restores canonical winding (exterior positive,
// holes negative). It repairs the orientation damage buffering can leave
// behind; it is not a general validity fixer.
func SnapAndFixPolygon(geom orb.Geometry) orb.Geometry {
	switch g := geom.(type) {
	case orb.Polygon:
		if fixed, ok := snapPolygon(g); ok {
			return fixed
		}
		return nil
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(g))
		for _, poly := range g {
			if fixed, ok := snapPolygon(poly); ok {
				out = append(out, fixed)
			}
		}
		if len(out) == 0 {
			return nil
		}
		if len(out) == 1 {
			return out[0]
		}
		return out
	default:
		return geom
	}
}

func snapPolygon(poly orb.Polygon) (orb.Polygon, bool) {
	out := make(orb.Polygon, 0, len(poly))
	for i, ring := range poly {
		snapped := snapRing(ring)
		if len(snapped) < 4 || RingArea(snapped) == 0 {
			if i == 0 {
				return nil, false
			}
			continue
		}
		wantPositive := i == 0
		if (ringSignedArea(snapped) > 0) != wantPositive {
			reverseRing(snapped)
		}
		out = append(out, snapped)
	}
	return out, true
}

func snapRing(ring orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(ring))
	for _, p := range ring {
		q := orb.Point{
			math.Round(p[0]*snapGrid) / snapGrid,
			math.Round(p[1]*snapGrid) / snapGrid,
		}
		if len(out) > 0 && out[len(out)-1] == q {
			continue
		}
		out = append(out, q)
	}
	// re-close after dropping duplicates
	if len(out) > 1 && out[0] != out[len(out)-1] {
		out = append(out, out[0])
	}
	return out
}

func reverseRing(ring orb.Ring) {
	for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
		ring[i], ring[j] = ring[j], ring[i]
	}
}
