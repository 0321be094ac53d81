package geo

import (
	"math"
	"sort"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// BufferUnion offsets every polygon in geometries by d with mitre joins and
// unions the results. A positive d dilates, a negative d erodes; rings that
// collapse under erosion are dropped. Returns nil when nothing survives.
//
// Offsetting happens per ring with mitre corners so rectangular landcover
// keeps its corners through a closing; the union step then dissolves any
// overlap between the dilated shapes.
func BufferUnion(geometries []orb.Geometry, d float64) orb.Geometry {
	var offset []orb.Polygon
	for _, g := range geometries {
		for _, poly := range asPolygons(g) {
			if buffered, ok := offsetPolygon(poly, d); ok {
				offset = append(offset, buffered)
			}
		}
	}
	if len(offset) == 0 {
		return nil
	}
	return unionPolygons(offset)
}

func asPolygons(geom orb.Geometry) []orb.Polygon {
	switch g := geom.(type) {
	case orb.Polygon:
		return []orb.Polygon{g}
	case orb.MultiPolygon:
		return []orb.Polygon(g)
	case orb.Collection:
		var out []orb.Polygon
		for _, member := range g {
			out = append(out, asPolygons(member)...)
		}
		return out
	default:
		return nil
	}
}

// offsetPolygon moves the exterior ring outward and holes inward by d
// (inward for negative d). A hole that collapses is dropped; a collapsed
// exterior drops the polygon.
func offsetPolygon(poly orb.Polygon, d float64) (orb.Polygon, bool) {
	out := make(orb.Polygon, 0, len(poly))
	for i, ring := range poly {
		// exterior rings grow with positive d, holes shrink
		dist := d
		if i > 0 {
			dist = -d
		}
		shifted, ok := offsetRing(ring, dist)
		if !ok {
			if i == 0 {
				return nil, false
			}
			continue
		}
		out = append(out, shifted)
	}
	return out, true
}

// offsetRing offsets a ring by dist: positive moves outward (away from the
// enclosed area), negative inward. Corners are mitred: each output vertex is
// the intersection of the two adjacent offset edges.
func offsetRing(ring orb.Ring, dist float64) (orb.Ring, bool) {
	if len(ring) < 4 {
		return nil, false
	}
	// orient counter-clockwise so "outward" is a fixed normal direction
	pts := make([]orb.Point, len(ring)-1)
	copy(pts, ring[:len(ring)-1])
	if ringSignedArea(ring) < 0 {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}
	n := len(pts)
	out := make(orb.Ring, 0, n+1)
	for i := 0; i < n; i++ {
		prev := pts[(i-1+n)%n]
		cur := pts[i]
		next := pts[(i+1)%n]

		// offset the two edges meeting at cur and intersect them
		p1, p2 := offsetEdge(prev, cur, dist)
		q1, q2 := offsetEdge(cur, next, dist)
		corner, ok := lineIntersection(p1, p2, q1, q2)
		if !ok {
			// parallel edges: both offsets agree at the shared endpoint
			corner = p2
		}
		out = append(out, corner)
	}
	out = append(out, out[0])

	// erosion past the ring's width flips its orientation; treat that as a
	// collapse
	if ringSignedArea(out) <= 0 {
		return nil, false
	}
	return out, true
}

// offsetEdge shifts segment a-b by dist along its outward normal (right-hand
// side of travel for a counter-clockwise ring).
func offsetEdge(a, b orb.Point, dist float64) (orb.Point, orb.Point) {
	dx, dy := b[0]-a[0], b[1]-a[1]
	length := math.Hypot(dx, dy)
	if length == 0 {
		return a, b
	}
	nx, ny := dy/length*dist, -dx/length*dist
	return orb.Point{a[0] + nx, a[1] + ny}, orb.Point{b[0] + nx, b[1] + ny}
}

// lineIntersection intersects the infinite lines through p1-p2 and q1-q2.
func lineIntersection(p1, p2, q1, q2 orb.Point) (orb.Point, bool) {
	d1x, d1y := p2[0]-p1[0], p2[1]-p1[1]
	d2x, d2y := q2[0]-q1[0], q2[1]-q1[1]
	denom := d1x*d2y - d1y*d2x
	if math.Abs(denom) < 1e-12 {
		return orb.Point{}, false
	}
	t := ((q1[0]-p1[0])*d2y - (q1[1]-p1[1])*d2x) / denom
	return orb.Point{p1[0] + t*d1x, p1[1] + t*d1y}, true
}

// unionPolygons dissolves a set of polygons into one geometry using
// polygon-clipping boolean union.
func unionPolygons(polys []orb.Polygon) orb.Geometry {
	if len(polys) == 1 {
		return polys[0]
	}
	acc := toClipPolygon(polys[0])
	for _, poly := range polys[1:] {
		acc = acc.Construct(polyclip.UNION, toClipPolygon(poly))
	}
	return fromClipPolygon(acc)
}

func toClipPolygon(poly orb.Polygon) polyclip.Polygon {
	out := make(polyclip.Polygon, 0, len(poly))
	for _, ring := range poly {
		contour := make(polyclip.Contour, 0, len(ring)-1)
		for _, p := range ring[:len(ring)-1] {
			contour = append(contour, polyclip.Point{X: p[0], Y: p[1]})
		}
		out = append(out, contour)
	}
	return out
}

// fromClipPolygon rebuilds orb polygons from clipper output, nesting each
// contour as a hole when an odd number of other contours contain it.
func fromClipPolygon(p polyclip.Polygon) orb.Geometry {
	if len(p) == 0 {
		return nil
	}
	rings := make([]orb.Ring, 0, len(p))
	for _, contour := range p {
		if len(contour) < 3 {
			continue
		}
		ring := make(orb.Ring, 0, len(contour)+1)
		for _, pt := range contour {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		ring = append(ring, ring[0])
		rings = append(rings, ring)
	}
	if len(rings) == 0 {
		return nil
	}

	type ringInfo struct {
		ring  orb.Ring
		area  float64
		depth int
	}
	infos := make([]*ringInfo, len(rings))
	for i, ring := range rings {
		infos[i] = &ringInfo{ring: ring, area: RingArea(ring)}
	}
	for i, a := range infos {
		probe := interiorProbe(a.ring)
		for j, b := range infos {
			if i != j && b.area > a.area && planar.PolygonContains(orb.Polygon{b.ring}, probe) {
				a.depth++
			}
		}
	}

	// exteriors first, largest to smallest, then attach each hole to the
	// smallest exterior containing it
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].area > infos[j].area })
	var polys orb.MultiPolygon
	for _, info := range infos {
		if info.depth%2 == 0 {
			exterior := info.ring
			if ringSignedArea(exterior) < 0 {
				reverseRing(exterior)
			}
			polys = append(polys, orb.Polygon{exterior})
		}
	}
	for _, info := range infos {
		if info.depth%2 == 1 {
			probe := interiorProbe(info.ring)
			for pi := len(polys) - 1; pi >= 0; pi-- {
				if planar.PolygonContains(orb.Polygon{polys[pi][0]}, probe) {
					hole := info.ring
					if ringSignedArea(hole) > 0 {
						reverseRing(hole)
					}
					polys[pi] = append(polys[pi], hole)
					break
				}
			}
		}
	}
	if len(polys) == 1 {
		return polys[0]
	}
	return polys
}

// interiorProbe returns a point on the ring usable for containment tests
// against other rings (ring vertices are assumed not to lie exactly on other
// contours after a union).
func interiorProbe(ring orb.Ring) orb.Point {
	return ring[0]
}
