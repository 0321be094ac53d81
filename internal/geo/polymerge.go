package geo

import (
	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"

	"github.com/wegman-software/vtpipe/internal/vectortile"
)

// MergePolygons unions polygon features with identical attributes that lie
// within minDist of each other, using buffer(+b) then buffer(-b) with mitre
// joins (morphological closing) so nearby polygons fuse while corners stay
// sharp. Merged results and singletons whose exterior ring encloses less
// than minArea are dropped. Non-polygon features pass through untouched.
func MergePolygons(features []vectortile.Feature, minArea, minDist, buffer float64) ([]vectortile.Feature, error) {
	result := make([]vectortile.Feature, 0, len(features))
	grouped := groupByAttrs(features, &result, vectortile.GeomPolygon)
	for _, group := range grouped {
		feature1 := group[0]
		geometries := make([]orb.Geometry, len(group))
		for i, f := range group {
			geom, err := f.Geometry.Decode()
			if err != nil {
				return nil, WrapError("merge_decode_polygon", err)
			}
			geometries[i] = geom
		}

		var outPolygons []orb.Polygon
		for _, component := range groupPolygonsByProximity(geometries, minDist) {
			var merged orb.Geometry
			if len(component) > 1 {
				merged = closeGeometries(component, buffer)
				poly, ok := merged.(orb.Polygon)
				if !ok || ExteriorRingArea(poly) < minArea {
					continue
				}
				merged = SnapAndFixPolygon(poly)
				if merged == nil {
					continue
				}
			} else {
				merged = component[0]
				poly, ok := merged.(orb.Polygon)
				if !ok || ExteriorRingArea(poly) < minArea {
					continue
				}
			}
			outPolygons = extractPolygons(merged, outPolygons)
		}
		if len(outPolygons) == 0 {
			continue
		}
		geom, err := vectortile.EncodeGeometry(CombinePolygons(outPolygons))
		if err != nil {
			return nil, WrapError("merge_encode_polygon", err)
		}
		result = append(result, feature1.CopyWithNewGeometry(geom))
	}
	return result, nil
}

// closeGeometries applies the morphological closing to a proximity group:
// buffer outward, union, then buffer back inward. The negative half only
// runs for a positive buffer, matching long-standing renderer behavior.
func closeGeometries(geometries []orb.Geometry, buffer float64) orb.Geometry {
	merged := BufferUnion(geometries, buffer)
	if buffer > 0 && merged != nil {
		merged = BufferUnion([]orb.Geometry{merged}, -buffer)
	}
	return merged
}

func extractPolygons(geom orb.Geometry, out []orb.Polygon) []orb.Polygon {
	switch g := geom.(type) {
	case orb.Polygon:
		out = append(out, g)
	case orb.MultiPolygon:
		for _, poly := range g {
			out = append(out, poly)
		}
	case orb.Collection:
		for _, member := range g {
			out = extractPolygons(member, out)
		}
	}
	return out
}

// groupPolygonsByProximity splits geometries into connected components of
// the is-within-minDist relation, discovered through an envelope R-tree.
func groupPolygonsByProximity(geometries []orb.Geometry, minDist float64) [][]orb.Geometry {
	adjacency := extractAdjacencyList(geometries, minDist)
	groups := extractConnectedComponents(adjacency, len(geometries))

	out := make([][]orb.Geometry, len(groups))
	for gi, ids := range groups {
		members := make([]orb.Geometry, len(ids))
		for i, id := range ids {
			members[i] = geometries[id]
		}
		out[gi] = members
	}
	return out
}

func extractAdjacencyList(geometries []orb.Geometry, minDist float64) map[int][]int {
	var index rtree.RTreeG[int]
	for i, g := range geometries {
		b := boundExpandedBy(g.Bound(), minDist)
		index.Insert([2]float64{b.Min[0], b.Min[1]}, [2]float64{b.Max[0], b.Max[1]}, i)
	}

	adjacency := make(map[int][]int)
	for i, a := range geometries {
		b := a.Bound()
		index.Search([2]float64{b.Min[0], b.Min[1]}, [2]float64{b.Max[0], b.Max[1]},
			func(min, max [2]float64, j int) bool {
				if j > i && IsWithinDistance(a, geometries[j], minDist) {
					adjacency[i] = append(adjacency[i], j)
					adjacency[j] = append(adjacency[j], i)
				}
				return true
			})
	}
	return adjacency
}

// extractConnectedComponents walks the adjacency list with an explicit
// stack; fully connected landcover can chain thousands of polygons, too
// deep for recursion.
func extractConnectedComponents(adjacency map[int][]int, numItems int) [][]int {
	var result [][]int
	visited := make([]bool, numItems)
	stack := make([]int, 0, 64)

	for i := 0; i < numItems; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		group := []int{i}
		stack = append(stack[:0], i)
		for len(stack) > 0 {
			node := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, next := range adjacency[node] {
				if !visited[next] {
					visited[next] = true
					group = append(group, next)
					stack = append(stack, next)
				}
			}
		}
		result = append(result, group)
	}
	return result
}
