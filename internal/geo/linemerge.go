package geo

import (
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wegman-software/vtpipe/internal/logger"
	"github.com/wegman-software/vtpipe/internal/vectortile"
)

// TileExtent is the pixel width of a tile; the line clip window is
// [-clip, TileExtent+clip] on both axes. Set once at startup when the
// configured extent differs from the default.
var TileExtent = 256.0

// MergeLineStrings merges connected line features that share identical
// attributes into maximal polylines, dropping merged lines shorter than
// minLength, re-simplifying with tolerance, and clipping to the tile window
// when clip > 0. Non-line features pass through untouched.
func MergeLineStrings(features []vectortile.Feature, minLength, tolerance, clip float64) ([]vectortile.Feature, error) {
	return MergeLineStringsWithLimit(features, func(map[string]any) float64 { return minLength }, tolerance, clip)
}

// MergeLineStringsWithLimit is MergeLineStrings with a per-attribute-group
// length limit.
func MergeLineStringsWithLimit(features []vectortile.Feature, lengthLimit func(attrs map[string]any) float64,
	tolerance, clip float64) ([]vectortile.Feature, error) {
	result := make([]vectortile.Feature, 0, len(features))
	grouped := groupByAttrs(features, &result, vectortile.GeomLine)
	for _, group := range grouped {
		feature1 := group[0]
		limit := lengthLimit(feature1.Attrs)

		// merging can be skipped only when there is a single feature that
		// needs no clipping and cannot be filtered out for being too short
		if len(group) == 1 && clip == 0 && limit == 0 {
			result = append(result, feature1)
			continue
		}

		var merger lineMerger
		for _, f := range group {
			geom, err := f.Geometry.Decode()
			if err != nil {
				return nil, WrapError("merge_decode_line", err)
			}
			merger.add(geom)
		}

		var outputSegments []orb.LineString
		for _, line := range merger.merged() {
			if Length(line) < limit {
				continue
			}
			// re-simplify since endpoints of merged segments may now be
			// redundant interior points
			if len(line) > 2 {
				simplified := Simplify(line, tolerance)
				if simple, ok := simplified.(orb.LineString); ok {
					line = simple
				} else {
					logger.Get().Warn("Line merge simplify emitted unexpected geometry",
						zap.String("type", orbTypeName(simplified)))
				}
			}
			if clip > 0 {
				removeDetailOutsideTile(line, clip, &outputSegments)
			} else {
				outputSegments = append(outputSegments, line)
			}
		}
		if len(outputSegments) == 0 {
			// nothing survived - skip this group entirely
			continue
		}
		geom, err := vectortile.EncodeGeometry(CombineLineStrings(outputSegments))
		if err != nil {
			return nil, WrapError("merge_encode_line", err)
		}
		result = append(result, feature1.CopyWithNewGeometry(geom))
	}
	return result, nil
}

// removeDetailOutsideTile walks consecutive segments of input and keeps a
// segment when its envelope intersects the clip window or the previous
// segment was kept. A run is only flushed after two consecutive outside
// segments, so a single excursion past the window survives as a short tail;
// downstream rendering relies on this one-segment dilation staying exactly
// as it is.
func removeDetailOutsideTile(input orb.LineString, buffer float64, output *[]orb.LineString) {
	if len(input) < 2 {
		return
	}
	var current orb.LineString
	wasIn := false
	min, max := -buffer, TileExtent+buffer
	outer := orb.Bound{Min: orb.Point{min, min}, Max: orb.Point{max, max}}
	x, y := input[0][0], input[0][1]
	for i := 0; i < len(input)-1; i++ {
		nextX, nextY := input[i+1][0], input[i+1][1]
		env := segmentBound(x, y, nextX, nextY)
		nowIn := boundsIntersect(env, outer)
		if nowIn || wasIn {
			current = append(current, orb.Point{x, y})
		} else if len(current) > 0 {
			*output = append(*output, current)
			current = nil
		}
		wasIn = nowIn
		x, y = nextX, nextY
	}
	last := input[len(input)-1]
	env := segmentBound(x, y, last[0], last[1])
	if boundsIntersect(env, outer) || wasIn {
		current = append(current, last)
	}

	if len(current) > 0 {
		*output = append(*output, current)
	}
}

func segmentBound(x1, y1, x2, y2 float64) orb.Bound {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return orb.Bound{Min: orb.Point{x1, y1}, Max: orb.Point{x2, y2}}
}

// groupByAttrs buckets features of the wanted geometry type by canonical
// attribute equality, preserving first-seen order of distinct attribute
// maps. Features of other types pass straight through to result.
func groupByAttrs(features []vectortile.Feature, result *[]vectortile.Feature,
	geomType vectortile.GeomType) [][]vectortile.Feature {
	index := make(map[string]int)
	var grouped [][]vectortile.Feature
	for _, f := range features {
		if f.Geometry.GeomType != geomType {
			*result = append(*result, f)
			continue
		}
		key := vectortile.AttrsKey(f.Attrs)
		i, ok := index[key]
		if !ok {
			i = len(grouped)
			index[key] = i
			grouped = append(grouped, nil)
		}
		grouped[i] = append(grouped[i], f)
	}
	return grouped
}

func orbTypeName(geom orb.Geometry) string {
	if geom == nil {
		return "nil"
	}
	return string(geom.GeoJSONType())
}

// lineMerger joins line strings that share endpoints into maximal
// polylines. Chains extend through nodes where exactly two lines meet;
// junctions of three or more lines stay split.
type lineMerger struct {
	lines []orb.LineString
}

func (m *lineMerger) add(geom orb.Geometry) {
	switch g := geom.(type) {
	case orb.LineString:
		if len(g) >= 2 {
			m.lines = append(m.lines, g)
		}
	case orb.MultiLineString:
		for _, line := range g {
			m.add(line)
		}
	}
}

type lineEnd struct {
	line int
	end  int // 0 = start point, 1 = last point
}

func (m *lineMerger) merged() []orb.LineString {
	nodes := make(map[orb.Point][]lineEnd, len(m.lines)*2)
	for i, line := range m.lines {
		nodes[line[0]] = append(nodes[line[0]], lineEnd{line: i, end: 0})
		nodes[line[len(line)-1]] = append(nodes[line[len(line)-1]], lineEnd{line: i, end: 1})
	}

	used := make([]bool, len(m.lines))
	var out []orb.LineString

	// first pass: chains anchored at a node that is not a plain pass-through
	for i, line := range m.lines {
		if used[i] {
			continue
		}
		startDeg := len(nodes[line[0]])
		endDeg := len(nodes[line[len(line)-1]])
		if startDeg == 2 && endDeg == 2 {
			continue
		}
		// orient the walk so it starts at the anchored endpoint
		forward := startDeg != 2
		out = append(out, m.walk(i, forward, nodes, used))
	}
	// second pass: what remains are closed cycles of pass-through nodes
	for i := range m.lines {
		if !used[i] {
			out = append(out, m.walk(i, true, nodes, used))
		}
	}
	return out
}

// walk follows a chain starting at line i, extending through nodes of degree
// two until hitting a junction, a dead end, or returning to the start.
func (m *lineMerger) walk(i int, forward bool, nodes map[orb.Point][]lineEnd, used []bool) orb.LineString {
	chain := orientedCopy(m.lines[i], forward)
	used[i] = true

	for {
		tip := chain[len(chain)-1]
		ends := nodes[tip]
		if len(ends) != 2 {
			break
		}
		next := lineEnd{line: -1}
		for _, e := range ends {
			if !used[e.line] {
				next = e
			}
		}
		if next.line < 0 {
			break
		}
		// entering at the line's start means we traverse it forward
		segment := orientedCopy(m.lines[next.line], next.end == 0)
		used[next.line] = true
		chain = append(chain, segment[1:]...)
	}
	return chain
}

func orientedCopy(line orb.LineString, forward bool) orb.LineString {
	out := make(orb.LineString, len(line))
	if forward {
		copy(out, line)
	} else {
		for i, p := range line {
			out[len(line)-1-i] = p
		}
	}
	return out
}
