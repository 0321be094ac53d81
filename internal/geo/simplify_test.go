package geo

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimplifyDropsCollinearPoints(t *testing.T) {
	line := orb.LineString{{0, 0}, {1, 0}, {2, 0}, {3, 0}}
	got := Simplify(line, 0).(orb.LineString)
	assert.Equal(t, orb.LineString{{0, 0}, {3, 0}}, got)
}

func TestSimplifyPreservesEndpoints(t *testing.T) {
	line := orb.LineString{{0.125, 0.0625}, {1, 0.01}, {2, -0.01}, {3.875, 0.3125}}
	got := Simplify(line, 10).(orb.LineString)
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, line[0], got[0])
	assert.Equal(t, line[len(line)-1], got[len(got)-1])
}

func TestSimplifyKeepsPointsAboveTolerance(t *testing.T) {
	line := orb.LineString{{0, 0}, {5, 4}, {10, 0}}
	got := Simplify(line, 1).(orb.LineString)
	assert.Equal(t, line, got, "peak above tolerance must survive")

	got = Simplify(line, 5).(orb.LineString)
	assert.Equal(t, orb.LineString{{0, 0}, {10, 0}}, got, "peak below tolerance must go")
}

func TestSimplifyOutputNoShorterThanTwo(t *testing.T) {
	line := orb.LineString{{0, 0}, {0.001, 0.001}, {0.002, 0}}
	got := Simplify(line, 100).(orb.LineString)
	assert.Len(t, got, 2)
}

func TestSimplifyRingKeepsTwoForcedInteriorPoints(t *testing.T) {
	// a tiny square entirely below tolerance must not collapse: the first
	// and last points plus two forced interior points survive
	ring := orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}
	got := Simplify(ring, 100).(orb.Ring)
	assert.Len(t, got, 4, "2 endpoints + 2 forced interior points")
}

func TestSimplifyPolygonDropsDegenerateRings(t *testing.T) {
	poly := orb.Polygon{
		{{0, 0}, {100, 0}, {100, 100}, {0, 100}, {0, 0}},
		// a sliver hole without enough points to stay a ring
		{{1, 1}, {2, 1}, {1, 1}},
	}
	got := Simplify(poly, 0.5)
	require.NotNil(t, got)
	p := got.(orb.Polygon)
	assert.Len(t, p, 1, "degenerate hole dropped, exterior kept")
}

func TestSimplifyDeepZigZagDoesNotOverflow(t *testing.T) {
	// adversarial input producing maximal recursion depth in the naive
	// implementation
	line := make(orb.LineString, 0, 20001)
	for i := 0; i <= 20000; i++ {
		y := 0.0
		if i%2 == 1 {
			y = float64(i) // every peak is the new farthest point
		}
		line = append(line, orb.Point{float64(i), y})
	}
	got := Simplify(line, 0.5).(orb.LineString)
	assert.LessOrEqual(t, len(got), len(line))
	assert.Equal(t, line[0], got[0])
}
