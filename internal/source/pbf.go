package source

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"go.uber.org/zap"

	"github.com/wegman-software/vtpipe/internal/logger"
)

// Stats holds extraction statistics
type Stats struct {
	Nodes int64
	Ways  int64
}

// Geometry is one tagged input geometry read from the OSM file, in lon/lat.
type Geometry struct {
	ID   int64
	Geom orb.Geometry
	Tags map[string]string
}

// PBFReader streams tagged geometries out of an OSM PBF file: tagged nodes
// as points and ways as lines or polygons. Way geometries are assembled
// from an in-memory node location cache, which relies on the PBF convention
// of nodes arriving before the ways that reference them.
type PBFReader struct {
	path  string
	stats Stats
}

// NewPBFReader creates a reader for one .osm.pbf file.
func NewPBFReader(path string) *PBFReader {
	return &PBFReader{path: path}
}

// Stats returns counts of elements read so far.
func (r *PBFReader) Stats() Stats {
	return r.stats
}

// Read scans the file and passes each tagged geometry to emit. Untagged
// nodes only feed the location cache.
func (r *PBFReader) Read(ctx context.Context, emit func(Geometry) error) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("opening OSM input: %w", err)
	}
	defer f.Close()

	log := logger.Get()
	scanner := osmpbf.New(ctx, f, runtime.NumCPU())
	defer scanner.Close()

	locations := make(map[osm.NodeID][2]float64)

	for scanner.Scan() {
		switch o := scanner.Object().(type) {
		case *osm.Node:
			locations[o.ID] = [2]float64{o.Lon, o.Lat}
			r.stats.Nodes++
			if tags := tagsToMap(o.Tags); len(tags) > 0 {
				if err := emit(Geometry{
					ID:   int64(o.ID),
					Geom: orb.Point{o.Lon, o.Lat},
					Tags: tags,
				}); err != nil {
					return err
				}
			}
		case *osm.Way:
			r.stats.Ways++
			tags := tagsToMap(o.Tags)
			if len(tags) == 0 {
				continue
			}
			line := make(orb.LineString, 0, len(o.Nodes))
			complete := true
			for _, wn := range o.Nodes {
				loc, ok := locations[wn.ID]
				if !ok {
					complete = false
					break
				}
				line = append(line, orb.Point{loc[0], loc[1]})
			}
			if !complete || len(line) < 2 {
				continue
			}
			geom := wayGeometry(line, tags)
			if geom == nil {
				continue
			}
			if err := emit(Geometry{ID: int64(o.ID), Geom: geom, Tags: tags}); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning OSM input: %w", err)
	}

	log.Info("Finished reading OSM input",
		zap.Int64("nodes", r.stats.Nodes),
		zap.Int64("ways", r.stats.Ways))
	return nil
}

// wayGeometry decides whether a closed way is an area or a ring-shaped
// line, using the usual tag heuristics.
func wayGeometry(line orb.LineString, tags map[string]string) orb.Geometry {
	closed := len(line) >= 4 && line[0] == line[len(line)-1]
	if closed && isAreaTags(tags) {
		return orb.Polygon{orb.Ring(line)}
	}
	return line
}

// isAreaTags determines if tags indicate an area feature
func isAreaTags(tags map[string]string) bool {
	if tags["area"] == "yes" {
		return true
	}
	if tags["area"] == "no" {
		return false
	}
	areaKeys := []string{"building", "landuse", "natural", "leisure", "amenity", "water", "waterway"}
	for _, key := range areaKeys {
		if v, ok := tags[key]; ok && v != "no" {
			if key == "waterway" && v != "riverbank" {
				continue
			}
			if key == "natural" && (v == "coastline" || v == "cliff" || v == "ridge" || v == "tree_row") {
				continue
			}
			return true
		}
	}
	return false
}

func tagsToMap(tags osm.Tags) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(tags))
	for _, tag := range tags {
		m[tag.Key] = tag.Value
	}
	return m
}
