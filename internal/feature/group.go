package feature

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wegman-software/vtpipe/internal/geo"
	"github.com/wegman-software/vtpipe/internal/logger"
	"github.com/wegman-software/vtpipe/internal/profile"
	"github.com/wegman-software/vtpipe/internal/stats"
	"github.com/wegman-software/vtpipe/internal/stringtable"
	"github.com/wegman-software/vtpipe/internal/tile"
	"github.com/wegman-software/vtpipe/internal/vectortile"
)

// Sorter is the external merge sort the group writes through. Writes are
// single-threaded; after Sort, Iterator streams entries in ascending key
// order exactly once.
type Sorter interface {
	Add(entry SortableFeature) error
	Sort(ctx context.Context) error
	Iterator() (SorterIterator, error)
	NumFeaturesWritten() int64
	DiskUsageBytes() int64
	Close() error
}

// SorterIterator streams sorted entries. Next returns false at the end of
// the stream; Err reports the failure that stopped iteration early, if any.
type SorterIterator interface {
	Next() bool
	Entry() SortableFeature
	Err() error
}

// Group accepts rendered map features in any order and groups them by tile
// for a reader to iterate through.
//
// Only single-threaded writes and single-threaded reads are supported.
// Layer names and attribute keys are compressed to one byte each, so at most
// 250 distinct values per namespace are allowed.
type Group struct {
	sorter     Sorter
	profile    profile.Profile
	st         stats.Stats
	layers     *stringtable.Encoder
	attrKeys   *stringtable.Encoder
	layerStats *LayerStats

	prepareMu sync.Mutex
	prepared  bool
}

// NewGroup wraps a sorter with feature encoding and tile grouping. The
// profile's post-processing runs when each tile is assembled.
func NewGroup(sorter Sorter, prof profile.Profile, st stats.Stats) *Group {
	return &Group{
		sorter:     sorter,
		profile:    prof,
		st:         st,
		layers:     stringtable.NewEncoder("layer"),
		attrKeys:   stringtable.NewEncoder("attribute key"),
		layerStats: NewLayerStats(),
	}
}

// NewEncoder returns an encoder for one producer goroutine to serialize
// rendered features destined for this group.
func (g *Group) NewEncoder() *Encoder {
	return &Encoder{group: g}
}

// Accept writes a serialized binary feature to intermediate storage.
func (g *Group) Accept(entry SortableFeature) error {
	return g.sorter.Add(entry)
}

// NumFeaturesWritten returns the number of features accepted so far.
func (g *Group) NumFeaturesWritten() int64 {
	return g.sorter.NumFeaturesWritten()
}

// DiskUsageBytes returns the bytes of scratch disk currently held by sort
// run files.
func (g *Group) DiskUsageBytes() int64 {
	return g.sorter.DiskUsageBytes()
}

// LayerStats returns statistics about each layer written through the
// encoders, including zoom range and geometry types seen.
func (g *Group) LayerStats() *LayerStats {
	return g.layerStats
}

// Close releases the sorter and deletes its run files.
func (g *Group) Close() error {
	return g.sorter.Close()
}

// Prepare sorts features so they can be grouped by tile. Idempotent; the
// first caller wins and later callers return once sorting finished.
func (g *Group) Prepare(ctx context.Context) error {
	g.prepareMu.Lock()
	defer g.prepareMu.Unlock()
	if g.prepared {
		return nil
	}
	if err := g.sorter.Sort(ctx); err != nil {
		return fmt.Errorf("sorting features: %w", err)
	}
	g.prepared = true
	return nil
}

// Iterator prepares the group (if needed) and streams tiles in ascending
// encoded tile id order. One-shot and single-consumer.
func (g *Group) Iterator(ctx context.Context) (*TileIterator, error) {
	if err := g.Prepare(ctx); err != nil {
		return nil, err
	}
	entries, err := g.sorter.Iterator()
	if err != nil {
		return nil, fmt.Errorf("opening sorted feature stream: %w", err)
	}
	it := &TileIterator{group: g, entries: entries, ctx: ctx}
	if entries.Next() {
		e := entries.Entry()
		it.pending = &e
	} else if err := entries.Err(); err != nil {
		return nil, err
	}
	return it, nil
}

// TileIterator yields one TileFeatures per distinct tile id, in ascending
// order.
type TileIterator struct {
	group   *Group
	entries SorterIterator
	ctx     context.Context
	pending *SortableFeature
	err     error
}

// Next returns the features of the next tile, or nil when the stream is
// done. Cancellation is polled between tiles.
func (it *TileIterator) Next() (*TileFeatures, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.pending == nil {
		return nil, nil
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return nil, err
	}

	tf := newTileFeatures(it.group, TileFromSortKey(it.pending.SortKey))
	if err := tf.add(*it.pending); err != nil {
		it.err = err
		return nil, err
	}
	it.pending = nil

	for it.entries.Next() {
		entry := it.entries.Entry()
		if TileFromSortKey(entry.SortKey) != tf.tileID {
			it.pending = &entry
			return tf, nil
		}
		if err := tf.add(entry); err != nil {
			it.err = err
			return nil, err
		}
	}
	if err := it.entries.Err(); err != nil {
		it.err = err
		return nil, err
	}
	return tf, nil
}

// TileFeatures holds the features of a single tile in ascending sort-key
// order.
type TileFeatures struct {
	group  *Group
	tileID uint32
	coord  tile.Coord

	entries      []SortableFeature
	numProcessed int64

	// per-layer group cardinality bookkeeping
	counts     map[int64]int64
	countLayer byte
}

func newTileFeatures(g *Group, tileID uint32) *TileFeatures {
	return &TileFeatures{
		group:  g,
		tileID: tileID,
		coord:  tile.Decode(tileID),
	}
}

// TileCoord returns the tile this set of features belongs to.
func (t *TileFeatures) TileCoord() tile.Coord {
	return t.coord
}

// NumFeaturesProcessed returns the number of features read, including
// features discarded for being over a group limit.
func (t *TileFeatures) NumFeaturesProcessed() int64 {
	return t.numProcessed
}

// NumFeaturesToEmit returns the number of features that survived group
// limits and will be emitted.
func (t *TileFeatures) NumFeaturesToEmit() int64 {
	return int64(len(t.entries))
}

func (t *TileFeatures) add(entry SortableFeature) error {
	t.numProcessed++
	if HasGroupFromSortKey(entry.SortKey) {
		thisLayer := LayerFromSortKey(entry.SortKey)
		if t.counts == nil {
			t.counts = make(map[int64]int64)
			t.countLayer = thisLayer
		} else if thisLayer != t.countLayer {
			t.countLayer = thisLayer
			clear(t.counts)
		}
		info, err := peekGroupInfo(entry.Value)
		if err != nil {
			// corrupt preamble means corrupt intermediate storage
			return fmt.Errorf("corrupt group preamble in tile %v: %w", t.coord, err)
		}
		old := t.counts[info.ID]
		if info.Limit > 0 && old >= int64(info.Limit) {
			// too many features in this group already
			return nil
		}
		t.counts[info.ID] = old + 1
	}
	t.entries = append(t.entries, entry)
	return nil
}

// HasSameContents reports whether other carries features with identical
// layers, geometries, and attributes as this tile, even if the two tiles
// have different coordinates. Used to avoid re-encoding identical ocean
// tiles over and over.
func (t *TileFeatures) HasSameContents(other *TileFeatures) bool {
	if other == nil || len(other.entries) != len(t.entries) {
		return false
	}
	for i := range t.entries {
		a, b := t.entries[i], other.entries[i]
		if LayerFromSortKey(a.SortKey) != LayerFromSortKey(b.SortKey) || !bytes.Equal(a.Value, b.Value) {
			return false
		}
	}
	return true
}

// GetVectorTileEncoder decodes this tile's features, walks layers in draw
// order, runs the profile's per-layer post-processing, and assembles the
// result into a vector tile encoder.
func (t *TileFeatures) GetVectorTileEncoder() (*vectortile.Tile, error) {
	encoder := &vectortile.Tile{}
	items := make([]vectortile.Feature, 0, len(t.entries))
	currentLayer := ""
	// entries are sorted by inverted z-order, so walking them backwards
	// yields draw order, bottom-most feature first
	for i := len(t.entries) - 1; i >= 0; i-- {
		f, err := decodeValue(t.entries[i], t.group.layers, t.group.attrKeys)
		if err != nil {
			return nil, fmt.Errorf("decoding feature in tile %v: %w", t.coord, err)
		}
		if currentLayer == "" {
			currentLayer = f.Layer
		} else if currentLayer != f.Layer {
			if err := t.postProcessAndAddLayerFeatures(encoder, currentLayer, items); err != nil {
				return nil, err
			}
			currentLayer = f.Layer
			items = items[:0]
		}
		items = append(items, f)
	}
	if len(items) > 0 {
		if err := t.postProcessAndAddLayerFeatures(encoder, currentLayer, items); err != nil {
			return nil, err
		}
	}
	return encoder, nil
}

func (t *TileFeatures) postProcessAndAddLayerFeatures(encoder *vectortile.Tile, layer string, features []vectortile.Feature) error {
	processed, err := t.group.profile.PostProcessLayerFeatures(layer, t.coord.Z, features)
	if err != nil {
		// post-processing failures happen very late, so err on the side of
		// caution: demote geometry errors to the un-processed feature set and
		// only propagate fatal failures
		var geoErr *geo.Error
		if errors.As(err, &geoErr) {
			geoErr.Log(t.group.st, "postprocess_layer",
				fmt.Sprintf("postprocessing %s layer on %v", layer, t.coord))
		} else {
			logger.Get().Error("Fatal error postprocessing features",
				zap.String("layer", layer), zap.Stringer("tile", t.coord), zap.Error(err))
			return err
		}
	} else if processed != nil {
		features = processed
	}
	out := make([]vectortile.Feature, len(features))
	copy(out, features)
	encoder.AddLayerFeatures(layer, out)
	return nil
}

func (t *TileFeatures) String() string {
	return fmt.Sprintf("TileFeatures{tile=%v entries=%d}", t.coord, len(t.entries))
}
