package feature

import (
	"context"
	"sort"

	"github.com/wegman-software/vtpipe/internal/stats"
	"github.com/wegman-software/vtpipe/internal/vectortile"
)

// nullSorter is a minimal in-memory Sorter for tests in this package; the
// real external merge sort lives in internal/extsort.
type nullSorter struct {
	entries []SortableFeature
	sorted  bool
}

func (s *nullSorter) Add(entry SortableFeature) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *nullSorter) Sort(ctx context.Context) error {
	sort.Slice(s.entries, func(i, j int) bool { return s.entries[i].SortKey < s.entries[j].SortKey })
	s.sorted = true
	return nil
}

func (s *nullSorter) Iterator() (SorterIterator, error) {
	return &nullIterator{entries: s.entries}, nil
}

func (s *nullSorter) NumFeaturesWritten() int64 { return int64(len(s.entries)) }
func (s *nullSorter) DiskUsageBytes() int64     { return 0 }
func (s *nullSorter) Close() error              { return nil }

type nullIterator struct {
	entries []SortableFeature
	pos     int
	cur     SortableFeature
}

func (it *nullIterator) Next() bool {
	if it.pos >= len(it.entries) {
		return false
	}
	it.cur = it.entries[it.pos]
	it.pos++
	return true
}

func (it *nullIterator) Entry() SortableFeature { return it.cur }
func (it *nullIterator) Err() error             { return nil }

type noopProfile struct{}

func (noopProfile) PostProcessLayerFeatures(string, int, []vectortile.Feature) ([]vectortile.Feature, error) {
	return nil, nil
}

type nullStats struct{}

func (nullStats) DataError(string)                     {}
func (nullStats) EmittedFeatures(int, string, int)     {}
func (nullStats) WroteTile(int, int)                   {}
func (nullStats) Gauge(string, func() float64)         {}
func (nullStats) LongCounter(string) *stats.Counter    { return &stats.Counter{} }
func (nullStats) StartStage(string) func()             { return func() {} }
func (nullStats) PrintSummary()                        {}
