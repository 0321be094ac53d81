package extsort

import (
	"container/heap"
	"fmt"
	"io"
	"os"

	"github.com/wegman-software/vtpipe/internal/feature"
)

// mergeIterator streams a k-way merge over sorted run files using a min-heap
// keyed on each run's next entry. Ties break by run index; keys are unique
// per feature so the tie-break is never observable.
type mergeIterator struct {
	readers []runReader
	h       mergeHeap
	cur     feature.SortableFeature
	err     error
	closed  bool
}

type mergeEntry struct {
	entry feature.SortableFeature
	run   int
}

type mergeHeap []mergeEntry

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].entry.SortKey != h[j].entry.SortKey {
		return h[i].entry.SortKey < h[j].entry.SortKey
	}
	return h[i].run < h[j].run
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(mergeEntry)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func newMergeIterator(runs []*runFile, useMmap bool) (*mergeIterator, error) {
	it := &mergeIterator{}
	for i, run := range runs {
		// a run shorter than what was written is rejected before any merging
		if info, err := os.Stat(run.path); err != nil {
			it.closeAll()
			return nil, fmt.Errorf("stat sort run: %w", err)
		} else if info.Size() != run.size {
			it.closeAll()
			return nil, fmt.Errorf("truncated sort run %s: %d of %d bytes", run.path, info.Size(), run.size)
		}
		var (
			r   runReader
			err error
		)
		if useMmap {
			r, err = openMmapRun(run.path)
		} else {
			r, err = openBufferedRun(run.path)
		}
		if err != nil {
			it.closeAll()
			return nil, err
		}
		it.readers = append(it.readers, r)

		entry, err := r.next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			it.closeAll()
			return nil, err
		}
		it.h = append(it.h, mergeEntry{entry: entry, run: i})
	}
	heap.Init(&it.h)
	return it, nil
}

func (it *mergeIterator) Next() bool {
	if it.err != nil || it.h.Len() == 0 {
		if !it.closed {
			it.closeAll()
		}
		return false
	}
	top := it.h[0]
	it.cur = top.entry

	next, err := it.readers[top.run].next()
	switch {
	case err == io.EOF:
		heap.Pop(&it.h)
	case err != nil:
		it.err = err
		heap.Pop(&it.h)
	default:
		it.h[0] = mergeEntry{entry: next, run: top.run}
		heap.Fix(&it.h, 0)
	}
	return true
}

func (it *mergeIterator) Entry() feature.SortableFeature { return it.cur }

func (it *mergeIterator) Err() error { return it.err }

func (it *mergeIterator) closeAll() {
	for _, r := range it.readers {
		r.close()
	}
	it.closed = true
}
