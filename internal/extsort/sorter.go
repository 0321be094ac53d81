package extsort

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/vtpipe/internal/feature"
	"github.com/wegman-software/vtpipe/internal/logger"
)

// Options tune the external merge sort.
type Options struct {
	// ChunkBytes caps the in-memory chunk size before it spills to disk.
	ChunkBytes int64
	// ChunkEntries caps the in-memory chunk record count before it spills.
	ChunkEntries int
	// Parallelism bounds how many chunks sort and spill concurrently.
	Parallelism int
	// Mmap reads run files through memory mapping during the merge instead
	// of buffered reads.
	Mmap bool
}

const (
	defaultChunkBytes   = 1 << 30
	defaultChunkEntries = 10_000_000
	// fixed per-entry overhead charged against the chunk byte budget: key,
	// slice header, allocator slack
	entryOverheadBytes = 40
)

// Sorter is a bounded-memory external merge sort of SortableFeatures by
// their 64-bit key. Entries accumulate in an in-memory chunk; full chunks
// are sorted and spilled to run files under a scratch directory; Sort seals
// the input and Iterator streams a k-way merge of all runs.
//
// Writes are single-threaded and reads are single-threaded, though spilled
// chunks sort and write on background workers. Run files belong to the
// sorter until Close, which deletes them.
type Sorter struct {
	dir     string
	opts    Options
	current []feature.SortableFeature

	currentBytes int64
	numWritten   atomic.Int64
	nextRunID    int

	spill *errgroup.Group

	mu        sync.Mutex
	runs      []*runFile
	diskBytes int64
	spillErr  error

	sorted   bool
	inMemory bool // all data fit in the single in-memory chunk
}

type runFile struct {
	path string
	size int64
}

// New creates a sorter that spills run files into a fresh directory under
// tempDir (the OS temp dir when empty).
func New(tempDir string, opts Options) (*Sorter, error) {
	if opts.ChunkBytes <= 0 {
		opts.ChunkBytes = defaultChunkBytes
	}
	if opts.ChunkEntries <= 0 {
		opts.ChunkEntries = defaultChunkEntries
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	dir, err := os.MkdirTemp(tempDir, "vtpipe-sort-")
	if err != nil {
		return nil, fmt.Errorf("creating sort scratch directory: %w", err)
	}
	spill := &errgroup.Group{}
	spill.SetLimit(opts.Parallelism)
	return &Sorter{dir: dir, opts: opts, spill: spill}, nil
}

// Add buffers one entry, spilling the current chunk when it exceeds the
// byte or entry budget. Must not be called after Sort.
func (s *Sorter) Add(entry feature.SortableFeature) error {
	if s.sorted {
		return fmt.Errorf("add after sort: sorter is read-only")
	}
	if err := s.err(); err != nil {
		return err
	}
	s.current = append(s.current, entry)
	s.currentBytes += int64(len(entry.Value)) + entryOverheadBytes
	s.numWritten.Add(1)
	if s.currentBytes >= s.opts.ChunkBytes || len(s.current) >= s.opts.ChunkEntries {
		s.spillCurrent()
	}
	return nil
}

// spillCurrent hands the full chunk to a background worker to sort and
// write, and starts a fresh chunk.
func (s *Sorter) spillCurrent() {
	chunk := s.current
	s.current = make([]feature.SortableFeature, 0, len(chunk))
	s.currentBytes = 0
	runID := s.nextRunID
	s.nextRunID++

	s.spill.Go(func() error {
		if err := s.writeRun(runID, chunk); err != nil {
			s.mu.Lock()
			if s.spillErr == nil {
				s.spillErr = err
			}
			s.mu.Unlock()
			return err
		}
		return nil
	})
}

func (s *Sorter) writeRun(runID int, chunk []feature.SortableFeature) error {
	sortChunk(chunk)
	path := filepath.Join(s.dir, fmt.Sprintf("chunk%06d.dat", runID))
	size, err := writeRunFile(path, chunk)
	if err != nil {
		return fmt.Errorf("writing sort run %s: %w", path, err)
	}
	s.mu.Lock()
	s.runs = append(s.runs, &runFile{path: path, size: size})
	s.diskBytes += size
	s.mu.Unlock()
	logger.Get().Debug("Wrote sort run",
		zap.String("path", path),
		zap.Int("entries", len(chunk)),
		zap.Int64("bytes", size))
	return nil
}

func sortChunk(chunk []feature.SortableFeature) {
	sort.Slice(chunk, func(i, j int) bool { return chunk[i].SortKey < chunk[j].SortKey })
}

func (s *Sorter) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spillErr
}

// Sort seals the input. When everything fit in the single in-memory chunk
// it is sorted in place and retained as the source; otherwise the remaining
// chunk spills and the sorter waits for all runs to land on disk.
func (s *Sorter) Sort(ctx context.Context) error {
	if s.sorted {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	noRuns := len(s.runs) == 0
	s.mu.Unlock()

	if noRuns && s.nextRunID == 0 {
		sortChunk(s.current)
		s.inMemory = true
		s.sorted = true
		return nil
	}

	if len(s.current) > 0 {
		s.spillCurrent()
	}
	if err := s.spill.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sorted = true
	s.mu.Lock()
	numRuns := len(s.runs)
	disk := s.diskBytes
	s.mu.Unlock()
	logger.Get().Info("Sorted features",
		zap.Int64("features", s.numWritten.Load()),
		zap.Int("runs", numRuns),
		zap.Int64("disk_bytes", disk))
	return nil
}

// NumFeaturesWritten returns the number of entries added so far.
func (s *Sorter) NumFeaturesWritten() int64 {
	return s.numWritten.Load()
}

// DiskUsageBytes returns the total size of run files currently on disk.
func (s *Sorter) DiskUsageBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diskBytes
}

// Iterator streams all entries in ascending key order. Sort must have
// completed; the stream is single-consumer and one-shot.
func (s *Sorter) Iterator() (feature.SorterIterator, error) {
	if !s.sorted {
		return nil, fmt.Errorf("iterator before sort")
	}
	if s.inMemory {
		return &sliceIterator{entries: s.current}, nil
	}
	s.mu.Lock()
	runs := make([]*runFile, len(s.runs))
	copy(runs, s.runs)
	s.mu.Unlock()
	return newMergeIterator(runs, s.opts.Mmap)
}

// Close deletes the scratch directory and all run files.
func (s *Sorter) Close() error {
	// wait out stragglers so file handles are closed before removal
	_ = s.spill.Wait()
	return os.RemoveAll(s.dir)
}

type sliceIterator struct {
	entries []feature.SortableFeature
	pos     int
	cur     feature.SortableFeature
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.entries) {
		return false
	}
	it.cur = it.entries[it.pos]
	it.pos++
	return true
}

func (it *sliceIterator) Entry() feature.SortableFeature { return it.cur }

func (it *sliceIterator) Err() error { return nil }
