package extsort

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/wegman-software/vtpipe/internal/feature"
)

// mmapRunReader walks a memory-mapped run file. During a k-way merge every
// run advances slowly in parallel, which thrashes buffered readers; mapping
// the file lets the page cache do the work. Each value is copied out of the
// map, so entries stay valid after the map is unmapped.
type mmapRunReader struct {
	path string
	f    *os.File
	m    mmap.MMap
	pos  int
}

func openMmapRun(path string) (*mmapRunReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sort run: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat sort run: %w", err)
	}
	if info.Size() == 0 {
		return &mmapRunReader{path: path, f: f}, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap sort run %s: %w", path, err)
	}
	return &mmapRunReader{path: path, f: f, m: m}, nil
}

func (r *mmapRunReader) next() (feature.SortableFeature, error) {
	if r.pos >= len(r.m) {
		return feature.SortableFeature{}, io.EOF
	}
	if r.pos+8 > len(r.m) {
		return feature.SortableFeature{}, fmt.Errorf("truncated sort run %s at offset %d", r.path, r.pos)
	}
	key := binary.BigEndian.Uint64(r.m[r.pos:])
	r.pos += 8
	length, n := binary.Uvarint(r.m[r.pos:])
	if n <= 0 {
		return feature.SortableFeature{}, fmt.Errorf("truncated sort run %s at offset %d", r.path, r.pos)
	}
	r.pos += n
	if r.pos+int(length) > len(r.m) {
		return feature.SortableFeature{}, fmt.Errorf("truncated sort run %s at offset %d", r.path, r.pos)
	}
	// copy out so the entry outlives the unmap
	value := make([]byte, length)
	copy(value, r.m[r.pos:r.pos+int(length)])
	r.pos += int(length)
	return feature.SortableFeature{SortKey: key, Value: value}, nil
}

func (r *mmapRunReader) close() error {
	var err error
	if r.m != nil {
		err = r.m.Unmap()
	}
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
