package extsort

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/wegman-software/vtpipe/internal/feature"
)

// Run file format, opaque to callers but stable:
//
//	u64 key big-endian | uvarint value length | value bytes
//
// repeated until end of file. No framing and no checksum; a truncated tail
// rejects the whole run when the merge opens it.

func writeRunFile(path string, chunk []feature.SortableFeature) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriterSize(f, 1<<20)
	var head [8 + binary.MaxVarintLen64]byte
	for _, entry := range chunk {
		binary.BigEndian.PutUint64(head[:8], entry.SortKey)
		n := binary.PutUvarint(head[8:], uint64(len(entry.Value)))
		if _, err := w.Write(head[:8+n]); err != nil {
			f.Close()
			return 0, err
		}
		if _, err := w.Write(entry.Value); err != nil {
			f.Close()
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadRun streams one run file's records to fn, for debugging tooling.
func ReadRun(path string, fn func(feature.SortableFeature) error) error {
	r, err := openBufferedRun(path)
	if err != nil {
		return err
	}
	defer r.close()
	for {
		entry, err := r.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}

// runReader streams one run file's records in order.
type runReader interface {
	// next returns io.EOF at a clean end of run; a truncated tail returns a
	// run-corruption error.
	next() (feature.SortableFeature, error)
	close() error
}

// bufferedRunReader reads a run through a buffered file reader.
type bufferedRunReader struct {
	path string
	f    *os.File
	r    *bufio.Reader
}

func openBufferedRun(path string) (*bufferedRunReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sort run: %w", err)
	}
	return &bufferedRunReader{path: path, f: f, r: bufio.NewReaderSize(f, 1<<20)}, nil
}

func (r *bufferedRunReader) next() (feature.SortableFeature, error) {
	var head [8]byte
	if _, err := io.ReadFull(r.r, head[:]); err != nil {
		if err == io.EOF {
			return feature.SortableFeature{}, io.EOF
		}
		return feature.SortableFeature{}, fmt.Errorf("truncated sort run %s: %w", r.path, err)
	}
	key := binary.BigEndian.Uint64(head[:])
	length, err := binary.ReadUvarint(r.r)
	if err != nil {
		return feature.SortableFeature{}, fmt.Errorf("truncated sort run %s: %w", r.path, err)
	}
	value := make([]byte, length)
	if _, err := io.ReadFull(r.r, value); err != nil {
		return feature.SortableFeature{}, fmt.Errorf("truncated sort run %s: %w", r.path, err)
	}
	return feature.SortableFeature{SortKey: key, Value: value}, nil
}

func (r *bufferedRunReader) close() error {
	return r.f.Close()
}
