package extsort

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/vtpipe/internal/feature"
)

func drain(t *testing.T, it feature.SorterIterator) []feature.SortableFeature {
	t.Helper()
	var out []feature.SortableFeature
	for it.Next() {
		out = append(out, it.Entry())
	}
	require.NoError(t, it.Err())
	return out
}

func TestInMemorySort(t *testing.T) {
	s, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	defer s.Close()

	keys := []uint64{5, 1, 9, 3, 3 << 32, 2}
	for _, k := range keys {
		require.NoError(t, s.Add(feature.SortableFeature{SortKey: k, Value: []byte{byte(k)}}))
	}
	require.NoError(t, s.Sort(context.Background()))
	assert.EqualValues(t, len(keys), s.NumFeaturesWritten())
	assert.Zero(t, s.DiskUsageBytes(), "single chunk must stay in memory")

	it, err := s.Iterator()
	require.NoError(t, err)
	got := drain(t, it)
	require.Len(t, got, len(keys))
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].SortKey, got[i].SortKey)
	}
}

func TestExternalSortManyRuns(t *testing.T) {
	for _, useMmap := range []bool{false, true} {
		name := "buffered"
		if useMmap {
			name = "mmap"
		}
		t.Run(name, func(t *testing.T) {
			// chunk budget of 1000 entries with 5000 inputs forces a >=5-way merge
			s, err := New(t.TempDir(), Options{ChunkEntries: 1000, Parallelism: 4, Mmap: useMmap})
			require.NoError(t, err)
			defer s.Close()

			const n = 5000
			rng := rand.New(rand.NewSource(42))
			want := make(map[uint64]int, n)
			for i := 0; i < n; i++ {
				k := uint64(rng.Intn(1 << 20))
				want[k]++
				value := []byte(fmt.Sprintf("v%d", i))
				require.NoError(t, s.Add(feature.SortableFeature{SortKey: k, Value: value}))
			}
			require.NoError(t, s.Sort(context.Background()))
			assert.Greater(t, s.DiskUsageBytes(), int64(0))

			it, err := s.Iterator()
			require.NoError(t, err)
			got := drain(t, it)
			require.Len(t, got, n, "every accepted entry comes back out")

			seen := make(map[uint64]int, len(want))
			for i, e := range got {
				seen[e.SortKey]++
				if i > 0 {
					require.LessOrEqual(t, got[i-1].SortKey, e.SortKey,
						"output must be monotonically non-decreasing at %d", i)
				}
			}
			assert.Equal(t, want, seen)
		})
	}
}

func TestAddAfterSortFails(t *testing.T) {
	s, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(feature.SortableFeature{SortKey: 1}))
	require.NoError(t, s.Sort(context.Background()))
	assert.Error(t, s.Add(feature.SortableFeature{SortKey: 2}))
}

func TestSortIdempotent(t *testing.T) {
	s, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(feature.SortableFeature{SortKey: 1}))
	require.NoError(t, s.Sort(context.Background()))
	require.NoError(t, s.Sort(context.Background()))
}

func TestSortCancellation(t *testing.T) {
	s, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Sort(ctx), context.Canceled)
}

func TestTruncatedRunRejected(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, Options{ChunkEntries: 10})
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 25; i++ {
		require.NoError(t, s.Add(feature.SortableFeature{
			SortKey: uint64(i),
			Value:   []byte("0123456789"),
		}))
	}
	require.NoError(t, s.Sort(context.Background()))

	// chop the tail off one run to simulate a crashed partial write
	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	victim := filepath.Join(s.dir, entries[0].Name())
	info, err := os.Stat(victim)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(victim, info.Size()-3))

	it, err := s.Iterator()
	if err != nil {
		return // rejected at open, also acceptable
	}
	for it.Next() {
	}
	assert.Error(t, it.Err(), "truncated run must fail the merge")
}

func TestRunFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.dat")
	chunk := []feature.SortableFeature{
		{SortKey: 1, Value: []byte{}},
		{SortKey: 2, Value: []byte("hello")},
		{SortKey: 3, Value: make([]byte, 300)}, // length needs a 2-byte varint
	}
	_, err := writeRunFile(path, chunk)
	require.NoError(t, err)

	r, err := openBufferedRun(path)
	require.NoError(t, err)
	defer r.close()
	for _, want := range chunk {
		got, err := r.next()
		require.NoError(t, err)
		assert.Equal(t, want.SortKey, got.SortKey)
		assert.Equal(t, len(want.Value), len(got.Value))
	}
}

func TestCloseRemovesRunFiles(t *testing.T) {
	s, err := New(t.TempDir(), Options{ChunkEntries: 2})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Add(feature.SortableFeature{SortKey: uint64(i), Value: []byte("x")}))
	}
	require.NoError(t, s.Sort(context.Background()))
	dir := s.dir
	require.NoError(t, s.Close())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
