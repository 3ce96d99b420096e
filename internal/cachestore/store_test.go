package cachestore

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hlscacheproxy/internal/logger"
)

func newTestStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()
	cfg := &Config{Root: t.TempDir(), MaxCacheByte: maxBytes}
	s, err := New(cfg, logger.Default)
	require.NoError(t, err)
	return s
}

func TestKeyDeterminism(t *testing.T) {
	k1 := NewKey("http://origin/seg1.ts")
	k2 := NewKey("http://origin/seg1.ts")
	assert.Equal(t, k1.Filename(), k2.Filename())

	r1 := NewRangeKey("http://origin/init.mp4", 0, 199)
	r2 := NewRangeKey("http://origin/init.mp4", 200, 399)
	assert.NotEqual(t, r1.Filename(), r2.Filename())
	assert.NotEqual(t, NewKey("http://origin/init.mp4").Filename(), r1.Filename())
}

func TestKeyExtension(t *testing.T) {
	assert.Contains(t, NewKey("http://o/p/seg.ts").Filename(), ".ts")
	assert.Contains(t, NewKey("http://o/p/noext").Filename(), ".bin")
}

func TestSaveAtomicRoundTrip(t *testing.T) {
	s := newTestStore(t, 1<<20)
	key := NewKey("http://origin/a.ts")

	s.SaveAtomic(key, []byte("hello world"))

	assert.True(t, s.Exists(key))
	data, ok := s.ReadAll(key)
	require.True(t, ok)
	assert.Equal(t, []byte("hello world"), data)
}

func TestStreamingWriteRoundTrip(t *testing.T) {
	s := newTestStore(t, 1<<20)
	key := NewKey("http://origin/b.ts")

	wh, err := s.OpenStream(key)
	require.NoError(t, err)
	wh.Write([]byte("ab"))
	wh.Write([]byte("cd"))
	wh.Close(nil)

	data, ok := s.ReadAll(key)
	require.True(t, ok)
	assert.Equal(t, []byte("abcd"), data)
}

func TestStreamingWriteErrorDeletesPartial(t *testing.T) {
	s := newTestStore(t, 1<<20)
	key := NewKey("http://origin/c.ts")

	wh, err := s.OpenStream(key)
	require.NoError(t, err)
	wh.Write([]byte("partial"))
	wh.Close(assert.AnError)

	assert.False(t, s.Exists(key))
}

func TestEmptyFileTreatedAsAbsent(t *testing.T) {
	s := newTestStore(t, 1<<20)
	key := NewKey("http://origin/empty.ts")
	s.SaveAtomic(key, []byte{})

	// size-0 writes never even make it to disk as a "saved" entry once
	// read back through ReadAll/Exists.
	assert.False(t, s.Exists(key))
}

func TestPruneEvictsOldestFirst(t *testing.T) {
	s := newTestStore(t, 300)

	a := NewKey("http://o/a.ts")
	b := NewKey("http://o/b.ts")
	c := NewKey("http://o/c.ts")

	s.SaveAtomic(a, make([]byte, 150))
	time.Sleep(5 * time.Millisecond)
	s.SaveAtomic(b, make([]byte, 150))
	time.Sleep(5 * time.Millisecond)
	s.SaveAtomic(c, make([]byte, 150))

	s.Prune()

	assert.False(t, s.Exists(a), "oldest entry should have been evicted")
	assert.True(t, s.Exists(b))
	assert.True(t, s.Exists(c))

	total := s.Stats().TotalBytes
	assert.LessOrEqual(t, total, int64(300))
}

func TestPruneNoopUnderBudget(t *testing.T) {
	s := newTestStore(t, 1<<20)
	a := NewKey("http://o/a.ts")
	s.SaveAtomic(a, make([]byte, 150))

	s.Prune()

	assert.True(t, s.Exists(a))
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t, 1<<20)
	key := NewKey("http://o/a.ts")
	s.SaveAtomic(key, []byte("x"))
	require.True(t, s.Exists(key))

	s.ClearAll()

	assert.False(t, s.Exists(key))
	assert.Equal(t, 0, s.Stats().Entries)
}

// TestRangeReaderFallsBackToReadAtWithoutMmap exercises the non-mmap path
// directly (m left nil, as OpenRange leaves it when mmap.Map fails), since
// forcing a real mmap failure isn't portable across test environments. The
// fallback must still serve the correct bytes rather than being treated as
// a cache miss that triggers a refetch from origin.
func TestRangeReaderFallsBackToReadAtWithoutMmap(t *testing.T) {
	s := newTestStore(t, 1<<20)
	key := NewKey("http://o/fallback.ts")
	s.SaveAtomic(key, []byte("0123456789"))

	f, err := os.Open(s.PathFor(key))
	require.NoError(t, err)
	r := &RangeReader{file: f, size: 10}
	defer r.Close()

	slice, err := r.Slice(2, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), slice)

	_, err = r.Slice(8, 20)
	assert.Error(t, err)
}

func TestOpenRangeSlice(t *testing.T) {
	s := newTestStore(t, 1<<20)
	key := NewKey("http://o/big.ts")
	s.SaveAtomic(key, []byte("0123456789"))

	r, size, ok := s.OpenRange(key)
	require.True(t, ok)
	defer r.Close()
	assert.Equal(t, int64(10), size)

	slice, err := r.Slice(2, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), slice)
}
