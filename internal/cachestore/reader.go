package cachestore

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// RangeReader is a cache-hit read handle over an mmap'd file: seeking into
// a large fMP4 asset to serve a byte range becomes a slice into mapped
// memory instead of a Seek+ReadAt syscall pair per request. If mmap itself
// is unavailable, Slice falls back to a plain ReadAt instead of treating
// the already-cached file as a miss.
type RangeReader struct {
	file *os.File
	m    mmap.MMap // nil when mmap failed; Slice then uses file.ReadAt
	size int64
}

// OpenRange mmaps the file for key, or reports a miss if it is absent.
func (s *Store) OpenRange(key Key) (*RangeReader, int64, bool) {
	p := s.PathFor(key)
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, false
	}
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		f.Close()
		return nil, 0, false
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		// mmap can fail on some filesystems/sandboxes; fall back to a
		// regular ReadAt rather than refetching an already-cached file
		// from origin.
		return &RangeReader{file: f, size: info.Size()}, info.Size(), true
	}

	return &RangeReader{file: f, m: m, size: info.Size()}, info.Size(), true
}

// Slice returns bytes [lo, hi] inclusive. Caller must already have clamped
// lo/hi to the file's bounds.
func (r *RangeReader) Slice(lo, hi int64) ([]byte, error) {
	if lo < 0 || hi < lo {
		return nil, fmt.Errorf("cachestore: range [%d,%d] out of bounds (len=%d)", lo, hi, r.size)
	}
	if r.m != nil {
		if hi >= int64(len(r.m)) {
			return nil, fmt.Errorf("cachestore: range [%d,%d] out of bounds (len=%d)", lo, hi, len(r.m))
		}
		return r.m[lo : hi+1], nil
	}

	if hi >= r.size {
		return nil, fmt.Errorf("cachestore: range [%d,%d] out of bounds (len=%d)", lo, hi, r.size)
	}
	buf := make([]byte, hi-lo+1)
	if _, err := r.file.ReadAt(buf, lo); err != nil {
		return nil, fmt.Errorf("cachestore: read at [%d,%d]: %w", lo, hi, err)
	}
	return buf, nil
}

func (r *RangeReader) Close() {
	if r.m != nil {
		_ = r.m.Unmap()
	}
	_ = r.file.Close()
}
