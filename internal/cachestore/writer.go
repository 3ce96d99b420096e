package cachestore

import (
	"fmt"
	"os"
	"time"
)

// WriteHandle is an append-only streaming write, used while a segment is
// being teed from the origin to disk (spec.md §4.A open_stream). The file
// is created empty at the final path and deleted on error — a concurrent
// exists() check never needs to distinguish "absent" from "mid-download
// and broken", only the file being gone signals a clean refetch.
type WriteHandle struct {
	store *Store
	key   Key
	file  *os.File
	size  int64
	err   error
}

func (s *Store) OpenStream(key Key) (*WriteHandle, error) {
	p := s.PathFor(key)
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cachestore: open stream for %s: %w", key.Filename(), err)
	}
	return &WriteHandle{store: s, key: key, file: f}, nil
}

// Write appends a chunk. Once a write fails, the handle remembers the
// error and further writes are no-ops so the caller can keep teeing to the
// client uninterrupted and only check the error at Close.
func (w *WriteHandle) Write(p []byte) {
	if w.err != nil {
		return
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	if err != nil {
		w.err = err
	}
}

// Close finalizes the write. On success, mtime is touched to "now" so it
// reliably reflects completion time regardless of how long the download
// took (spec.md §3: "last-modified is updated on successful completion of
// a streaming write"). On failure, the partial file is deleted — a partial
// file must never be served as complete.
func (w *WriteHandle) Close(downloadErr error) {
	closeErr := w.file.Close()

	if downloadErr != nil || w.err != nil || w.size == 0 {
		w.store.Delete(w.key)
		return
	}
	if closeErr != nil {
		w.store.log.Debugf("cachestore: close stream for %s: %v", w.key.Filename(), closeErr)
		w.store.Delete(w.key)
		return
	}

	now := time.Now()
	p := w.store.PathFor(w.key)
	if err := os.Chtimes(p, now, now); err != nil {
		w.store.log.Debugf("cachestore: touch mtime for %s: %v", w.key.Filename(), err)
	}
	w.store.ix.put(entryRecord{Hash: w.key.Hash(), Filename: w.key.Filename(), Size: w.size, ModTime: now})
}

// Abort deletes the partial file outright, used when the caller cancels
// mid-stream rather than observing a download error.
func (w *WriteHandle) Abort() {
	w.Close(fmt.Errorf("aborted"))
}
