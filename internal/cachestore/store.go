// Package cachestore implements the content-addressed disk store (spec.md
// §4.A, component A): atomic and streaming writes, existence/size queries,
// and LRU pruning against a byte-size budget. The filesystem is always the
// arbiter of truth; the in-memory index (index.go) only accelerates prune.
package cachestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"hlscacheproxy/internal/logger"
)

type Store struct {
	cfg *Config
	log logger.Logger
	ix  *index
}

func New(cfg *Config, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("cachestore: create root: %w", err)
	}
	s := &Store{cfg: cfg, log: log, ix: newIndex(log)}
	s.rebuildIndex()
	return s, nil
}

func (s *Store) rebuildIndex() {
	entries, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		s.log.Errorf("cachestore: rebuild index: %v", err)
		return
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if info.Size() == 0 {
			continue
		}
		s.ix.put(entryRecord{
			Hash:     hashFromFilename(de.Name()),
			Filename: de.Name(),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}
}

func hashFromFilename(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}

// PathFor is a pure function, no I/O (spec.md §4.A).
func (s *Store) PathFor(key Key) string {
	return filepath.Join(s.cfg.Root, key.Filename())
}

// Exists reports true only if the file is present and non-empty.
func (s *Store) Exists(key Key) bool {
	info, err := os.Stat(s.PathFor(key))
	if err != nil {
		return false
	}
	return info.Size() > 0
}

// SizeOf returns the file's size, or (0, false) if absent.
func (s *Store) SizeOf(key Key) (int64, bool) {
	info, err := os.Stat(s.PathFor(key))
	if err != nil || info.Size() == 0 {
		return 0, false
	}
	return info.Size(), true
}

// ReadAll reads the whole file (manifests only). An empty file is deleted
// and reported absent rather than returned as zero-length content.
func (s *Store) ReadAll(key Key) ([]byte, bool) {
	p := s.PathFor(key)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, false
	}
	if len(data) == 0 {
		_ = os.Remove(p)
		s.ix.delete(key.Hash())
		return nil, false
	}
	return data, true
}

// SaveAtomic writes the full buffer via write-to-temp + rename so a reader
// never observes a partial file (spec.md §3 CacheEntry invariants).
func (s *Store) SaveAtomic(key Key, data []byte) {
	final := s.PathFor(key)
	tmp := final + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.log.Errorf("cachestore: write temp for %s: %v", key.Filename(), err)
		_ = os.Remove(tmp)
		return
	}
	if err := os.Rename(tmp, final); err != nil {
		s.log.Errorf("cachestore: rename temp for %s: %v", key.Filename(), err)
		_ = os.Remove(tmp)
		return
	}

	info, err := os.Stat(final)
	if err != nil {
		return
	}
	s.ix.put(entryRecord{Hash: key.Hash(), Filename: key.Filename(), Size: info.Size(), ModTime: info.ModTime()})
}

// Delete removes an entry. Best-effort: errors are logged, never returned.
func (s *Store) Delete(key Key) {
	if err := os.Remove(s.PathFor(key)); err != nil && !os.IsNotExist(err) {
		s.log.Debugf("cachestore: delete %s: %v", key.Filename(), err)
	}
	s.ix.delete(key.Hash())
}

// ClearAll removes the whole cache directory and recreates it empty.
func (s *Store) ClearAll() {
	if err := os.RemoveAll(s.cfg.Root); err != nil {
		s.log.Errorf("cachestore: clear: %v", err)
	}
	if err := os.MkdirAll(s.cfg.Root, 0o755); err != nil {
		s.log.Errorf("cachestore: recreate root after clear: %v", err)
	}
	s.ix.clear()
}

// Stats is a debug snapshot, logged periodically but never served over HTTP
// (see SPEC_FULL.md, "Debug stats snapshot").
type Stats struct {
	Entries    int     `json:"entries"`
	TotalBytes int64   `json:"total_bytes"`
	BudgetUsed float64 `json:"budget_used"`
}

func (s *Store) Stats() Stats {
	entries := s.ix.oldestFirst()
	total := int64(0)
	for _, e := range entries {
		total += e.Size
	}
	budgetUsed := 0.0
	if s.cfg.MaxCacheByte > 0 {
		budgetUsed = float64(total) / float64(s.cfg.MaxCacheByte)
	}
	return Stats{Entries: len(entries), TotalBytes: total, BudgetUsed: budgetUsed}
}

// Prune enforces cfg.MaxCacheByte by deleting the oldest (by mtime) entries
// first until the running total is at or below budget. Best-effort: a
// failure on one file never aborts the pass (spec.md §4.A).
func (s *Store) Prune() {
	entries := s.ix.oldestFirst()
	if entries == nil {
		s.rebuildIndex()
		entries = s.ix.oldestFirst()
	}

	var total int64
	for _, e := range entries {
		total += e.Size
	}
	if total <= s.cfg.MaxCacheByte {
		return
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ModTime.Before(entries[j].ModTime) })

	for _, e := range entries {
		if total <= s.cfg.MaxCacheByte {
			break
		}
		p := filepath.Join(s.cfg.Root, e.Filename)
		if err := os.Remove(p); err != nil {
			s.log.Debugf("cachestore: prune %s: %v", e.Filename, err)
			continue
		}
		s.ix.delete(e.Hash)
		total -= e.Size
	}
}
