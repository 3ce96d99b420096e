package cachestore

import (
	"time"

	"github.com/hashicorp/go-memdb"

	"hlscacheproxy/internal/logger"
)

// entryRecord is the row stored in the in-memory index. The filesystem
// remains the arbiter of truth (spec.md §4.A): this index only exists to
// make prune()'s oldest-first scan an indexed read instead of a directory
// walk. It is rebuilt from disk when the store is constructed (and by Prune
// when it holds no entries), and updated by the store's own writes and
// deletes; files changed on disk by anything else are not re-checked.
type entryRecord struct {
	Hash     string
	Filename string
	Size     int64
	ModTime  time.Time
}

const tableEntries = "entries"

func newIndexSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableEntries: {
				Name: tableEntries,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Hash"},
					},
					"mtime": {
						Name:    "mtime",
						Unique:  false,
						Indexer: &memdb.IntFieldIndex{Field: "modTimeUnixNano"},
					},
				},
			},
		},
	}
}

// index wraps go-memdb with the narrow set of operations the store needs.
// modTimeUnixNano is stored alongside ModTime purely so memdb's
// IntFieldIndex has an indexable integer field to sort by.
type indexedEntry struct {
	entryRecord
	modTimeUnixNano int
}

type index struct {
	db  *memdb.MemDB
	log logger.Logger
}

func newIndex(log logger.Logger) *index {
	db, err := memdb.NewMemDB(newIndexSchema())
	if err != nil {
		// memdb.NewMemDB only fails on a malformed schema, which is a
		// programmer error, not a runtime condition. With a nil index the
		// store still reads and writes entries, but every index operation
		// is a no-op: Prune finds no entries and deletes nothing, and
		// Stats reports an empty cache.
		log.Errorf("cachestore: failed to initialize in-memory index: %v", err)
		return &index{log: log}
	}
	return &index{db: db, log: log}
}

func (ix *index) put(rec entryRecord) {
	if ix.db == nil {
		return
	}
	txn := ix.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableEntries, indexedEntry{entryRecord: rec, modTimeUnixNano: int(rec.ModTime.UnixNano())}); err != nil {
		ix.log.Debugf("cachestore: index insert failed: %v", err)
		return
	}
	txn.Commit()
}

func (ix *index) delete(hash string) {
	if ix.db == nil {
		return
	}
	txn := ix.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(tableEntries, "id", hash); err != nil {
		ix.log.Debugf("cachestore: index delete failed: %v", err)
		return
	}
	txn.Commit()
}

func (ix *index) clear() {
	if ix.db == nil {
		return
	}
	txn := ix.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(tableEntries, "id"); err != nil {
		ix.log.Debugf("cachestore: index clear failed: %v", err)
		return
	}
	txn.Commit()
}

// oldestFirst returns every indexed entry sorted ascending by mtime.
func (ix *index) oldestFirst() []entryRecord {
	if ix.db == nil {
		return nil
	}
	txn := ix.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableEntries, "mtime")
	if err != nil {
		ix.log.Debugf("cachestore: index scan failed: %v", err)
		return nil
	}

	var out []entryRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(indexedEntry).entryRecord)
	}
	return out
}

func (ix *index) totalSize() int64 {
	var total int64
	for _, e := range ix.oldestFirst() {
		total += e.Size
	}
	return total
}
