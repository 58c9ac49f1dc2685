package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/logging"
)

// Store implements docstore.Store using BadgerDB (LSM tree)
type Store struct {
	db   *badger.DB
	feed docstore.Feed
	now  func() time.Time
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults)
	MaxMemoryMB int64
}

// Stats provides storage health and usage info
type Stats struct {
	Documents   uint64 `json:"documents"`
	Collections uint64 `json:"collections"`
	SizeBytes   uint64 `json:"size_bytes"`
}

// New opens a BadgerDB store
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)

	// In-memory mode refuses a directory
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	// Default: 16 MB memtable, which keeps the total footprint near 48 MB
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	// Block and index caches are unbounded unless set
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Get reads one document
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	path := docstore.JoinPath(collection, id)

	type getResult struct {
		doc docstore.Document
		err error
	}
	done := make(chan getResult, 1)

	go func() {
		var res getResult
		res.err = s.db.View(func(txn *badger.Txn) error {
			doc, err := readDoc(txn, collection, id)
			if err != nil {
				return err
			}
			res.doc = doc
			return nil
		})
		done <- res
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return docstore.Document{}, &docstore.OpError{Op: docstore.OpGet, Path: path, Err: wrapErr(res.err)}
		}
		return res.doc, nil
	case <-ctx.Done():
		return docstore.Document{}, fmt.Errorf("get operation cancelled: %w", ctx.Err())
	}
}

// List scans the collection prefix and applies q
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Store) List(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type listResult struct {
		docs []docstore.Document
		err  error
	}
	done := make(chan listResult, 1)

	go func() {
		var res listResult
		start := time.Now()
		var iterCount int

		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100
			opts.Prefix = collectionPrefix(q.Collection)

			it := txn.NewIterator(opts)
			defer it.Close()

			var all []docstore.Document
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				err := it.Item().Value(func(val []byte) error {
					doc, err := docstore.DecodeDocument(val)
					if err != nil {
						return err
					}
					// Hash collisions share a prefix
					if doc.Collection == q.Collection {
						all = append(all, doc)
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			res.docs = q.Apply(all)
			return nil
		})

		if elapsed := time.Since(start); elapsed > 5*time.Second {
			logging.Warn().
				Str("collection", q.Collection).
				Dur("elapsed", elapsed).
				Int("iterations", iterCount).
				Msg("slow list")
		}
		done <- res
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, &docstore.OpError{Op: docstore.OpList, Path: q.Collection, Err: wrapErr(res.err)}
		}
		return res.docs, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("list operation cancelled: %w", ctx.Err())
	}
}

// Write applies a create, merge or update and notifies listeners.
// Cancellation is honoured before the transaction starts. A started
// transaction is never abandoned, so the caller always sees its real
// outcome and listeners always hear about a commit.
func (s *Store) Write(ctx context.Context, collection, id string, fields docstore.Fields, mode docstore.WriteMode) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	op := docstore.OpUpdate
	if mode == docstore.Create {
		op = docstore.OpCreate
	}
	path := docstore.JoinPath(collection, id)

	var doc docstore.Document
	err := s.db.Update(func(txn *badger.Txn) error {
		var existing *docstore.Document
		current, err := readDoc(txn, collection, id)
		switch {
		case err == nil:
			existing = &current
		case !errors.Is(err, docstore.ErrNotFound):
			return err
		}

		next, err := docstore.ApplyWrite(existing, collection, id, fields, mode, s.now())
		if err != nil {
			return err
		}
		value, err := docstore.EncodeDocument(next)
		if err != nil {
			return fmt.Errorf("failed to encode document: %w", err)
		}
		if err := txn.Set(makeKey(collection, id), value); err != nil {
			return fmt.Errorf("failed to write document: %w", err)
		}
		doc = next
		return nil
	})
	if err != nil {
		return docstore.Document{}, &docstore.OpError{Op: op, Path: path, Err: wrapErr(err)}
	}
	s.feed.Notify(collection)
	return doc, nil
}

// Listen subscribes to change notices for collection
func (s *Store) Listen(collection string) (<-chan struct{}, func()) {
	return s.feed.Listen(collection)
}

// Close shuts down BadgerDB cleanly
func (s *Store) Close() error {
	s.feed.Close()
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns badger.ErrNoRewrite when there was nothing to collect
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type statsResult struct {
		stats *Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		var res statsResult
		stats := &Stats{}

		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			prefixes := make(map[uint64]bool)
			var iterCount int

			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				stats.Documents++
				prefixes[binary.BigEndian.Uint64(item.Key()[:8])] = true
			}
			stats.Collections = uint64(len(prefixes))
			return nil
		})

		if res.err == nil {
			lsmSize, vlogSize := s.db.Size()
			stats.SizeBytes = uint64(lsmSize + vlogSize)
		}

		res.stats = stats
		done <- res
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

func readDoc(txn *badger.Txn, collection, id string) (docstore.Document, error) {
	item, err := txn.Get(makeKey(collection, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, err
	}
	var doc docstore.Document
	err = item.Value(func(val []byte) error {
		doc, err = docstore.DecodeDocument(val)
		return err
	})
	if err != nil {
		return docstore.Document{}, err
	}
	if doc.Collection != collection || doc.ID != id {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return doc, nil
}

// makeKey creates a key that groups a collection under one prefix
// Format: [collection_hash (8 bytes)][id bytes]
func makeKey(collection, id string) []byte {
	var buf bytes.Buffer
	buf.Grow(8 + len(id))
	buf.Write(collectionPrefix(collection))
	buf.WriteString(id)
	return buf.Bytes()
}

func collectionPrefix(collection string) []byte {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, xxhash.Sum64String(collection))
	return prefix
}

// wrapErr maps backend failures onto docstore sentinels
func wrapErr(err error) error {
	switch {
	case errors.Is(err, docstore.ErrNotFound),
		errors.Is(err, docstore.ErrAlreadyExists),
		errors.Is(err, docstore.ErrInvalidArgument),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, badger.ErrDBClosed):
		return docstore.ErrClosed
	}
	return errors.Join(docstore.ErrUnavailable, err)
}
