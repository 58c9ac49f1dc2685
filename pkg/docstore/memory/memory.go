package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/campuspulse/pkg/docstore"
)

// Store keeps documents in memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	mu     sync.RWMutex
	docs   map[string]map[string]docstore.Document
	feed   docstore.Feed
	closed bool

	// now is swapped in tests.
	now func() time.Time

	// failNext makes the next List or Get fail, for exercising error paths.
	failNext error
}

// New creates an in-memory store.
func New() *Store {
	return &Store{
		docs: make(map[string]map[string]docstore.Document),
		now:  time.Now,
	}
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(docstore.OpGet, docstore.JoinPath(collection, id)); err != nil {
		return docstore.Document{}, err
	}
	doc, ok := s.docs[collection][id]
	if !ok {
		return docstore.Document{}, &docstore.OpError{Op: docstore.OpGet, Path: docstore.JoinPath(collection, id), Err: docstore.ErrNotFound}
	}
	return doc.Clone(), nil
}

// List returns every document matching q.
func (s *Store) List(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(docstore.OpList, q.Collection); err != nil {
		return nil, err
	}
	all := make([]docstore.Document, 0, len(s.docs[q.Collection]))
	for _, d := range s.docs[q.Collection] {
		all = append(all, d)
	}
	results := q.Apply(all)
	for i := range results {
		results[i] = results[i].Clone()
	}
	return results, nil
}

// Write stores fields and notifies listeners.
func (s *Store) Write(ctx context.Context, collection, id string, fields docstore.Fields, mode docstore.WriteMode) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.Document{}, docstore.ErrClosed
	}
	var existing *docstore.Document
	if d, ok := s.docs[collection][id]; ok {
		existing = &d
	}
	doc, err := docstore.ApplyWrite(existing, collection, id, fields, mode, s.now())
	if err != nil {
		s.mu.Unlock()
		op := docstore.OpUpdate
		if mode == docstore.Create {
			op = docstore.OpCreate
		}
		return docstore.Document{}, &docstore.OpError{Op: op, Path: docstore.JoinPath(collection, id), Err: err}
	}
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]docstore.Document)
	}
	s.docs[collection][id] = doc
	s.mu.Unlock()

	s.feed.Notify(collection)
	return doc.Clone(), nil
}

// Delete removes a document. Missing documents are ignored.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	_, ok := s.docs[collection][id]
	delete(s.docs[collection], id)
	s.mu.Unlock()

	if ok {
		s.feed.Notify(collection)
	}
	return nil
}

// Listen subscribes to change notices for collection.
func (s *Store) Listen(collection string) (<-chan struct{}, func()) {
	return s.feed.Listen(collection)
}

// Listeners reports how many change listeners are registered.
func (s *Store) Listeners() int {
	return s.feed.Listeners()
}

// FailNext makes the next read return err. Test helper.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// SetClock overrides the write clock. Test helper.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Close drops all documents and closes listeners.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.docs = make(map[string]map[string]docstore.Document)
	s.mu.Unlock()
	s.feed.Close()
	return nil
}

func (s *Store) checkLocked(op, path string) error {
	if s.closed {
		return docstore.ErrClosed
	}
	if err := s.failNext; err != nil {
		s.failNext = nil
		return &docstore.OpError{Op: op, Path: path, Err: err}
	}
	return nil
}
