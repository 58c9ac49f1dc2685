package docstore

import "context"

// Store is the document database abstraction.
type Store interface {
	// Get reads one document.
	Get(ctx context.Context, collection, id string) (Document, error)

	// List returns every document matching q.
	List(ctx context.Context, q Query) ([]Document, error)

	// Write stores fields under collection/id according to mode.
	Write(ctx context.Context, collection, id string, fields Fields, mode WriteMode) (Document, error)

	// Listen subscribes to change notices for a collection. The returned
	// func releases the listener and is safe to call more than once.
	Listen(collection string) (<-chan struct{}, func())

	// Close releases resources and closes every listener channel.
	Close() error
}
