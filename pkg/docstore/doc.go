/*
Package docstore is the document database behind the campus apps.

Documents live in named collections and hold loosely typed fields: strings,
numbers (always float64 once stored), booleans, timestamps and nested maps.
Nothing is schema-checked at this layer. Typed views are built by package
records, which skips documents missing a field instead of failing.

# Backends

All backends implement Store:

	type Store interface {
	    Get(ctx context.Context, collection, id string) (Document, error)
	    List(ctx context.Context, q Query) ([]Document, error)
	    Write(ctx context.Context, collection, id string, fields Fields, mode WriteMode) (Document, error)
	    Listen(collection string) (<-chan struct{}, func())
	    Close() error
	}

  - memory: maps guarded by a mutex, for tests and local runs
  - badger: BadgerDB with Snappy compression, for persistent deployments

# Change notices

Listen returns a channel that receives a value after any write to the
collection. Notices carry no data and coalesce: a slow listener sees one
pending notice no matter how many writes happened. Readers are expected
to re-run their query, which is what package stream does to build full
snapshots.

# Access checks

Guard wraps a Store with a Policy evaluated for one Subject. Denied calls
fail with an *OpError wrapping ErrPermissionDenied so callers can tell a
rejected read from an empty one.
*/
package docstore
