package docstore

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the caller may not perform the operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists is returned by a Create write when the id is taken.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrInvalidArgument is returned for empty paths and unsupported field values.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnavailable is returned when the backend cannot serve the request.
	ErrUnavailable = errors.New("store unavailable")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// Operation names carried by OpError.
const (
	OpList   = "list"
	OpGet    = "get"
	OpCreate = "create"
	OpUpdate = "update"
)

// OpError records the operation and document path that failed.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// IsPermissionDenied reports whether err is, or wraps, ErrPermissionDenied.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// DebugHook, when set, observes every denied operation. Development tooling
// only; production code handles errors at the call site.
var DebugHook func(*OpError)

func opForMode(mode WriteMode) string {
	if mode == Create {
		return OpCreate
	}
	return OpUpdate
}
