// Package filter drives one live chart: it owns the selected filter, the
// caller's access to the chart and the subscription feeding it.
//
// All state lives in a single goroutine (Run). Filter changes, access
// answers and snapshots reach it as messages, so no snapshot is processed
// concurrently with a filter change. Every snapshot carries the generation
// of the subscription that produced it and anything from a replaced
// subscription is dropped.
//
// State machine:
//
//	Idle        --filter set, access granted-->  Subscribing
//	Subscribing --first snapshot-->               Ready
//	Ready       --filter changed-->               Subscribing (old subscription cancelled)
//	Subscribing/Ready --permission denied-->      Denied (until the filter changes)
//	any         --Close-->                        Closed
package filter

import (
	"context"
	"time"

	"github.com/nicktill/campuspulse/pkg/aggregate"
	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/stream"
)

// State is the controller's lifecycle state.
type State int

const (
	Idle State = iota
	Subscribing
	Ready
	Denied
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Subscribing:
		return "subscribing"
	case Ready:
		return "ready"
	case Denied:
		return "denied"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Filter is the user's selection. An empty Category selects everything
// and a zero Date means no date is selected. Viewer is the signed-in
// caller's uid for charts scoped to the caller; the server sets it from
// the session, never from client input.
type Filter struct {
	Category string
	Date     aggregate.Day
	Viewer   string
}

// All reports whether the category selection is the "all" sentinel.
func (f Filter) All() bool {
	return f.Category == ""
}

// Chart is what a controller renders.
type Chart interface {
	Name() string
	// Gate is the privilege required before any query is issued.
	Gate() authz.Gate
	// Query builds the live query for f.
	Query(f Filter) docstore.Query
	// Build derives the chart payload from a full snapshot.
	Build(f Filter, docs []docstore.Document) any
}

// Handle is a cancellable live subscription.
type Handle interface {
	Generation() uint64
	Events() <-chan stream.Event
	Cancel()
}

// Source opens live subscriptions.
type Source interface {
	Subscribe(ctx context.Context, q docstore.Query) (Handle, error)
}

// StreamSource adapts a stream.Manager to Source.
func StreamSource(m *stream.Manager) Source {
	return managerSource{m}
}

type managerSource struct{ m *stream.Manager }

func (s managerSource) Subscribe(ctx context.Context, q docstore.Query) (Handle, error) {
	sub, err := s.m.Subscribe(ctx, q)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// View is what the controller publishes after every state change.
type View struct {
	Chart  string
	State  State
	Filter Filter
	Access authz.Access
	// Payload is the last good chart payload. It survives transient
	// errors and is nil while Idle, Denied or before the first snapshot.
	Payload any
	// Err is the latest transient error, or the denial reason.
	Err        error
	Generation uint64
	At         time.Time
}
