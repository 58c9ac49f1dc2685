package docstore

import (
	"context"
	"errors"
)

// Action is what a request does to its target.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Subject is the caller a Guard evaluates requests for. An empty ID is
// an anonymous caller.
type Subject struct {
	ID   string
	Role string
}

// Request describes one store access for a Policy.
type Request struct {
	Subject    Subject
	Action     Action
	Collection string
	// ID is empty for list requests.
	ID string
	// Where holds list predicates.
	Where []Predicate
	// Fields holds the written fields for create and update.
	Fields Fields
	// Existing holds the stored fields an update or merge applies to. It
	// is nil for creates and for merges into a missing document.
	Existing Fields
}

// Policy decides whether a request is allowed. A denial returns an error
// wrapping ErrPermissionDenied.
type Policy interface {
	Authorize(ctx context.Context, req Request) error
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, req Request) error

func (f PolicyFunc) Authorize(ctx context.Context, req Request) error { return f(ctx, req) }

// Guarded is a Store view that checks every read and write.
type Guarded struct {
	store   Store
	policy  Policy
	subject Subject
}

// Guard returns an access-checked view of store for subject. Closing the
// view does not close store.
func Guard(store Store, policy Policy, subject Subject) *Guarded {
	return &Guarded{store: store, policy: policy, subject: subject}
}

// Subject returns the caller this view checks for.
func (g *Guarded) Subject() Subject { return g.subject }

func (g *Guarded) Get(ctx context.Context, collection, id string) (Document, error) {
	req := Request{Subject: g.subject, Action: ActionRead, Collection: collection, ID: id}
	if err := g.authorize(ctx, OpGet, JoinPath(collection, id), req); err != nil {
		return Document{}, err
	}
	return g.store.Get(ctx, collection, id)
}

func (g *Guarded) List(ctx context.Context, q Query) ([]Document, error) {
	req := Request{Subject: g.subject, Action: ActionRead, Collection: q.Collection, Where: q.Where}
	if err := g.authorize(ctx, OpList, q.Collection, req); err != nil {
		return nil, err
	}
	return g.store.List(ctx, q)
}

func (g *Guarded) Write(ctx context.Context, collection, id string, fields Fields, mode WriteMode) (Document, error) {
	action := ActionUpdate
	if mode == Create {
		action = ActionCreate
	}
	req := Request{Subject: g.subject, Action: action, Collection: collection, ID: id, Fields: fields}
	if mode != Create {
		cur, err := g.store.Get(ctx, collection, id)
		switch {
		case err == nil:
			req.Existing = cur.Fields
		case !errors.Is(err, ErrNotFound):
			return Document{}, err
		}
	}
	if err := g.authorize(ctx, opForMode(mode), JoinPath(collection, id), req); err != nil {
		return Document{}, err
	}
	return g.store.Write(ctx, collection, id, fields, mode)
}

// Listen is unchecked. Notices carry no document data.
func (g *Guarded) Listen(collection string) (<-chan struct{}, func()) {
	return g.store.Listen(collection)
}

func (g *Guarded) Close() error { return nil }

func (g *Guarded) authorize(ctx context.Context, op, path string, req Request) error {
	err := g.policy.Authorize(ctx, req)
	if err == nil {
		return nil
	}
	opErr := &OpError{Op: op, Path: path, Err: err}
	if !errors.Is(err, ErrPermissionDenied) {
		opErr.Err = errors.Join(ErrPermissionDenied, err)
	}
	if hook := DebugHook; hook != nil {
		hook(opErr)
	}
	return opErr
}
