// Package authz computes the caller's authorization context once per
// session and checks store access against a casbin RBAC policy.
//
// Three roles exist, each inheriting the one before it:
//
//	anonymous  no token
//	student    any verified token
//	admin      verified token whose uid has a roles_admin document
//
// Screens do not read the privilege registry themselves. They ask the
// Session for a gate and get back one of three answers: unknown, denied or
// granted.
package authz

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/records"
)

// Roles, lowest privilege first.
const (
	RoleAnonymous = "anonymous"
	RoleStudent   = "student"
	RoleAdmin     = "admin"
)

// Access is the answer to "may this caller see this?".
type Access int

const (
	// AccessUnknown means the privilege lookup has not finished.
	AccessUnknown Access = iota
	AccessDenied
	AccessGranted
)

func (a Access) String() string {
	switch a {
	case AccessDenied:
		return "denied"
	case AccessGranted:
		return "granted"
	default:
		return "unknown"
	}
}

// Gate is the privilege a screen requires.
type Gate int

const (
	GateNone Gate = iota
	GateSignedIn
	GateAdmin
)

func (g Gate) String() string {
	switch g {
	case GateSignedIn:
		return "signed_in"
	case GateAdmin:
		return "admin"
	default:
		return "none"
	}
}

// Session is the resolved authorization context of one caller.
type Session struct {
	Subject  docstore.Subject
	Resolved time.Time
}

// Anonymous returns the session of a caller without a token.
func Anonymous() *Session {
	return &Session{Subject: docstore.Subject{Role: RoleAnonymous}}
}

// Access answers gate for this session. A nil session has not been
// resolved yet, so only GateNone is granted.
func (s *Session) Access(g Gate) Access {
	if g == GateNone {
		return AccessGranted
	}
	if s == nil {
		return AccessUnknown
	}
	switch g {
	case GateSignedIn:
		if s.Subject.ID != "" {
			return AccessGranted
		}
	case GateAdmin:
		if s.Subject.Role == RoleAdmin {
			return AccessGranted
		}
	}
	return AccessDenied
}

// UID returns the caller id, empty for anonymous callers.
func (s *Session) UID() string {
	if s == nil {
		return ""
	}
	return s.Subject.ID
}

// IsAdmin reports whether the session holds the admin role.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Subject.Role == RoleAdmin
}

type sessionKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session attached to ctx, or nil.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

// Resolver looks up a caller's role in the privilege registry. Results are
// cached for ttl and concurrent lookups for one uid share a single read.
type Resolver struct {
	store docstore.Store
	ttl   time.Duration
	now   func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]*Session
}

// NewResolver reads roles from store, which must not be access-checked.
// A zero ttl disables caching.
func NewResolver(store docstore.Store, ttl time.Duration) *Resolver {
	return &Resolver{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]*Session),
	}
}

// Resolve returns the session for uid. An empty uid is anonymous and
// never touches the store. A failed lookup returns an error and leaves
// the caller's access unknown.
func (r *Resolver) Resolve(ctx context.Context, uid string) (*Session, error) {
	if uid == "" {
		return Anonymous(), nil
	}
	if s := r.cached(uid); s != nil {
		return s, nil
	}

	v, err, _ := r.group.Do(uid, func() (interface{}, error) {
		if s := r.cached(uid); s != nil {
			return s, nil
		}
		role := RoleStudent
		_, err := r.store.Get(ctx, records.AdminRolesCollection, uid)
		switch {
		case err == nil:
			role = RoleAdmin
		case errors.Is(err, docstore.ErrNotFound):
		default:
			return nil, err
		}

		s := &Session{Subject: docstore.Subject{ID: uid, Role: role}, Resolved: r.now()}
		if r.ttl > 0 {
			r.mu.Lock()
			r.cache[uid] = s
			r.mu.Unlock()
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Forget drops the cached session for uid.
func (r *Resolver) Forget(uid string) {
	r.mu.Lock()
	delete(r.cache, uid)
	r.mu.Unlock()
}

func (r *Resolver) cached(uid string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.cache[uid]
	if !ok {
		return nil
	}
	if r.now().Sub(s.Resolved) >= r.ttl {
		delete(r.cache, uid)
		return nil
	}
	return s
}
