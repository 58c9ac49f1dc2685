// Package stream maintains live query subscriptions over a docstore.Store.
//
// A subscription re-reads its query whenever the collection changes and
// delivers the complete matching set each time. Consumers never see
// deltas. Delivery is latest-wins: if a consumer falls behind, an unread
// snapshot is replaced by the newer one.
package stream

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/campuspulse/pkg/config"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/logging"
	"github.com/nicktill/campuspulse/pkg/metrics"
)

// DefaultRetryInterval is how long a subscription waits before re-reading
// after a transient failure when no change notice arrives first.
const DefaultRetryInterval = 2 * time.Second

// Event is one delivery on a subscription.
type Event struct {
	Generation uint64
	// Docs is the full result set. It is nil when Err is set.
	Docs []docstore.Document
	Err  error
	At   time.Time
}

// Terminal reports whether no further events follow this one.
func (e Event) Terminal() bool {
	return e.Err != nil && (docstore.IsPermissionDenied(e.Err) || errors.Is(e.Err, docstore.ErrClosed))
}

// Manager opens subscriptions against one store and keeps at most one
// active subscription per distinct query.
type Manager struct {
	store docstore.Store
	retry time.Duration

	mu     sync.Mutex
	active map[uint64]*Subscription
	gen    atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryInterval overrides DefaultRetryInterval.
func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) { m.retry = d }
}

// NewManager creates a manager reading from store.
func NewManager(store docstore.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		retry:  DefaultRetryInterval,
		active: make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe opens a live subscription. An active subscription for an
// identical query is cancelled first. The subscription also ends when ctx
// is done.
func (m *Manager) Subscribe(ctx context.Context, q docstore.Query) (*Subscription, error) {
	if q.Collection == "" {
		return nil, &docstore.OpError{Op: docstore.OpList, Path: q.Collection, Err: docstore.ErrInvalidArgument}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	key := xxhash.Sum64String(q.Key())
	s := &Subscription{
		mgr:    m,
		key:    key,
		query:  q,
		gen:    m.gen.Add(1),
		events: make(chan Event, config.SnapshotBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	m.mu.Lock()
	prev := m.active[key]
	m.active[key] = s
	m.mu.Unlock()

	if prev != nil {
		logging.Debug().
			Str("query", q.Key()).
			Uint64("replaced", prev.gen).
			Uint64("generation", s.gen).
			Msg("replacing subscription")
		prev.Cancel()
	}

	metrics.SubscriptionsActive.Inc()
	go s.run(subCtx)
	return s, nil
}

// Active returns the number of open subscriptions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close cancels every open subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.active))
	for _, s := range m.active {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}

func (m *Manager) release(s *Subscription) {
	m.mu.Lock()
	if m.active[s.key] == s {
		delete(m.active, s.key)
	}
	m.mu.Unlock()
}

// Subscription is a cancellable handle on a live query.
type Subscription struct {
	mgr    *Manager
	key    uint64
	query  docstore.Query
	gen    uint64
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
}

// Generation is unique per manager and increases with every Subscribe.
func (s *Subscription) Generation() uint64 { return s.gen }

// Query returns the subscribed query.
func (s *Subscription) Query() docstore.Query { return s.query }

// Events returns the delivery channel. It is closed when the subscription
// ends, after a terminal event or cancellation.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed once the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Snapshots yields each delivered result set, or the error that replaced
// it, until the subscription ends.
func (s *Subscription) Snapshots() iter.Seq2[[]docstore.Document, error] {
	return func(yield func([]docstore.Document, error) bool) {
		for ev := range s.events {
			if !yield(ev.Docs, ev.Err) {
				return
			}
		}
	}
}

// Cancel stops delivery and releases the store listener. It is safe to
// call more than once and from any goroutine. Once Cancel returns no
// further event is readable from Events.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		for range s.events {
			metrics.StaleSnapshotsDropped.Inc()
		}
	})
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)
	defer metrics.SubscriptionsActive.Dec()
	defer s.mgr.release(s)

	collection := s.query.Collection
	notices, stop := s.mgr.store.Listen(collection)
	defer stop()

	var retry *time.Timer
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()

	for {
		docs, err := s.mgr.store.List(ctx, s.query)
		if ctx.Err() != nil {
			return
		}

		var retryC <-chan time.Time
		switch {
		case err == nil:
			metrics.SnapshotsDelivered.WithLabelValues(collection).Inc()
			s.deliver(Event{Generation: s.gen, Docs: docs, At: time.Now()})

		case docstore.IsPermissionDenied(err):
			metrics.SubscriptionErrors.WithLabelValues(collection, "permission").Inc()
			s.deliver(Event{Generation: s.gen, Err: err, At: time.Now()})
			return

		default:
			metrics.SubscriptionErrors.WithLabelValues(collection, "transient").Inc()
			logging.Warn().Err(err).Str("collection", collection).Uint64("generation", s.gen).Msg("subscription read failed")
			s.deliver(Event{Generation: s.gen, Err: err, At: time.Now()})
			if retry == nil {
				retry = time.NewTimer(s.mgr.retry)
			} else {
				retry.Reset(s.mgr.retry)
			}
			retryC = retry.C
		}

		select {
		case <-ctx.Done():
			return
		case _, ok := <-notices:
			if !ok {
				s.deliver(Event{Generation: s.gen, Err: docstore.ErrClosed, At: time.Now()})
				return
			}
		case <-retryC:
		}
	}
}

// deliver never blocks. A full buffer holds a snapshot nobody has read
// yet; it is replaced since every snapshot is the full result set.
func (s *Subscription) deliver(ev Event) {
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		select {
		case <-s.events:
			metrics.SnapshotsSuperseded.Inc()
		default:
		}
	}
}
