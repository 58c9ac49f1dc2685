package filter

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/config"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/logging"
	"github.com/nicktill/campuspulse/pkg/metrics"
	"github.com/nicktill/campuspulse/pkg/stream"
)

type commandKind int

const (
	cmdSetFilter commandKind = iota
	cmdResolveAccess
	cmdClose
)

type command struct {
	kind   commandKind
	filter Filter
	access authz.Access
}

type tagged struct {
	gen uint64
	ev  stream.Event
}

// Controller runs one chart. Create it with New and start it with Run.
type Controller struct {
	chart  Chart
	source Source
	onView func(View)

	cmds      chan command
	snaps     chan tagged
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the Run goroutine.
	state   State
	filter  Filter
	access  authz.Access
	sub     Handle
	stop    chan struct{}
	gen     uint64
	payload any
	err     error
}

// New creates a controller for chart starting at filter. onView is called
// from the controller goroutine and must not block.
//
// Access starts unknown unless the chart is ungated.
func New(chart Chart, source Source, initial Filter, onView func(View)) *Controller {
	if onView == nil {
		onView = func(View) {}
	}
	var unresolved *authz.Session
	return &Controller{
		chart:  chart,
		source: source,
		onView: onView,
		cmds:   make(chan command, config.CommandBuffer),
		snaps:  make(chan tagged, config.SnapshotBuffer),
		done:   make(chan struct{}),
		filter: initial,
		access: unresolved.Access(chart.Gate()),
	}
}

// SetFilter selects a new filter. A filter equal to the current one is
// ignored unless the chart is Idle, where it retries a failed subscribe.
func (c *Controller) SetFilter(f Filter) {
	c.send(command{kind: cmdSetFilter, filter: f})
}

// ResolveAccess delivers the answer of the privilege lookup.
func (c *Controller) ResolveAccess(a authz.Access) {
	c.send(command{kind: cmdResolveAccess, access: a})
}

// Close cancels the subscription and stops Run. Safe to call more than once.
func (c *Controller) Close() {
	c.send(command{kind: cmdClose})
}

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) send(cmd command) {
	select {
	case c.cmds <- cmd:
	case <-c.done:
	}
}

// Run processes commands and snapshots until Close or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	defer c.closeOnce.Do(func() { close(c.done) })

	c.start(ctx)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return

		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdClose:
				c.shutdown()
				return
			case cmdSetFilter:
				c.setFilter(ctx, cmd.filter)
			case cmdResolveAccess:
				c.resolveAccess(ctx, cmd.access)
			}

		case t := <-c.snaps:
			c.handle(t)
		}
	}
}

// start subscribes if access is already granted, otherwise it publishes
// the gated state without issuing any query.
func (c *Controller) start(ctx context.Context) {
	switch c.access {
	case authz.AccessGranted:
		c.subscribe(ctx)
		return
	case authz.AccessDenied:
		c.state = Denied
	default:
		c.state = Idle
	}
	c.emit()
}

func (c *Controller) setFilter(ctx context.Context, f Filter) {
	if f == c.filter && c.state != Idle {
		return
	}
	c.filter = f
	if c.access != authz.AccessGranted {
		// Keep the selection for when access resolves.
		c.emit()
		return
	}
	c.subscribe(ctx)
}

func (c *Controller) resolveAccess(ctx context.Context, a authz.Access) {
	if a == c.access && c.state != Idle {
		return
	}
	c.access = a
	switch a {
	case authz.AccessGranted:
		c.subscribe(ctx)
	case authz.AccessDenied:
		c.cancel()
		c.payload, c.err = nil, nil
		c.state = Denied
		c.emit()
	default:
		c.cancel()
		c.payload, c.err = nil, nil
		c.state = Idle
		c.emit()
	}
}

// subscribe replaces the current subscription with one for c.filter.
func (c *Controller) subscribe(ctx context.Context) {
	c.cancel()
	c.payload, c.err = nil, nil

	q := c.chart.Query(c.filter)
	h, err := c.source.Subscribe(ctx, q)
	if err != nil {
		logging.Warn().Err(err).Str("chart", c.chart.Name()).Msg("subscribe failed")
		c.err = err
		c.state = Idle
		c.emit()
		return
	}

	c.sub = h
	c.gen = h.Generation()
	c.stop = make(chan struct{})
	c.state = Subscribing
	c.emit()

	go c.forward(h, c.stop)
}

// forward tags events from h and hands them to the Run goroutine.
func (c *Controller) forward(h Handle, stop <-chan struct{}) {
	gen := h.Generation()
	for ev := range h.Events() {
		select {
		case c.snaps <- tagged{gen: gen, ev: ev}:
		case <-stop:
			return
		case <-c.done:
			return
		}
	}
}

func (c *Controller) cancel() {
	if c.sub == nil {
		return
	}
	close(c.stop)
	c.sub.Cancel()
	c.sub, c.stop, c.gen = nil, nil, 0
}

func (c *Controller) handle(t tagged) {
	if c.sub == nil || t.gen != c.gen {
		metrics.StaleSnapshotsDropped.Inc()
		logging.Debug().
			Str("chart", c.chart.Name()).
			Uint64("generation", t.gen).
			Uint64("current", c.gen).
			Msg("dropped stale snapshot")
		return
	}

	ev := t.ev
	switch {
	case ev.Err == nil:
		c.payload = c.chart.Build(c.filter, ev.Docs)
		c.err = nil
		c.state = Ready
	case docstore.IsPermissionDenied(ev.Err):
		c.cancel()
		c.payload = nil
		c.err = ev.Err
		c.state = Denied
	default:
		// Keep the last good payload.
		c.err = ev.Err
	}
	c.emit()
}

func (c *Controller) shutdown() {
	c.cancel()
	c.state = Closed
	c.emit()
}

func (c *Controller) emit() {
	c.onView(View{
		Chart:      c.chart.Name(),
		State:      c.state,
		Filter:     c.filter,
		Access:     c.access,
		Payload:    c.payload,
		Err:        c.err,
		Generation: c.gen,
		At:         time.Now(),
	})
}
