// Package charts defines the live charts served to dashboards. Each chart
// is a filter.Chart: a query plus a pure build step from a full snapshot
// to a payload. The series charts share one aggregation path and differ
// only in their key, value and ordering functions.
package charts

import (
	"slices"
	"sort"
	"time"

	"github.com/nicktill/campuspulse/pkg/aggregate"
	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/filter"
	"github.com/nicktill/campuspulse/pkg/series"
)

// Chart names.
const (
	MessHygieneName     = "mess-hygiene"
	MealTrendsName      = "meal-trends"
	ResponseTimeName    = "response-time"
	LiveAlertsName      = "live-alerts"
	DayAppointmentsName = "day-appointments"
	MyAppointmentsName  = "my-appointments"
	RecentRatingsName   = "recent-ratings"
)

// Registry maps chart names to charts.
type Registry struct {
	charts map[string]filter.Chart
}

// NewRegistry builds every chart with days bucketed in loc. The limits
// cap the live alerts and recent ratings lists.
func NewRegistry(loc *time.Location, alertsLimit, ratingsLimit int) *Registry {
	r := &Registry{charts: make(map[string]filter.Chart)}
	for _, c := range []filter.Chart{
		MessHygiene(loc),
		MealTrends(loc),
		ResponseTime(loc),
		LiveAlerts(alertsLimit),
		DayAppointments(loc),
		MyAppointments(),
		RecentRatings(ratingsLimit),
	} {
		r.charts[c.Name()] = c
	}
	return r
}

// Get returns the chart called name.
func (r *Registry) Get(name string) (filter.Chart, bool) {
	c, ok := r.charts[name]
	return c, ok
}

// Names lists the registered charts alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.charts))
	for n := range r.charts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SeriesChart is a chart whose payload is a series.Series.
type SeriesChart[R any] struct {
	name   string
	gate   authz.Gate
	query  func(filter.Filter) docstore.Query
	decode func(docstore.Document) (R, bool)
	// keep selects records for f. nil keeps everything.
	keep  func(filter.Filter, R) bool
	key   func(R) (aggregate.Key, bool)
	value func(R) (float64, bool)
	round aggregate.Rounding
	order series.Ordering
}

func (c *SeriesChart[R]) Name() string     { return c.name }
func (c *SeriesChart[R]) Gate() authz.Gate { return c.gate }

func (c *SeriesChart[R]) Query(f filter.Filter) docstore.Query { return c.query(f) }

func (c *SeriesChart[R]) Build(f filter.Filter, docs []docstore.Document) any {
	return c.Project(f, docs)
}

// Project aggregates one snapshot into a series.
func (c *SeriesChart[R]) Project(f filter.Filter, docs []docstore.Document) series.Series {
	recs := make([]R, 0, len(docs))
	for _, d := range docs {
		if r, ok := c.decode(d); ok {
			recs = append(recs, r)
		}
	}

	var keep func(R) bool
	if c.keep != nil {
		keep = func(r R) bool { return c.keep(f, r) }
	}
	acc := aggregate.Accumulate(recs, c.key, c.value, keep)
	return series.Project(aggregate.Averages(acc, c.round), c.order)
}

// ListChart is a chart whose payload is a list of decoded records.
type ListChart[R any] struct {
	name   string
	gate   authz.Gate
	query  func(filter.Filter) docstore.Query
	decode func(docstore.Document) (R, bool)
	less   func(a, b R) int
}

func (c *ListChart[R]) Name() string     { return c.name }
func (c *ListChart[R]) Gate() authz.Gate { return c.gate }

func (c *ListChart[R]) Query(f filter.Filter) docstore.Query { return c.query(f) }

func (c *ListChart[R]) Build(f filter.Filter, docs []docstore.Document) any {
	out := make([]R, 0, len(docs))
	for _, d := range docs {
		if r, ok := c.decode(d); ok {
			out = append(out, r)
		}
	}
	if c.less != nil {
		slices.SortStableFunc(out, c.less)
	}
	return out
}
