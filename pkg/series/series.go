// Package series turns grouped averages into chart-ready time series:
// one row per day, sorted by date, with one column per category.
package series

import (
	"maps"
	"slices"
	"sort"

	"github.com/goccy/go-json"

	"github.com/nicktill/campuspulse/pkg/aggregate"
)

// Row is one day of a series. Values holds only the categories that had
// data that day.
type Row struct {
	Day    aggregate.Day
	Values map[string]float64
}

// MarshalJSON flattens the row: {"day":"2025-01-01","label":"Jan 1","A":3}.
func (r Row) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Values)+2)
	for k, v := range r.Values {
		out[k] = v
	}
	out["day"] = r.Day.String()
	out["label"] = r.Day.Label()
	return json.Marshal(out)
}

// Series is a projected chart.
type Series struct {
	// Categories lists every category present in any row, in display order.
	Categories []string `json:"categories"`
	Rows       []Row    `json:"rows"`
}

// Value returns the value of category on day.
func (s Series) Value(day aggregate.Day, category string) (float64, bool) {
	for _, r := range s.Rows {
		if r.Day == day {
			v, ok := r.Values[category]
			return v, ok
		}
	}
	return 0, false
}

// Empty reports whether the series has no rows.
func (s Series) Empty() bool {
	return len(s.Rows) == 0
}

// Ordering arranges the distinct categories for display.
type Ordering func(categories []string) []string

// Alphabetical sorts categories by name.
func Alphabetical(categories []string) []string {
	out := slices.Clone(categories)
	sort.Strings(out)
	return out
}

// Canonical orders the listed categories first, in the given order, then
// any others alphabetically. Listed categories with no data are left out.
func Canonical(order ...string) Ordering {
	rank := make(map[string]int, len(order))
	for i, c := range order {
		rank[c] = i
	}
	return func(categories []string) []string {
		out := slices.Clone(categories)
		sort.Slice(out, func(i, j int) bool {
			ri, iok := rank[out[i]]
			rj, jok := rank[out[j]]
			switch {
			case iok && jok:
				return ri < rj
			case iok != jok:
				return iok
			}
			return out[i] < out[j]
		})
		return out
	}
}

// Project builds a series from per-(day, category) averages. Rows are
// sorted by date; absent categories are omitted rather than zero-filled.
func Project(avgs map[aggregate.Key]float64, order Ordering) Series {
	if order == nil {
		order = Alphabetical
	}

	byDay := make(map[aggregate.Day]map[string]float64)
	cats := make(map[string]struct{})
	for k, v := range avgs {
		if byDay[k.Day] == nil {
			byDay[k.Day] = make(map[string]float64)
		}
		byDay[k.Day][k.Category] = v
		cats[k.Category] = struct{}{}
	}

	days := slices.Collect(maps.Keys(byDay))
	slices.SortFunc(days, aggregate.Day.Compare)

	s := Series{
		Categories: order(slices.Collect(maps.Keys(cats))),
		Rows:       make([]Row, 0, len(days)),
	}
	if s.Categories == nil {
		s.Categories = []string{}
	}
	for _, d := range days {
		s.Rows = append(s.Rows, Row{Day: d, Values: byDay[d]})
	}
	return s
}
