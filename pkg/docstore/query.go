package docstore

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Operator is a predicate comparison.
type Operator string

const (
	Eq  Operator = "=="
	Ne  Operator = "!="
	Lt  Operator = "<"
	Lte Operator = "<="
	Gt  Operator = ">"
	Gte Operator = ">="
)

// Predicate compares one field against a value.
type Predicate struct {
	Field string
	Op    Operator
	Value any
}

// Where is shorthand for building a Predicate.
func Where(field string, op Operator, value any) Predicate {
	return Predicate{Field: field, Op: op, Value: value}
}

// Query selects documents from one collection. Predicates are ANDed.
// Without OrderBy results are ordered by document id.
type Query struct {
	Collection string
	Where      []Predicate
	OrderBy    string
	Desc       bool
	Limit      int
}

// Key renders the query canonically. Two queries with the same key select
// the same documents in the same order.
func (q Query) Key() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, p := range q.Where {
		fmt.Fprintf(&b, "|%s%s%s", p.Field, p.Op, formatValue(p.Value))
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		fmt.Fprintf(&b, "|order:%s:%s", q.OrderBy, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, "|limit:%d", q.Limit)
	}
	return b.String()
}

func formatValue(v any) string {
	switch t := v.(type) {
	case time.Time:
		return "t" + t.UTC().Format(time.RFC3339Nano)
	case string:
		return "s" + t
	}
	if n, ok := toFloat(v); ok {
		return fmt.Sprintf("n%g", n)
	}
	return fmt.Sprintf("%T%v", v, v)
}

// Matches reports whether the document satisfies every predicate.
// A missing field never matches.
func (q Query) Matches(d Document) bool {
	if d.Collection != q.Collection {
		return false
	}
	for _, p := range q.Where {
		got := lookup(d.Fields, p.Field)
		if got == nil {
			return false
		}
		c, ok := compare(got, p.Value)
		if !ok {
			// Mismatched types only satisfy !=.
			if p.Op == Ne {
				continue
			}
			return false
		}
		if !p.Op.holds(c) {
			return false
		}
	}
	return true
}

func (op Operator) holds(c int) bool {
	switch op {
	case Eq:
		return c == 0
	case Ne:
		return c != 0
	case Lt:
		return c < 0
	case Lte:
		return c <= 0
	case Gt:
		return c > 0
	case Gte:
		return c >= 0
	}
	return false
}

// Apply filters, orders and limits docs.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Matches(d) {
			out = append(out, d)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy == "" {
			return out[i].ID < out[j].ID
		}
		a := lookup(out[i].Fields, q.OrderBy)
		b := lookup(out[j].Fields, q.OrderBy)
		c, ok := compare(a, b)
		if !ok {
			// Documents missing the order field sort first, like an ascending null.
			c = presence(a) - presence(b)
		}
		if c == 0 {
			return out[i].ID < out[j].ID
		}
		if q.Desc {
			return c > 0
		}
		return c < 0
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func presence(v any) int {
	if v == nil {
		return 0
	}
	return 1
}

// compare orders two values of the same kind.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}

	x, ok := toFloat(a)
	if !ok {
		return 0, false
	}
	y, ok := toFloat(b)
	if !ok {
		return 0, false
	}
	switch {
	case x < y:
		return -1, true
	case x > y:
		return 1, true
	}
	return 0, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
