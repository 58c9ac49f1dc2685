package docstore

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Fields is the loosely typed content of a document.
type Fields map[string]any

// Document is one stored record.
type Document struct {
	ID         string
	Collection string
	Fields     Fields
	UpdateTime time.Time
}

// Path returns collection/id.
func (d Document) Path() string {
	return JoinPath(d.Collection, d.ID)
}

// String returns a string field.
func (d Document) String(field string) (string, bool) {
	v, ok := lookup(d.Fields, field).(string)
	return v, ok
}

// Number returns a numeric field.
func (d Document) Number(field string) (float64, bool) {
	return toFloat(lookup(d.Fields, field))
}

// Bool returns a boolean field.
func (d Document) Bool(field string) (bool, bool) {
	v, ok := lookup(d.Fields, field).(bool)
	return v, ok
}

// Time returns a timestamp field.
func (d Document) Time(field string) (time.Time, bool) {
	v, ok := lookup(d.Fields, field).(time.Time)
	return v, ok
}

// Has reports whether the field is present and non-nil.
func (d Document) Has(field string) bool {
	return lookup(d.Fields, field) != nil
}

// lookup resolves dotted paths into nested maps.
func lookup(f Fields, field string) any {
	var cur any = map[string]any(f)
	for _, part := range strings.Split(field, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Fields:
		return m, true
	}
	return nil, false
}

// JoinPath builds a slash separated document path.
func JoinPath(parts ...string) string {
	return strings.Join(parts, "/")
}

type serverTimestamp struct{}

// ServerTimestamp is replaced with the write time when stored.
var ServerTimestamp any = serverTimestamp{}

// Normalize converts field values to their stored representation: every
// integer becomes float64, timestamps are UTC, nested maps are copied.
func Normalize(f Fields, now time.Time) (Fields, error) {
	out := make(Fields, len(f))
	for k, v := range f {
		nv, err := normalizeValue(v, now)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v any, now time.Time) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t, nil
	case serverTimestamp:
		return now.UTC(), nil
	case time.Time:
		return t.UTC(), nil
	case map[string]any:
		m, err := Normalize(Fields(t), now)
		return map[string]any(m), err
	case Fields:
		m, err := Normalize(t, now)
		return map[string]any(m), err
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			nv, err := normalizeValue(item, now)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	}
	if n, ok := toFloat(v); ok {
		return n, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// WriteMode selects create, merge or update semantics.
type WriteMode int

const (
	// Create fails with ErrAlreadyExists when the document exists.
	Create WriteMode = iota
	// Merge upserts field by field, recursing into nested maps.
	Merge
	// Update merges into an existing document and fails with ErrNotFound otherwise.
	Update
)

// ApplyWrite computes the stored document for a write. existing is nil
// when there is no current document.
func ApplyWrite(existing *Document, collection, id string, fields Fields, mode WriteMode, now time.Time) (Document, error) {
	if collection == "" || id == "" {
		return Document{}, fmt.Errorf("%w: collection and id must be non-empty", ErrInvalidArgument)
	}

	norm, err := Normalize(fields, now)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	switch mode {
	case Create:
		if existing != nil {
			return Document{}, ErrAlreadyExists
		}
	case Update:
		if existing == nil {
			return Document{}, ErrNotFound
		}
	}

	doc := Document{ID: id, Collection: collection, UpdateTime: now.UTC()}
	if existing != nil && mode != Create {
		doc.Fields = mergeFields(CloneFields(existing.Fields), norm)
	} else {
		doc.Fields = norm
	}
	return doc, nil
}

func mergeFields(dst, src Fields) Fields {
	for k, v := range src {
		if sm, ok := asMap(v); ok {
			if dm, ok := asMap(dst[k]); ok {
				dst[k] = map[string]any(mergeFields(Fields(dm), Fields(sm)))
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

// CloneFields deep copies nested maps and slices.
func CloneFields(f Fields) Fields {
	if f == nil {
		return nil
	}
	out := maps.Clone(f)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(CloneFields(Fields(t)))
	case Fields:
		return CloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}

// Clone returns a copy safe to hand to another goroutine.
func (d Document) Clone() Document {
	d.Fields = CloneFields(d.Fields)
	return d
}
