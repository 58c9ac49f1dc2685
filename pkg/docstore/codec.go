package docstore

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// timeTag marks an encoded timestamp so it decodes back to time.Time
// rather than a string.
const timeTag = "$time"

type storedDocument struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Fields     map[string]any `json:"fields"`
	UpdateTime time.Time      `json:"update_time"`
}

// EncodeDocument serializes a document for a byte-oriented backend.
func EncodeDocument(d Document) ([]byte, error) {
	return json.Marshal(storedDocument{
		ID:         d.ID,
		Collection: d.Collection,
		Fields:     encodeMap(d.Fields),
		UpdateTime: d.UpdateTime,
	})
}

// DecodeDocument reverses EncodeDocument.
func DecodeDocument(data []byte) (Document, error) {
	var sd storedDocument
	if err := json.Unmarshal(data, &sd); err != nil {
		return Document{}, fmt.Errorf("failed to decode document: %w", err)
	}
	fields, err := decodeMap(sd.Fields)
	if err != nil {
		return Document{}, fmt.Errorf("failed to decode %s/%s: %w", sd.Collection, sd.ID, err)
	}
	return Document{
		ID:         sd.ID,
		Collection: sd.Collection,
		Fields:     fields,
		UpdateTime: sd.UpdateTime,
	}, nil
}

func encodeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = encodeValue(v)
	}
	return out
}

func encodeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return map[string]any{timeTag: t.UTC().Format(time.RFC3339Nano)}
	case map[string]any:
		return encodeMap(t)
	case Fields:
		return encodeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = encodeValue(item)
		}
		return out
	}
	return v
}

func decodeMap(m map[string]any) (Fields, error) {
	out := make(Fields, len(m))
	for k, v := range m {
		dv, err := decodeValue(v)
		if err != nil {
			return nil, err
		}
		out[k] = dv
	}
	return out, nil
}

func decodeValue(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if raw, ok := t[timeTag].(string); ok && len(t) == 1 {
			ts, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return nil, err
			}
			return ts, nil
		}
		m, err := decodeMap(t)
		return map[string]any(m), err
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			dv, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	}
	return v, nil
}
