package postgres

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/heartmarshall/tenantkit/internal/domain"
)

// dateKey tags timestamps inside stored JSON so they decode back to
// time.Time.
const dateKey = "$date"

func encode(doc domain.Document) ([]byte, error) {
	return json.Marshal(encodeValue(map[string]any(doc)))
}

func encodeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return map[string]any{dateKey: t.UTC().Format(time.RFC3339Nano)}
	case *time.Time:
		if t == nil {
			return nil
		}
		return encodeValue(*t)
	case domain.Document:
		return encodeValue(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = encodeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = encodeValue(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

func decode(raw []byte) (domain.Document, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	out := make(domain.Document, len(m))
	for k, v := range m {
		out[k] = decodeValue(v)
	}
	return out, nil
}

func decodeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if s, ok := t[dateKey].(string); ok {
				if at, err := time.Parse(time.RFC3339Nano, s); err == nil {
					return at.UTC()
				}
			}
		}
		for k, e := range t {
			t[k] = decodeValue(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = decodeValue(e)
		}
		return t
	default:
		return v
	}
}
