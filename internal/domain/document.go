package domain

// Document is a schemaless record as stored in a collection. The "_id" key
// holds the canonical id string.
type Document map[string]any

// Conditions is a structured predicate map using the Mongo operator
// vocabulary ($eq $ne $in $nin $gt $gte $lt $lte $exists $regex $options
// $not $or $and $nor $text).
type Conditions map[string]any

// ID returns the document id, or "" if unset.
func (d Document) ID() string {
	id, _ := d["_id"].(string)
	return id
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneMap(d))
}

// Clone returns a deep copy of the conditions.
func (c Conditions) Clone() Conditions {
	if c == nil {
		return Conditions{}
	}
	return Conditions(cloneMap(c))
}

// AsMap unwraps the map-shaped types used for documents and conditions.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	case Conditions:
		return m, true
	}
	return nil, false
}

// AsSlice unwraps the slice-shaped values found in documents.
func AsSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	case []Document:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	}
	return nil, false
}

// CloneValue deep-copies maps and slices nested in v. Leaf values are
// returned as-is.
func CloneValue(v any) any {
	if m, ok := AsMap(v); ok {
		return cloneMap(m)
	}
	if s, ok := AsSlice(v); ok {
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = CloneValue(x)
		}
		return out
	}
	return v
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}
