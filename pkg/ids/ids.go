// Package ids normalizes the identifier shapes found in documents (raw hex
// strings, native ObjectIDs, sub-documents carrying an _id, arrays of any of
// these) and compares them.
package ids

import (
	"reflect"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// identified is implemented by entity-like values.
type identified interface {
	ID() string
}

// New returns a fresh native id in canonical string form.
func New() string {
	return primitive.NewObjectID().Hex()
}

// Of returns the canonical string id of v, or "" when none can be resolved.
// Arrays are not accepted here; use OfAll.
func Of(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case primitive.ObjectID:
		if x.IsZero() {
			return ""
		}
		return x.Hex()
	case *primitive.ObjectID:
		if x == nil {
			return ""
		}
		return Of(*x)
	case identified:
		return x.ID()
	case map[string]any:
		return fromMap(x)
	}
	if m, ok := asMap(v); ok {
		return fromMap(m)
	}
	return ""
}

// OfAll maps Of over an array value. A scalar yields a one-element slice,
// nil yields nil.
func OfAll(v any) []string {
	if v == nil {
		return nil
	}
	if s, ok := asSlice(v); ok {
		out := make([]string, len(s))
		for i, x := range s {
			out[i] = Of(x)
		}
		return out
	}
	return []string{Of(v)}
}

func fromMap(m map[string]any) string {
	if id, ok := m["_id"]; ok {
		return Of(id)
	}
	if id, ok := m["id"]; ok {
		return Of(id)
	}
	return ""
}

// IsValid reports whether v is a native id. Arrays must be entirely valid;
// an empty array is valid.
func IsValid(v any) bool {
	if s, ok := asSlice(v); ok {
		for _, x := range s {
			if !IsValid(x) {
				return false
			}
		}
		return true
	}
	switch x := v.(type) {
	case string:
		return primitive.IsValidObjectID(x)
	case primitive.ObjectID:
		return !x.IsZero()
	}
	return false
}

// IsIDLike reports whether v is a valid id or a sub-document carrying one.
func IsIDLike(v any) bool {
	if m, ok := asMap(v); ok {
		return IsValid(fromMap(m))
	}
	return IsValid(v)
}

// Equal compares ids. Scalars are compared through Of. Arrays must have the
// same length and match positionally, or as sets when orderIndependent.
func Equal(a, b any, orderIndependent bool) bool {
	as, aArr := asSlice(a)
	bs, bArr := asSlice(b)
	if aArr != bArr {
		return false
	}
	if !aArr {
		return Of(a) == Of(b)
	}
	if len(as) != len(bs) {
		return false
	}
	x, y := OfAll(as), OfAll(bs)
	if orderIndependent {
		sort.Strings(x)
		sort.Strings(y)
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// Contains reports whether list holds id.
func Contains(list any, id any) bool {
	want := Of(id)
	for _, x := range OfAll(list) {
		if x == want {
			return true
		}
	}
	return false
}

// Filter returns the elements of list whose id differs from id.
func Filter(list []any, id any) []any {
	drop := Of(id)
	out := make([]any, 0, len(list))
	for _, x := range list {
		if Of(x) != drop {
			out = append(out, x)
		}
	}
	return out
}

// TryID returns the id of v when it is id-convertible, else v unchanged.
// Arrays are converted elementwise.
func TryID(v any) any {
	if s, ok := asSlice(v); ok {
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = TryID(x)
		}
		return out
	}
	if IsIDLike(v) {
		return Of(v)
	}
	return v
}

// Flatten collapses sub-documents carrying an _id into that id, recursively
// through arrays.
func Flatten(v any) any {
	if s, ok := asSlice(v); ok {
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = Flatten(x)
		}
		return out
	}
	if m, ok := asMap(v); ok {
		if _, has := m["_id"]; has {
			return Of(m["_id"])
		}
		out := make(map[string]any, len(m))
		for k, x := range m {
			out[k] = Flatten(x)
		}
		return out
	}
	if oid, ok := v.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return v
}

// StripIDs returns a copy of v with _id removed from every sub-document.
func StripIDs(v any) any {
	if s, ok := asSlice(v); ok {
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = StripIDs(x)
		}
		return out
	}
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, x := range m {
			if k == "_id" {
				continue
			}
			out[k] = StripIDs(x)
		}
		return out
	}
	return v
}

// asMap accepts map[string]any and any named map type with string keys.
func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	if rv.Type().ConvertibleTo(mapType) {
		return rv.Convert(mapType).Interface().(map[string]any), true
	}
	return nil, false
}

// asSlice accepts []any and any other slice type except []byte.
func asSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

var mapType = reflect.TypeOf(map[string]any{})
