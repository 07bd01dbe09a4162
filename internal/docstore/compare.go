package docstore

import (
	"reflect"
	"strings"
	"time"

	"github.com/heartmarshall/tenantkit/internal/domain"
)

// TimeLayout is the fixed-width UTC layout used when timestamps are stored
// as text. It sorts lexically.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// ToFloat converts any Go numeric type.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
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
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// ToTime converts time values and timestamp strings.
func ToTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		for _, layout := range []string{TimeLayout, time.RFC3339Nano} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// Compare orders two scalar values of compatible kinds. ok is false when
// the kinds cannot be ordered against each other.
func Compare(a, b any) (int, bool) {
	if x, ok := ToFloat(a); ok {
		y, ok := ToFloat(b)
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
	if x, ok := a.(time.Time); ok {
		y, ok := ToTime(b)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	if y, ok := b.(time.Time); ok {
		x, ok := ToTime(a)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	if x, ok := a.(string); ok {
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	if x, ok := a.(bool); ok {
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
	}
	return 0, false
}

// Equal compares values with numeric and time normalization, recursing into
// maps and arrays.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	if am, ok := domain.AsMap(a); ok {
		bm, ok := domain.AsMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			w, ok := bm[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	if as, ok := domain.AsSlice(a); ok {
		bs, ok := domain.AsSlice(b)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// typeRank orders values of different kinds in sorts: missing, nil, numbers,
// strings, objects, arrays, bools, dates.
func typeRank(v any, present bool) int {
	if !present {
		return 0
	}
	if v == nil {
		return 1
	}
	if _, ok := ToFloat(v); ok {
		return 2
	}
	switch v.(type) {
	case string:
		return 3
	case bool:
		return 6
	case time.Time:
		return 7
	}
	if _, ok := domain.AsMap(v); ok {
		return 4
	}
	if _, ok := domain.AsSlice(v); ok {
		return 5
	}
	return 8
}
