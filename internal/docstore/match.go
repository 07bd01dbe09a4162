package docstore

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/heartmarshall/tenantkit/internal/domain"
)

// Lookup resolves a dotted path in doc. Arrays along the path are not
// traversed.
func Lookup(doc map[string]any, path string) (any, bool) {
	cur := any(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := domain.AsMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Match reports whether doc satisfies cond. Unknown operators are an error.
func Match(doc map[string]any, cond domain.Conditions) (bool, error) {
	return matchMap(doc, cond)
}

// Matcher tests documents against a fixed condition set, failing fast on
// malformed conditions.
type Matcher struct {
	cond domain.Conditions
}

// NewMatcher validates cond. The error joins every problem found.
func NewMatcher(cond domain.Conditions) (*Matcher, error) {
	if err := Validate(cond); err != nil {
		return nil, err
	}
	return &Matcher{cond: cond}, nil
}

// Validate walks the whole of cond, including every logical clause, and
// reports all unsupported operators and malformed arguments at once.
func Validate(cond domain.Conditions) error {
	return errors.Join(validateMap(cond)...)
}

func validateMap(cond map[string]any) []error {
	var errs []error
	for _, key := range sortedKeys(cond) {
		want := cond[key]
		switch key {
		case "$and", "$or", "$nor":
			clauses, ok := domain.AsSlice(want)
			if !ok {
				errs = append(errs, fmt.Errorf("%s expects an array", key))
				continue
			}
			for _, c := range clauses {
				m, ok := domain.AsMap(c)
				if !ok {
					errs = append(errs, fmt.Errorf("%s clause must be an object", key))
					continue
				}
				errs = append(errs, validateMap(m)...)
			}
			continue
		case "$text":
			if _, ok := domain.AsMap(want); !ok {
				errs = append(errs, fmt.Errorf("$text expects an object"))
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			errs = append(errs, fmt.Errorf("unknown top-level operator %s", key))
			continue
		}
		if ops, ok := domain.AsMap(want); ok && isOperatorMap(ops) {
			errs = append(errs, validateOperators(key, ops)...)
		}
	}
	return errs
}

func validateOperators(field string, ops map[string]any) []error {
	var errs []error
	for _, op := range sortedKeys(ops) {
		arg := ops[op]
		switch op {
		case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$exists", "$options", "$size":
		case "$in", "$nin":
			if _, ok := domain.AsSlice(arg); !ok {
				errs = append(errs, fmt.Errorf("%s: %s expects an array", field, op))
			}
		case "$regex":
			pattern, ok := arg.(string)
			if !ok {
				errs = append(errs, fmt.Errorf("%s: $regex expects a string", field))
				continue
			}
			opts, _ := ops["$options"].(string)
			if _, err := compileRegex(pattern, opts); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", field, err))
			}
		case "$not":
			sub, ok := domain.AsMap(arg)
			if !ok {
				errs = append(errs, fmt.Errorf("%s: $not expects an object", field))
				continue
			}
			errs = append(errs, validateOperators(field, sub)...)
		default:
			errs = append(errs, fmt.Errorf("%s: unknown operator %s", field, op))
		}
	}
	return errs
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Match reports whether doc satisfies the conditions.
func (m *Matcher) Match(doc map[string]any) bool {
	ok, _ := matchMap(doc, m.cond)
	return ok
}

func matchMap(doc map[string]any, cond map[string]any) (bool, error) {
	for key, want := range cond {
		ok, err := matchKey(doc, key, want)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchKey(doc map[string]any, key string, want any) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		clauses, ok := domain.AsSlice(want)
		if !ok {
			return false, fmt.Errorf("%s expects an array", key)
		}
		return matchLogical(doc, key, clauses)
	case "$text":
		opts, ok := domain.AsMap(want)
		if !ok {
			return false, fmt.Errorf("$text expects an object")
		}
		search, _ := opts["$search"].(string)
		return matchText(doc, search), nil
	}
	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("unknown top-level operator %s", key)
	}

	got, present := Lookup(doc, key)
	if ops, ok := domain.AsMap(want); ok && isOperatorMap(ops) {
		return matchOperators(got, present, ops)
	}
	return matchEq(got, present, want), nil
}

func matchLogical(doc map[string]any, op string, clauses []any) (bool, error) {
	if op == "$or" && len(clauses) == 0 {
		return false, nil
	}
	for _, c := range clauses {
		m, ok := domain.AsMap(c)
		if !ok {
			return false, fmt.Errorf("%s clause must be an object", op)
		}
		hit, err := matchMap(doc, m)
		if err != nil {
			return false, err
		}
		switch {
		case op == "$and" && !hit:
			return false, nil
		case op == "$or" && hit:
			return true, nil
		case op == "$nor" && hit:
			return false, nil
		}
	}
	return op != "$or", nil
}

func isOperatorMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// matchEq implements equality with array-contains semantics: an array field
// matches when it equals want or holds an element equal to want.
func matchEq(got any, present bool, want any) bool {
	if !present {
		return want == nil
	}
	if Equal(got, want) {
		return true
	}
	if arr, ok := domain.AsSlice(got); ok {
		for _, el := range arr {
			if Equal(el, want) {
				return true
			}
		}
	}
	return false
}

func matchOperators(got any, present bool, ops map[string]any) (bool, error) {
	for op, arg := range ops {
		var (
			ok  bool
			err error
		)
		switch op {
		case "$eq":
			ok = matchEq(got, present, arg)
		case "$ne":
			ok = !matchEq(got, present, arg)
		case "$in":
			ok, err = matchIn(got, present, arg)
		case "$nin":
			ok, err = matchIn(got, present, arg)
			ok = !ok
		case "$gt", "$gte", "$lt", "$lte":
			ok = present && matchRange(got, op, arg)
		case "$exists":
			want, _ := arg.(bool)
			ok = present == want
		case "$regex":
			opts, _ := ops["$options"].(string)
			ok, err = matchRegex(got, present, arg, opts)
		case "$options":
			ok = true
		case "$not":
			sub, isMap := domain.AsMap(arg)
			if !isMap {
				return false, fmt.Errorf("$not expects an object")
			}
			ok, err = matchOperators(got, present, sub)
			ok = !ok
		case "$size":
			n, _ := ToFloat(arg)
			arr, isArr := domain.AsSlice(got)
			ok = isArr && float64(len(arr)) == n
		default:
			return false, fmt.Errorf("unknown operator %s", op)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchIn(got any, present bool, arg any) (bool, error) {
	list, ok := domain.AsSlice(arg)
	if !ok {
		return false, fmt.Errorf("$in expects an array")
	}
	for _, want := range list {
		if matchEq(got, present, want) {
			return true, nil
		}
	}
	return false, nil
}

func matchRange(got any, op string, arg any) bool {
	vals := []any{got}
	if arr, ok := domain.AsSlice(got); ok {
		vals = arr
	}
	for _, v := range vals {
		c, ok := Compare(v, arg)
		if !ok {
			continue
		}
		switch op {
		case "$gt":
			ok = c > 0
		case "$gte":
			ok = c >= 0
		case "$lt":
			ok = c < 0
		case "$lte":
			ok = c <= 0
		}
		if ok {
			return true
		}
	}
	return false
}

var regexCache sync.Map

func compileRegex(pattern, opts string) (*regexp.Regexp, error) {
	key := opts + "/" + pattern
	if re, ok := regexCache.Load(key); ok {
		return re.(*regexp.Regexp), nil
	}
	flags := ""
	for _, f := range opts {
		switch f {
		case 'i', 'm', 's':
			flags += string(f)
		}
	}
	expr := pattern
	if flags != "" {
		expr = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid $regex %q: %w", pattern, err)
	}
	regexCache.Store(key, re)
	return re, nil
}

func matchRegex(got any, present bool, arg any, opts string) (bool, error) {
	pattern, ok := arg.(string)
	if !ok {
		return false, fmt.Errorf("$regex expects a string")
	}
	re, err := compileRegex(pattern, opts)
	if err != nil {
		return false, err
	}
	if !present {
		return false, nil
	}
	vals := []any{got}
	if arr, ok := domain.AsSlice(got); ok {
		vals = arr
	}
	for _, v := range vals {
		if s, ok := v.(string); ok && re.MatchString(s) {
			return true, nil
		}
	}
	return false, nil
}

// matchText is a case-insensitive any-word match over the top-level string
// values of doc.
func matchText(doc map[string]any, search string) bool {
	words := strings.Fields(strings.ToLower(search))
	if len(words) == 0 {
		return false
	}
	for _, v := range doc {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.ToLower(s)
		for _, w := range words {
			if strings.Contains(s, w) {
				return true
			}
		}
	}
	return false
}
