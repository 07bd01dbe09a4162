package query

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/pkg/ctxutil"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

// Env carries the request properties normalization depends on.
type Env struct {
	// APICall enables the default page size.
	APICall  bool
	Location *time.Location
	Now      time.Time
}

// EnvFromContext reads the request descriptor of ctx.
func EnvFromContext(ctx context.Context, now time.Time) Env {
	r, _ := ctxutil.RequestFromCtx(ctx)
	return Env{APICall: r.APICall, Location: Location(r.TZOffset), Now: now}
}

// Normalizer holds the per-service query defaults.
type Normalizer struct {
	Schema       *domain.Schema
	DefaultLimit int
	// FilterFields may be filtered on directly by query parameter.
	FilterFields []string
	// SearchFields take part in the free-text filter. When empty every
	// declared string field does.
	SearchFields          []string
	DefaultSort           []docstore.SortField
	DefaultFields         []string
	DefaultFieldsSingle   []string
	DefaultPopulate       []string
	DefaultPopulateSingle []string
}

// Normalize fills every defaultable part of s and folds the free-text and
// field filters into its conditions. Malformed filter values are dropped.
func (n Normalizer) Normalize(s Spec, env Env) Spec {
	out := s
	out.Conditions = s.Conditions.Clone()

	limit := 0
	switch {
	case s.Limit != nil:
		limit = *s.Limit
	case env.APICall:
		limit = n.DefaultLimit
	}
	out.Limit = &limit

	page := s.Page
	if s.ZeroBased {
		page++
	}
	if page < 1 {
		page = 1
	}
	out.Page = page
	if s.Skip == 0 && limit > 0 && page > 1 {
		out.Skip = limit * (page - 1)
	}

	out.Sort = mergeSort(s.Sort, n.DefaultSort)

	if len(out.Fields) == 0 {
		out.Fields = n.DefaultFields
		if s.Single && len(n.DefaultFieldsSingle) > 0 {
			out.Fields = n.DefaultFieldsSingle
		}
	}
	if len(out.Populate) == 0 {
		out.Populate = n.DefaultPopulate
		if s.Single && len(n.DefaultPopulateSingle) > 0 {
			out.Populate = n.DefaultPopulateSingle
		}
	}

	if s.Filter != "" {
		n.applySearch(out.Conditions, s.Filter, env)
	}
	for _, f := range n.FilterFields {
		n.applyFilterField(out.Conditions, f, s.Query, env)
	}
	return out
}

// mergeSort keeps the explicit order and appends defaults for keys the
// caller did not sort by.
func mergeSort(explicit, defaults []docstore.SortField) []docstore.SortField {
	if len(explicit) == 0 {
		return defaults
	}
	seen := make(map[string]bool, len(explicit))
	out := make([]docstore.SortField, 0, len(explicit)+len(defaults))
	for _, f := range explicit {
		seen[f.Key] = true
		out = append(out, f)
	}
	for _, f := range defaults {
		if !seen[f.Key] {
			out = append(out, f)
		}
	}
	return out
}

func (n Normalizer) field(name string) domain.Field {
	if n.Schema != nil {
		if f, ok := n.Schema.Field(name); ok {
			return f
		}
	}
	return domain.Field{Name: name, Type: domain.FieldMixed}
}

func (n Normalizer) searchFields() []domain.Field {
	if len(n.SearchFields) > 0 {
		out := make([]domain.Field, len(n.SearchFields))
		for i, name := range n.SearchFields {
			out[i] = n.field(name)
		}
		return out
	}
	var out []domain.Field
	if n.Schema == nil {
		return out
	}
	for _, f := range n.Schema.Fields {
		if f.Type == domain.FieldString && f.Name != domain.FieldAppName && f.Name != domain.FieldID {
			out = append(out, f)
		}
	}
	return out
}

// applySearch expands the free-text term into an $or over the search
// fields. A term no field can evaluate matches nothing.
func (n Normalizer) applySearch(cond domain.Conditions, term string, env Env) {
	var or []any
	text := false
	for _, f := range n.searchFields() {
		if f.Text {
			text = true
			continue
		}
		switch f.Type {
		case domain.FieldString, domain.FieldMixed:
			or = append(or, map[string]any{f.Name: map[string]any{
				"$regex": regexp.QuoteMeta(term), "$options": "i",
			}})
		case domain.FieldNumber:
			if v, err := strconv.ParseFloat(strings.TrimSpace(term), 64); err == nil {
				or = append(or, map[string]any{f.Name: v})
			}
		case domain.FieldDate:
			if t, dateOnly, ok := parseDate(term, env.Location, env.Now); ok {
				or = append(or, map[string]any{f.Name: dateEquality(t, dateOnly)})
			}
		case domain.FieldRef:
			if ids.IsValid(term) {
				or = append(or, map[string]any{f.Name: term})
			}
		}
	}
	if text {
		or = append(or, map[string]any{"$text": map[string]any{"$search": term}})
	}

	if len(or) == 0 {
		cond[domain.FieldID] = map[string]any{"$in": []any{}}
		return
	}
	if existing, ok := cond["$or"]; ok {
		delete(cond, "$or")
		addAnd(cond, map[string]any{"$or": existing}, map[string]any{"$or": or})
		return
	}
	cond["$or"] = or
}

func addAnd(cond domain.Conditions, clauses ...any) {
	and, _ := domain.AsSlice(cond["$and"])
	cond["$and"] = append(append([]any{}, and...), clauses...)
}

// dateEquality matches a whole local day for dates, the exact instant
// otherwise.
func dateEquality(t time.Time, dateOnly bool) any {
	if !dateOnly {
		return t.UTC()
	}
	return map[string]any{"$gte": t.UTC(), "$lt": t.AddDate(0, 0, 1).UTC()}
}

var comparisonOps = []struct {
	prefix string
	op     string
}{
	{"<=", "$lte"},
	{">=", "$gte"},
	{"<", "$lt"},
	{">", "$gt"},
}

// applyFilterField folds the parameters of one declared filter field into
// cond: comma-separated values, comparison prefixes and, for dates, the
// <name>_from and <name>_until bounds.
func (n Normalizer) applyFilterField(cond domain.Conditions, name string, q map[string][]string, env Env) {
	f := n.field(name)

	var scalars []any
	var opConds []any
	for _, raw := range q[name] {
		for _, tok := range strings.Split(raw, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			v, isScalar, ok := parseToken(f, tok, env)
			if !ok {
				continue
			}
			if isScalar {
				scalars = append(scalars, v)
			} else {
				opConds = append(opConds, v)
			}
		}
	}

	var values []any
	switch {
	case len(opConds) == 0 && len(scalars) == 1:
		values = []any{scalars[0]}
	case len(opConds) == 0 && len(scalars) > 1:
		values = []any{map[string]any{"$in": scalars}}
	default:
		values = append(append(values, scalars...), opConds...)
	}

	if f.Type == domain.FieldDate {
		if r := dateRange(q, name, env); r != nil {
			values = append(values, r)
		}
	}

	for _, v := range values {
		if _, taken := cond[name]; !taken {
			cond[name] = v
			continue
		}
		addAnd(cond, map[string]any{name: v})
	}
}

func dateRange(q map[string][]string, name string, env Env) map[string]any {
	r := map[string]any{}
	if from := first(q, name+"_from"); from != "" {
		if t, _, ok := parseDate(from, env.Location, env.Now); ok {
			r["$gte"] = t.UTC()
		}
	}
	if until := first(q, name+"_until"); until != "" {
		if t, dateOnly, ok := parseDate(until, env.Location, env.Now); ok {
			if dateOnly {
				r["$lt"] = t.AddDate(0, 0, 1).UTC()
			} else {
				r["$lte"] = t.UTC()
			}
		}
	}
	if len(r) == 0 {
		return nil
	}
	return r
}

func first(q map[string][]string, key string) string {
	if v := q[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// parseToken converts one filter value. isScalar is false for operator
// conditions. ok is false for malformed input.
func parseToken(f domain.Field, tok string, env Env) (v any, isScalar, ok bool) {
	op := ""
	if f.Type == domain.FieldNumber || f.Type == domain.FieldDate {
		for _, c := range comparisonOps {
			if strings.HasPrefix(tok, c.prefix) {
				op, tok = c.op, strings.TrimSpace(tok[len(c.prefix):])
				break
			}
		}
	}

	switch f.Type {
	case domain.FieldNumber:
		n, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, false, false
		}
		if op != "" {
			return map[string]any{op: n}, false, true
		}
		return n, true, true
	case domain.FieldDate:
		t, dateOnly, parsed := parseDate(tok, env.Location, env.Now)
		if !parsed {
			return nil, false, false
		}
		switch {
		case op == "":
			eq := dateEquality(t, dateOnly)
			_, isMap := eq.(map[string]any)
			return eq, !isMap, true
		case dateOnly && (op == "$lte" || op == "$gt"):
			return map[string]any{nextDayOp(op): t.AddDate(0, 0, 1).UTC()}, false, true
		default:
			return map[string]any{op: t.UTC()}, false, true
		}
	case domain.FieldBool:
		b, err := strconv.ParseBool(tok)
		if err != nil {
			return nil, false, false
		}
		return b, true, true
	case domain.FieldRef:
		if !ids.IsValid(tok) {
			return nil, false, false
		}
		return tok, true, true
	}
	return tok, true, true
}

// nextDayOp maps a bound on a whole day to the equivalent bound on the
// start of the following day.
func nextDayOp(op string) string {
	if op == "$lte" {
		return "$lt"
	}
	return "$gte"
}
