package postgres

import (
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"

	"github.com/heartmarshall/tenantkit/internal/domain"
)

// narrow translates the parts of cond that jsonb containment can express
// into a WHERE clause. The result selects a superset of the matching rows;
// the full condition is still evaluated in process.
func narrow(collection string, cond domain.Conditions) sq.And {
	where := sq.And{sq.Eq{"collection": collection}}

	keys := make([]string, 0, len(cond))
	for k := range cond {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := cond[k]
		if k == domain.FieldID {
			if pred, ok := idPredicate(v); ok {
				where = append(where, pred)
			}
			continue
		}
		if k == "" || k[0] == '$' || strings.Contains(k, ".") {
			continue
		}
		if pred, ok := containment(k, v); ok {
			where = append(where, pred)
		}
	}
	return where
}

func idPredicate(v any) (sq.Sqlizer, bool) {
	if s, ok := v.(string); ok {
		return sq.Eq{"id": s}, true
	}
	ops, ok := domain.AsMap(v)
	if !ok || len(ops) != 1 {
		return nil, false
	}
	list, ok := domain.AsSlice(ops["$in"])
	if !ok {
		return nil, false
	}
	ids := make([]string, 0, len(list))
	for _, e := range list {
		s, ok := e.(string)
		if !ok {
			return nil, false
		}
		ids = append(ids, s)
	}
	return sq.Eq{"id": ids}, true
}

// containment matches a scalar field value or an array holding it.
func containment(key string, v any) (sq.Sqlizer, bool) {
	switch v.(type) {
	case string, bool, float64, float32, int, int32, int64:
	default:
		return nil, false
	}
	scalar, err := json.Marshal(map[string]any{key: v})
	if err != nil {
		return nil, false
	}
	array, err := json.Marshal(map[string]any{key: []any{v}})
	if err != nil {
		return nil, false
	}
	return sq.Or{
		sq.Expr("doc @> ?::jsonb", string(scalar)),
		sq.Expr("doc @> ?::jsonb", string(array)),
	}, true
}
