package docstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/heartmarshall/tenantkit/internal/domain"
)

// EnsureMatch returns a pipeline that starts with a $match stage,
// synthesizing an empty one when absent, plus that stage's conditions.
func EnsureMatch(pipeline []Stage) ([]Stage, domain.Conditions) {
	if len(pipeline) > 0 {
		if op, arg, ok := StageOp(pipeline[0]); ok && op == "$match" {
			cond, _ := domain.AsMap(arg)
			c := domain.Conditions(cond).Clone()
			out := append([]Stage{{"$match": c}}, pipeline[1:]...)
			return out, c
		}
	}
	c := domain.Conditions{}
	return append([]Stage{{"$match": c}}, pipeline...), c
}

// SortStage converts the value of a $sort stage. Map values are ordered by
// key name since Go maps carry no order; pass []SortField to control it.
func SortStage(arg any) ([]SortField, error) {
	if fields, ok := arg.([]SortField); ok {
		return fields, nil
	}
	m, ok := domain.AsMap(arg)
	if !ok {
		return nil, fmt.Errorf("$sort expects an object")
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]SortField, 0, len(keys))
	for _, k := range keys {
		dir, _ := ToFloat(m[k])
		out = append(out, SortField{Key: k, Desc: dir < 0})
	}
	return out, nil
}

// EvalPipeline runs an aggregation pipeline over docs in memory.
func EvalPipeline(docs []domain.Document, pipeline []Stage) ([]domain.Document, error) {
	cur := docs
	for i, stage := range pipeline {
		op, arg, ok := StageOp(stage)
		if !ok {
			return nil, fmt.Errorf("stage %d: must have exactly one operator", i)
		}
		var err error
		switch op {
		case "$match":
			cond, isMap := domain.AsMap(arg)
			if !isMap {
				return nil, fmt.Errorf("stage %d: $match expects an object", i)
			}
			cur, err = filter(cur, cond)
		case "$sort":
			var order []SortField
			order, err = SortStage(arg)
			if err == nil {
				cur = append([]domain.Document(nil), cur...)
				SortDocuments(cur, order)
			}
		case "$skip":
			n, _ := ToFloat(arg)
			cur = Window(cur, int64(n), 0)
		case "$limit":
			n, _ := ToFloat(arg)
			cur = Window(cur, 0, int64(n))
		case "$project":
			cur, err = project(cur, arg)
		case "$group":
			cur, err = group(cur, arg)
		case "$count":
			name, _ := arg.(string)
			if name == "" {
				return nil, fmt.Errorf("stage %d: $count expects a field name", i)
			}
			cur = []domain.Document{{name: int64(len(cur))}}
		case "$unwind":
			cur, err = unwind(cur, arg)
		default:
			return nil, fmt.Errorf("stage %d: unsupported operator %s", i, op)
		}
		if err != nil {
			return nil, fmt.Errorf("stage %d (%s): %w", i, op, err)
		}
	}
	return cur, nil
}

func filter(docs []domain.Document, cond map[string]any) ([]domain.Document, error) {
	m, err := NewMatcher(cond)
	if err != nil {
		return nil, err
	}
	var out []domain.Document
	for _, d := range docs {
		if m.Match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func project(docs []domain.Document, arg any) ([]domain.Document, error) {
	spec, ok := domain.AsMap(arg)
	if !ok {
		return nil, fmt.Errorf("$project expects an object")
	}
	keys := make([]string, 0, len(spec))
	for k, v := range spec {
		if n, isNum := ToFloat(v); isNum && n == 0 {
			keys = append(keys, "-"+k)
			continue
		}
		if b, isBool := v.(bool); isBool && !b {
			keys = append(keys, "-"+k)
			continue
		}
		keys = append(keys, k)
	}
	out := make([]domain.Document, len(docs))
	for i, d := range docs {
		out[i] = Project(d, keys)
	}
	return out, nil
}

// expr evaluates "$field" references and literals.
func expr(doc domain.Document, e any) any {
	if s, ok := e.(string); ok && strings.HasPrefix(s, "$") {
		v, _ := Lookup(doc, s[1:])
		return v
	}
	if m, ok := domain.AsMap(e); ok {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = expr(doc, v)
		}
		return out
	}
	return e
}

type accumulator struct {
	name string
	op   string
	arg  any
}

func group(docs []domain.Document, arg any) ([]domain.Document, error) {
	spec, ok := domain.AsMap(arg)
	if !ok {
		return nil, fmt.Errorf("$group expects an object")
	}
	idExpr, ok := spec["_id"]
	if !ok {
		return nil, fmt.Errorf("$group requires _id")
	}
	var accs []accumulator
	for name, v := range spec {
		if name == "_id" {
			continue
		}
		m, isMap := domain.AsMap(v)
		if !isMap || len(m) != 1 {
			return nil, fmt.Errorf("accumulator %s must have one operator", name)
		}
		for op, a := range m {
			accs = append(accs, accumulator{name: name, op: op, arg: a})
		}
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].name < accs[j].name })

	type bucket struct {
		key  any
		docs []domain.Document
	}
	var buckets []*bucket
	for _, d := range docs {
		k := expr(d, idExpr)
		var b *bucket
		for _, existing := range buckets {
			if Equal(existing.key, k) {
				b = existing
				break
			}
		}
		if b == nil {
			b = &bucket{key: k}
			buckets = append(buckets, b)
		}
		b.docs = append(b.docs, d)
	}

	out := make([]domain.Document, 0, len(buckets))
	for _, b := range buckets {
		row := domain.Document{"_id": b.key}
		for _, a := range accs {
			v, err := accumulate(a, b.docs)
			if err != nil {
				return nil, err
			}
			row[a.name] = v
		}
		out = append(out, row)
	}
	return out, nil
}

func accumulate(a accumulator, docs []domain.Document) (any, error) {
	switch a.op {
	case "$sum", "$avg":
		var sum float64
		var n int
		for _, d := range docs {
			if f, ok := ToFloat(expr(d, a.arg)); ok {
				sum += f
				n++
			}
		}
		if a.op == "$avg" {
			if n == 0 {
				return nil, nil
			}
			return sum / float64(n), nil
		}
		return sum, nil
	case "$min", "$max":
		var best any
		for _, d := range docs {
			v := expr(d, a.arg)
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c, ok := Compare(v, best)
			if ok && ((a.op == "$min" && c < 0) || (a.op == "$max" && c > 0)) {
				best = v
			}
		}
		return best, nil
	case "$push", "$addToSet":
		var vals []any
		for _, d := range docs {
			v := expr(d, a.arg)
			if a.op == "$addToSet" {
				dup := false
				for _, x := range vals {
					if Equal(x, v) {
						dup = true
						break
					}
				}
				if dup {
					continue
				}
			}
			vals = append(vals, v)
		}
		return vals, nil
	case "$first":
		if len(docs) == 0 {
			return nil, nil
		}
		return expr(docs[0], a.arg), nil
	case "$last":
		if len(docs) == 0 {
			return nil, nil
		}
		return expr(docs[len(docs)-1], a.arg), nil
	}
	return nil, fmt.Errorf("unsupported accumulator %s", a.op)
}

func unwind(docs []domain.Document, arg any) ([]domain.Document, error) {
	path, ok := arg.(string)
	if !ok || !strings.HasPrefix(path, "$") {
		return nil, fmt.Errorf("$unwind expects a field path")
	}
	field := path[1:]
	var out []domain.Document
	for _, d := range docs {
		v, present := Lookup(d, field)
		arr, isArr := domain.AsSlice(v)
		if !present || !isArr {
			if present && v != nil {
				out = append(out, d)
			}
			continue
		}
		for _, el := range arr {
			c := d.Clone()
			setPath(c, field, el)
			out = append(out, c)
		}
	}
	return out, nil
}
