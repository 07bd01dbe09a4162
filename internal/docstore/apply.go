package docstore

import (
	"sort"
	"strings"

	"github.com/heartmarshall/tenantkit/internal/domain"
)

// Apply returns a copy of doc with upd applied. A nil Set value removes
// the key.
func Apply(doc domain.Document, upd Update) domain.Document {
	out := doc.Clone()
	for k, v := range upd.Set {
		setPath(out, k, domain.CloneValue(v))
	}
	for k, vals := range upd.Push {
		cur, _ := domain.AsSlice(out[k])
		next := append(append([]any{}, cur...), cloneAll(vals)...)
		out[k] = next
	}
	for k, vals := range upd.Pull {
		cur, ok := domain.AsSlice(out[k])
		if !ok {
			continue
		}
		kept := make([]any, 0, len(cur))
		for _, el := range cur {
			drop := false
			for _, v := range vals {
				if Equal(el, v) {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, el)
			}
		}
		out[k] = kept
	}
	return out
}

func cloneAll(vals []any) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = domain.CloneValue(v)
	}
	return out
}

func setPath(doc map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := domain.AsMap(cur[p])
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	last := parts[len(parts)-1]
	if v == nil {
		delete(cur, last)
		return
	}
	cur[last] = v
}

// Project applies a field projection. Exclusions ("-name") and inclusions
// must not be mixed; when they are, exclusions win.
func Project(doc domain.Document, fields []string) domain.Document {
	if len(fields) == 0 {
		return doc
	}
	var include, exclude []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		switch {
		case f == "":
		case strings.HasPrefix(f, "-"):
			exclude = append(exclude, f[1:])
		default:
			include = append(include, f)
		}
	}
	if len(exclude) > 0 {
		out := doc.Clone()
		for _, f := range exclude {
			delete(out, f)
		}
		return out
	}
	if len(include) == 0 {
		return doc
	}
	out := domain.Document{}
	if id, ok := doc[domain.FieldID]; ok {
		out[domain.FieldID] = id
	}
	for _, f := range include {
		if v, ok := Lookup(doc, f); ok {
			setPath(out, f, domain.CloneValue(v))
		}
	}
	return out
}

// SortDocuments orders docs in place. The sort is stable.
func SortDocuments(docs []domain.Document, order []SortField) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range order {
			c := compareForSort(docs[i], docs[j], f.Key)
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareForSort(a, b domain.Document, key string) int {
	av, aok := Lookup(a, key)
	bv, bok := Lookup(b, key)
	ra, rb := typeRank(av, aok), typeRank(bv, bok)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	if c, ok := Compare(av, bv); ok {
		return c
	}
	return 0
}

// Window applies skip and limit. A zero limit means unlimited.
func Window(docs []domain.Document, skip, limit int64) []domain.Document {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && int64(len(docs)) > limit {
		docs = docs[:limit]
	}
	return docs
}

// DistinctValues collects the distinct values of field, flattening arrays.
func DistinctValues(docs []domain.Document, field string) []any {
	var out []any
	add := func(v any) {
		for _, x := range out {
			if Equal(x, v) {
				return
			}
		}
		out = append(out, v)
	}
	for _, d := range docs {
		v, ok := Lookup(d, field)
		if !ok {
			continue
		}
		if arr, isArr := domain.AsSlice(v); isArr {
			for _, el := range arr {
				add(el)
			}
			continue
		}
		add(v)
	}
	return out
}
