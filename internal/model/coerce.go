package model

import (
	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
)

// maxCoerceDepth bounds recursion through populated references.
const maxCoerceDepth = 4

// Coerce restores declared field types on a document that went through a
// serialization round trip: dates from strings, numbers as float64 and
// populated references through the referenced schema.
func (m *Model) Coerce(doc domain.Document) domain.Document {
	return m.coerce(m.schema, doc, 0)
}

func (m *Model) coerce(s *domain.Schema, doc domain.Document, depth int) domain.Document {
	if doc == nil {
		return nil
	}
	out := doc.Clone()
	for _, f := range s.Fields {
		v, ok := out[f.Name]
		if !ok || v == nil {
			continue
		}
		if arr, isArr := domain.AsSlice(v); isArr {
			conv := make([]any, len(arr))
			for i, x := range arr {
				conv[i] = m.coerceValue(f, x, depth)
			}
			out[f.Name] = conv
			continue
		}
		out[f.Name] = m.coerceValue(f, v, depth)
	}
	return out
}

func (m *Model) coerceValue(f domain.Field, v any, depth int) any {
	switch f.Type {
	case domain.FieldDate:
		if t, ok := docstore.ToTime(v); ok {
			return t
		}
	case domain.FieldNumber:
		if n, ok := docstore.ToFloat(v); ok {
			return n
		}
	case domain.FieldRef:
		sub, ok := domain.AsMap(v)
		if !ok || m.schemas == nil || depth >= maxCoerceDepth {
			return v
		}
		_, coll := f.RefTarget()
		target, found := m.schemas.Schema(coll)
		if !found {
			return v
		}
		return map[string]any(m.coerce(target, sub, depth+1))
	}
	return v
}
