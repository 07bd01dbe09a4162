package rest

import (
	"strings"

	"github.com/heartmarshall/tenantkit/internal/domain"
)

// FieldPair renames a stored field for the API. Both names may be dotted
// paths into nested documents.
type FieldPair struct {
	Internal string
	External string
}

// FieldMap is the static rename table of a controller.
type FieldMap []FieldPair

// Inbound renames external fields of a request body to their stored names.
func (m FieldMap) Inbound(doc domain.Document) domain.Document {
	for _, p := range m {
		move(doc, p.External, p.Internal)
	}
	return doc
}

// Outbound renames stored fields of a response document to their external
// names. doc is copied before the first rename.
func (m FieldMap) Outbound(doc domain.Document) domain.Document {
	if len(m) == 0 || doc == nil {
		return doc
	}
	out := doc.Clone()
	for _, p := range m {
		move(out, p.Internal, p.External)
	}
	return out
}

func move(doc domain.Document, from, to string) {
	v, ok := takePath(doc, strings.Split(from, "."))
	if !ok {
		return
	}
	setPath(doc, strings.Split(to, "."), v)
}

func takePath(m map[string]any, path []string) (any, bool) {
	if len(path) == 1 {
		v, ok := m[path[0]]
		if ok {
			delete(m, path[0])
		}
		return v, ok
	}
	child, ok := domain.AsMap(m[path[0]])
	if !ok {
		return nil, false
	}
	return takePath(child, path[1:])
}

func setPath(m map[string]any, path []string, v any) {
	if len(path) == 1 {
		m[path[0]] = v
		return
	}
	child, ok := domain.AsMap(m[path[0]])
	if !ok {
		child = map[string]any{}
		m[path[0]] = child
	}
	setPath(child, path[1:], v)
}
