// Package docstore defines the document-store primitives every backend
// implements, plus an in-process evaluator for conditions, updates and
// aggregation pipelines shared by backends that cannot push them down.
package docstore

import (
	"context"

	"github.com/heartmarshall/tenantkit/internal/domain"
)

// Store is the low-level document store. Collections are addressed by name;
// names are unique across apps.
type Store interface {
	Find(ctx context.Context, collection string, q Query) ([]domain.Document, error)
	// FindOne returns domain.ErrNotFound when nothing matches.
	FindOne(ctx context.Context, collection string, q Query) (domain.Document, error)
	Count(ctx context.Context, collection string, cond domain.Conditions) (int64, error)
	Distinct(ctx context.Context, collection, field string, cond domain.Conditions) ([]any, error)
	Aggregate(ctx context.Context, collection string, pipeline []Stage) ([]domain.Document, error)
	// Insert writes all documents; each must carry an _id.
	Insert(ctx context.Context, collection string, docs ...domain.Document) error
	// Update returns the number of matched documents.
	Update(ctx context.Context, collection string, cond domain.Conditions, upd Update, opts UpdateOptions) (int64, error)
	// Remove returns the number of deleted documents.
	Remove(ctx context.Context, collection string, cond domain.Conditions) (int64, error)
}

// Query selects documents.
type Query struct {
	Conditions domain.Conditions
	// Fields is a projection. Names prefixed with "-" are excluded; otherwise
	// only the listed fields (plus _id) are returned.
	Fields []string
	Sort   []SortField
	Skip   int64
	Limit  int64
}

// SortField orders by one key.
type SortField struct {
	Key  string
	Desc bool
}

// Update is a structured update. Callers never pass raw operators.
type Update struct {
	Set domain.Document
	// Push appends each value to the array at key.
	Push map[string][]any
	// Pull removes every element equal to one of the values.
	Pull map[string][]any
}

// IsZero reports whether the update changes nothing.
func (u Update) IsZero() bool {
	return len(u.Set) == 0 && len(u.Push) == 0 && len(u.Pull) == 0
}

// UpdateOptions controls how many documents an update may touch.
type UpdateOptions struct {
	Multi bool
}

// Stage is one aggregation pipeline stage, e.g. {"$match": {...}}.
type Stage = domain.Document

// StageOp returns the operator name of a single-key stage.
func StageOp(s Stage) (string, any, bool) {
	if len(s) != 1 {
		return "", nil, false
	}
	for k, v := range s {
		return k, v, true
	}
	return "", nil, false
}
