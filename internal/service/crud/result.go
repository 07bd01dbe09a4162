package crud

import (
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/internal/query"
)

// Page is the result of a list read. Entities is set for hydrated reads,
// Documents otherwise. Pagination is set when counters were requested.
type Page struct {
	Documents  []domain.Document
	Entities   []*domain.Entity
	Pagination *query.Pagination
}

// Len returns the number of records on the page.
func (p *Page) Len() int {
	if p.Entities != nil {
		return len(p.Entities)
	}
	return len(p.Documents)
}

// Item is the result of a single-record read.
type Item struct {
	Document domain.Document
	Entity   *domain.Entity
}

// BatchOptions controls BatchCreate.
type BatchOptions struct {
	// SkipDuplicates drops the documents violating uniqueness instead of
	// failing the batch.
	SkipDuplicates bool
}

// BatchResult lists inserted documents and, in skip mode, the documents
// dropped as duplicates.
type BatchResult struct {
	Created []domain.Document
	Skipped []domain.Document
}

// UpdateResult carries the saved entity for entity updates and the number
// of matched records for filter updates.
type UpdateResult struct {
	Entity  *domain.Entity
	Matched int64
}

// RemoveOptions controls Remove.
type RemoveOptions struct {
	// DryRun reads the affected records instead of removing them.
	DryRun bool
	// Confirmed acknowledges confirmable dependencies.
	Confirmed bool
}

// RemoveResult reports a removal. Records holds the affected records of a
// dry run. Cascaded holds, per dependency name, the dependent records that
// were (or in a dry run would be) removed.
type RemoveResult struct {
	Removed  int64
	Records  []domain.Document
	Cascaded map[string][]domain.Document
}
