package crud

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/tenantkit/internal/cache"
	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/internal/query"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

// Normalize completes spec with the service defaults.
func (s *Service) Normalize(ctx context.Context, spec query.Spec) query.Spec {
	spec = s.normalizer.Normalize(spec, query.EnvFromContext(ctx, s.now()))
	if !spec.WithInactive {
		spec.Conditions = s.excludeInactive(spec.Conditions)
	}
	return spec
}

func toQuery(spec query.Spec) docstore.Query {
	q := docstore.Query{
		Conditions: spec.Conditions,
		Fields:     spec.Fields,
		Sort:       spec.Sort,
		Skip:       int64(spec.Skip),
	}
	if spec.Limit != nil {
		q.Limit = int64(*spec.Limit)
	}
	return q
}

// Find lists the records matching spec. Pagination counters come from a
// count run alongside the read.
func (s *Service) Find(ctx context.Context, spec query.Spec) (*Page, error) {
	spec = s.Normalize(ctx, spec)
	q := toQuery(spec)

	var (
		docs  []domain.Document
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = cache.Wrap(gctx, s.cache, cache.Key(ctx, s.prefix, "find", q, spec.Populate), s.ttl(),
			func(ctx context.Context) ([]domain.Document, error) {
				found, err := s.store.Find(ctx, s.schema.Collection, q)
				if err != nil {
					return nil, err
				}
				if err := s.populate(ctx, found, spec.Populate); err != nil {
					return nil, err
				}
				return found, nil
			})
		return err
	})
	if spec.PaginationHeaders {
		g.Go(func() error {
			var err error
			total, err = s.count(gctx, spec.Conditions)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("find %s: %w", s.schema.Collection, err)
	}

	page := &Page{}
	if spec.PaginationHeaders {
		page.Pagination = query.NewPagination(total, spec)
	}
	if spec.Hydrate {
		page.Entities = make([]*domain.Entity, len(docs))
		for i, d := range docs {
			page.Entities[i] = s.model.Hydrate(d)
		}
		return page, nil
	}
	page.Documents = make([]domain.Document, len(docs))
	for i, d := range docs {
		page.Documents[i] = s.model.Coerce(d)
	}
	return page, nil
}

// FindOne returns the first record matching spec or domain.ErrNotFound.
func (s *Service) FindOne(ctx context.Context, spec query.Spec) (*Item, error) {
	spec.Single = true
	spec = s.Normalize(ctx, spec)
	q := toQuery(spec)
	q.Limit, q.Skip = 0, 0

	doc, err := cache.Wrap(ctx, s.cache, cache.Key(ctx, s.prefix, "findOne", q, spec.Populate), s.ttl(),
		func(ctx context.Context) (domain.Document, error) {
			found, err := s.store.FindOne(ctx, s.schema.Collection, q)
			if err != nil {
				return nil, err
			}
			if err := s.populate(ctx, []domain.Document{found}, spec.Populate); err != nil {
				return nil, err
			}
			return found, nil
		})
	if err != nil {
		return nil, fmt.Errorf("find one %s: %w", s.schema.Collection, err)
	}
	if spec.Hydrate {
		return &Item{Entity: s.model.Hydrate(doc)}, nil
	}
	return &Item{Document: s.model.Coerce(doc)}, nil
}

// FindByID returns the record with id. spec conditions are replaced.
func (s *Service) FindByID(ctx context.Context, id string, spec query.Spec) (*Item, error) {
	if !ids.IsValid(id) {
		return nil, fmt.Errorf("find %s %q: %w", s.schema.Collection, id, domain.ErrNotFound)
	}
	spec.Conditions = domain.Conditions{domain.FieldID: id}
	spec.Filter = ""
	spec.Query = nil
	return s.FindOne(ctx, spec)
}

// FindByIDs returns the records with the given ids, inactive ones
// included. It serves history reference resolution.
func (s *Service) FindByIDs(ctx context.Context, idList []string) ([]domain.Document, error) {
	if len(idList) == 0 {
		return nil, nil
	}
	in := make([]any, len(idList))
	for i, id := range idList {
		in[i] = id
	}
	page, err := s.Find(ctx, query.Spec{
		Conditions:   domain.Conditions{domain.FieldID: map[string]any{"$in": in}},
		Limit:        query.IntPtr(0),
		WithInactive: true,
	})
	if err != nil {
		return nil, err
	}
	return page.Documents, nil
}

// Count counts matching records, excluding inactive ones unless cond
// constrains inactive.
func (s *Service) Count(ctx context.Context, cond domain.Conditions) (int64, error) {
	n, err := s.count(ctx, s.excludeInactive(cond.Clone()))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", s.schema.Collection, err)
	}
	return n, nil
}

func (s *Service) count(ctx context.Context, cond domain.Conditions) (int64, error) {
	return cache.Wrap(ctx, s.cache, cache.Key(ctx, s.prefix, "count", cond), s.ttl(),
		func(ctx context.Context) (int64, error) {
			return s.store.Count(ctx, s.schema.Collection, cond)
		})
}

// Distinct returns the distinct values of field among matching records.
func (s *Service) Distinct(ctx context.Context, field string, cond domain.Conditions) ([]any, error) {
	cond = cond.Clone()
	vals, err := cache.Wrap(ctx, s.cache, cache.Key(ctx, s.prefix, "distinct", field, cond), s.ttl(),
		func(ctx context.Context) ([]any, error) {
			return s.store.Distinct(ctx, s.schema.Collection, field, cond)
		})
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", s.schema.Collection, field, err)
	}
	return vals, nil
}

// Aggregate runs pipeline on the collection.
func (s *Service) Aggregate(ctx context.Context, pipeline []docstore.Stage) ([]domain.Document, error) {
	docs, err := cache.Wrap(ctx, s.cache, cache.Key(ctx, s.prefix, "aggregate", pipeline), s.ttl(),
		func(ctx context.Context) ([]domain.Document, error) {
			return s.store.Aggregate(ctx, s.schema.Collection, pipeline)
		})
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", s.schema.Collection, err)
	}
	return docs, nil
}

// populate replaces the ids of the named reference fields with the
// referenced records. Ids without a record are left in place.
func (s *Service) populate(ctx context.Context, docs []domain.Document, fields []string) error {
	for _, name := range fields {
		f, ok := s.schema.Field(name)
		if !ok || f.Type != domain.FieldRef || len(docs) == 0 {
			continue
		}
		_, coll := f.RefTarget()

		seen := map[string]bool{}
		var want []any
		for _, d := range docs {
			for _, id := range ids.OfAll(d[name]) {
				if ids.IsValid(id) && !seen[id] {
					seen[id] = true
					want = append(want, id)
				}
			}
		}
		if len(want) == 0 {
			continue
		}

		refs, err := s.store.Find(ctx, coll, docstore.Query{
			Conditions: domain.Conditions{domain.FieldID: map[string]any{"$in": want}},
		})
		if err != nil {
			return fmt.Errorf("populate %s: %w", name, err)
		}
		byID := make(map[string]domain.Document, len(refs))
		for _, r := range refs {
			byID[r.ID()] = r
		}

		for _, d := range docs {
			if v, ok := d[name]; ok {
				d[name] = substitute(v, byID)
			}
		}
	}
	return nil
}

func substitute(v any, byID map[string]domain.Document) any {
	if arr, ok := domain.AsSlice(v); ok {
		out := make([]any, len(arr))
		for i, x := range arr {
			out[i] = substitute(x, byID)
		}
		return out
	}
	if r, ok := byID[ids.Of(v)]; ok {
		return map[string]any(r)
	}
	return v
}
