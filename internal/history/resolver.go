package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

const (
	loaderWait     = 2 * time.Millisecond
	loaderMaxBatch = 100
	sharedApp      = "shared"
)

// Finder loads records of one collection by id.
type Finder interface {
	FindByIDs(ctx context.Context, ids []string) ([]domain.Document, error)
}

// Lookup resolves the Finder serving a collection of an app.
type Lookup interface {
	Finder(app, collection string) (Finder, bool)
}

// Resolver reads change records and replaces referenced ids with the
// records they point to.
type Resolver struct {
	store  docstore.Store
	lookup Lookup
	log    *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(log *slog.Logger, store docstore.Store, lookup Lookup) *Resolver {
	return &Resolver{store: store, lookup: lookup, log: log.With("component", "history")}
}

// Retrieve returns the parsed records of one entity, newest first.
func (r *Resolver) Retrieve(ctx context.Context, s *domain.Schema, entityID string) ([]domain.ChangeRecord, error) {
	docs, err := r.store.Find(ctx, Collection, docstore.Query{
		Conditions: domain.Conditions{"entity.collection": s.Collection, "entity.id": entityID},
		Sort:       []docstore.SortField{{Key: domain.FieldDateCreated, Desc: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve history: %w", err)
	}
	records := make([]domain.ChangeRecord, len(docs))
	for i, d := range docs {
		records[i] = fromDocument(d)
	}
	return r.Parse(ctx, s, records)
}

type target struct {
	app, collection string
}

// Parse resolves id-shaped change values through the Finder of the
// field's reference target. Changes where both sides are arrays are
// reported as Added/Removed instead of From/To.
func (r *Resolver) Parse(ctx context.Context, s *domain.Schema, records []domain.ChangeRecord) ([]domain.ChangeRecord, error) {
	wanted := make(map[string]map[string]bool)
	for _, rec := range records {
		for _, c := range rec.Changes {
			for _, v := range []any{c.From, c.To} {
				for _, id := range idsIn(v) {
					if wanted[c.Key] == nil {
						wanted[c.Key] = make(map[string]bool)
					}
					wanted[c.Key][id] = true
				}
			}
		}
	}

	loaders := make(map[target]*dataloader.Loader[string, domain.Document])
	resolved := make(map[string]map[string]domain.Document, len(wanted))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for key, set := range wanted {
		t, finder, ok := r.finderFor(s, key)
		if !ok {
			continue
		}
		loader, exists := loaders[t]
		if !exists {
			loader = newLoader(finder)
			loaders[t] = loader
		}
		keys := make([]string, 0, len(set))
		for id := range set {
			keys = append(keys, id)
		}
		g.Go(func() error {
			docs, errs := loader.LoadMany(gctx, keys)()
			for _, err := range errs {
				if err != nil {
					return fmt.Errorf("resolve %s: %w", key, err)
				}
			}
			byID := make(map[string]domain.Document, len(docs))
			for _, d := range docs {
				if d != nil {
					byID[d.ID()] = d
				}
			}
			mu.Lock()
			resolved[key] = byID
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.ChangeRecord, len(records))
	for i, rec := range records {
		changes := make([]domain.Change, len(rec.Changes))
		for j, c := range rec.Changes {
			changes[j] = substitute(c, resolved[c.Key])
		}
		rec.Changes = changes
		out[i] = rec
	}
	return out, nil
}

// finderFor infers the referenced collection of key: the declared ref, or
// the pluralized key without an _id suffix. Unknown targets fall back to
// the shared app.
func (r *Resolver) finderFor(s *domain.Schema, key string) (target, Finder, bool) {
	t := target{app: s.App, collection: pluralize(strings.TrimSuffix(key, "_id"))}
	if f, ok := s.Field(key); ok && f.Ref != "" {
		app, coll := f.RefTarget()
		if app != "" {
			t.app = app
		}
		t.collection = coll
	}
	if finder, ok := r.lookup.Finder(t.app, t.collection); ok {
		return t, finder, true
	}
	t.app = sharedApp
	finder, ok := r.lookup.Finder(t.app, t.collection)
	return t, finder, ok
}

func newLoader(f Finder) *dataloader.Loader[string, domain.Document] {
	batch := func(ctx context.Context, keys []string) []*dataloader.Result[domain.Document] {
		docs, err := f.FindByIDs(ctx, keys)
		out := make([]*dataloader.Result[domain.Document], len(keys))
		if err != nil {
			for i := range out {
				out[i] = &dataloader.Result[domain.Document]{Error: err}
			}
			return out
		}
		byID := make(map[string]domain.Document, len(docs))
		for _, d := range docs {
			byID[d.ID()] = d
		}
		for i, k := range keys {
			out[i] = &dataloader.Result[domain.Document]{Data: byID[k]}
		}
		return out
	}
	return dataloader.NewBatchedLoader(batch,
		dataloader.WithWait[string, domain.Document](loaderWait),
		dataloader.WithBatchCapacity[string, domain.Document](loaderMaxBatch),
	)
}

func substitute(c domain.Change, byID map[string]domain.Document) domain.Change {
	fromArr, fromIsArr := domain.AsSlice(c.From)
	toArr, toIsArr := domain.AsSlice(c.To)
	if fromIsArr && toIsArr {
		c.Added = resolveAll(difference(toArr, fromArr), byID)
		c.Removed = resolveAll(difference(fromArr, toArr), byID)
		c.From, c.To = nil, nil
		return c
	}
	c.From = resolveValue(c.From, byID)
	c.To = resolveValue(c.To, byID)
	return c
}

// difference lists the members of a missing from b. Members without an id
// are compared by value.
func difference(a, b []any) []any {
	var out []any
	for _, x := range a {
		if containsEqual(b, x) {
			continue
		}
		if ids.Of(x) != "" && ids.Contains(b, x) {
			continue
		}
		out = append(out, x)
	}
	return out
}

func containsEqual(list []any, v any) bool {
	for _, x := range list {
		if docstore.Equal(x, v) {
			return true
		}
	}
	return false
}

func resolveAll(vals []any, byID map[string]domain.Document) []any {
	if len(vals) == 0 {
		return nil
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = resolveValue(v, byID)
	}
	return out
}

func resolveValue(v any, byID map[string]domain.Document) any {
	if len(byID) == 0 || v == nil {
		return v
	}
	if arr, ok := domain.AsSlice(v); ok {
		return resolveAll(arr, byID)
	}
	if s, ok := v.(string); ok {
		if d, found := byID[s]; found {
			return d
		}
	}
	return v
}

func idsIn(v any) []string {
	if arr, ok := domain.AsSlice(v); ok {
		var out []string
		for _, x := range arr {
			if s, isStr := x.(string); isStr && ids.IsValid(s) {
				out = append(out, s)
			}
		}
		return out
	}
	if s, ok := v.(string); ok && ids.IsValid(s) {
		return []string{s}
	}
	return nil
}

func pluralize(s string) string {
	switch {
	case s == "":
		return s
	case strings.HasSuffix(s, "s"):
		return s
	case strings.HasSuffix(s, "y") && len(s) > 1 && !strings.ContainsAny(s[len(s)-2:len(s)-1], "aeiou"):
		return s[:len(s)-1] + "ies"
	}
	return s + "s"
}
