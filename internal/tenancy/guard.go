// Package tenancy scopes every document-store call to the tenant carried
// by the request context.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/pkg/ctxutil"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

// SchemaLookup resolves the schema owning a collection.
type SchemaLookup interface {
	Schema(collection string) (*domain.Schema, bool)
}

type unscopedKey struct{}

// Unscoped marks ctx so that reads through the guard are neither narrowed
// to the current tenant nor checked. Writes are always scoped.
func Unscoped(ctx context.Context) context.Context {
	return context.WithValue(ctx, unscopedKey{}, true)
}

func isUnscoped(ctx context.Context) bool {
	v, _ := ctx.Value(unscopedKey{}).(bool)
	return v
}

var errOrganizationShape = errors.New("organization must be a single id")

// allowedShapes are the sorted key sets accepted without a scalar
// organization constraint.
var allowedShapes = map[string]bool{
	"_id":                       true,
	"_id,inactive":              true,
	"_id,organization":          true,
	"_id,inactive,organization": true,
	domain.FieldParentID:        true,
}

// Guard is a docstore.Store decorator.
type Guard struct {
	next    docstore.Store
	schemas SchemaLookup
	log     *slog.Logger
}

// NewGuard wraps next.
func NewGuard(log *slog.Logger, next docstore.Store, schemas SchemaLookup) *Guard {
	return &Guard{
		next:    next,
		schemas: schemas,
		log:     log.With("component", "tenancy"),
	}
}

var _ docstore.Store = (*Guard)(nil)

func (g *Guard) schema(collection string) (*domain.Schema, error) {
	s, ok := g.schemas.Schema(collection)
	if !ok {
		return nil, &domain.PolicyError{Collection: collection, Reason: "unknown collection"}
	}
	return s, nil
}

func (g *Guard) violation(ctx context.Context, collection, reason string) error {
	g.log.ErrorContext(ctx, "tenant scope violation",
		slog.String("collection", collection),
		slog.String("reason", reason),
		slog.String("request_id", ctxutil.RequestIDFromCtx(ctx)),
	)
	return &domain.PolicyError{Collection: collection, Reason: reason}
}

// scope injects the tenant into cond and checks the result. It returns the
// conditions to forward, which are never the caller's map.
func (g *Guard) scope(ctx context.Context, collection string, cond domain.Conditions, read bool) (domain.Conditions, error) {
	s, err := g.schema(collection)
	if err != nil {
		return nil, err
	}
	out := cond.Clone()
	if !s.Tenanted() || (read && isUnscoped(ctx)) {
		return out, nil
	}
	if tenant, ok := ctxutil.TenantIDFromCtx(ctx); ok {
		out[domain.FieldOrganization] = tenant
	}
	if err := Check(out); err != nil {
		return nil, g.violation(ctx, collection, err.Error())
	}
	return out, nil
}

// Check verifies that cond is either one of the allow-listed shapes or
// constrains organization to a single valid id. Branches of $or and $and
// are checked one by one. Without a top-level organization the condition
// is still scoped when every $or branch or any $and branch is.
func Check(cond domain.Conditions) error {
	if len(cond) == 0 {
		return fmt.Errorf("unscoped conditions")
	}
	org, hasOrg := cond[domain.FieldOrganization]
	if hasOrg && !isScalarID(org) {
		return errOrganizationShape
	}
	scoped := hasOrg || allowedShapes[shape(cond)]
	for _, op := range []string{"$or", "$and"} {
		raw, ok := cond[op]
		if !ok {
			continue
		}
		all, some, err := checkBranches(op, raw)
		if err != nil {
			return err
		}
		if (op == "$or" && all) || (op == "$and" && some) {
			scoped = true
		}
	}
	if !scoped {
		return fmt.Errorf("missing organization constraint")
	}
	return nil
}

// checkBranches rejects any branch that names organization with something
// other than a single id. all and some report whether every or at least
// one branch passes Check.
func checkBranches(op string, raw any) (all, some bool, err error) {
	branches, ok := domain.AsSlice(raw)
	if !ok {
		return false, false, fmt.Errorf("%s must be an array", op)
	}
	all = len(branches) > 0
	for _, b := range branches {
		m, ok := domain.AsMap(b)
		if !ok {
			return false, false, fmt.Errorf("%s branch must be a document", op)
		}
		switch err := Check(domain.Conditions(m)); {
		case err == nil:
			some = true
		case errors.Is(err, errOrganizationShape):
			return false, false, err
		default:
			all = false
		}
	}
	return all, some, nil
}

func isScalarID(v any) bool {
	s, ok := v.(string)
	return ok && ids.IsValid(s)
}

func shape(cond domain.Conditions) string {
	keys := make([]string, 0, len(cond))
	for k := range cond {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// Find implements docstore.Store.
func (g *Guard) Find(ctx context.Context, collection string, q docstore.Query) ([]domain.Document, error) {
	cond, err := g.scope(ctx, collection, q.Conditions, true)
	if err != nil {
		return nil, err
	}
	q.Conditions = cond
	return g.next.Find(ctx, collection, q)
}

// FindOne implements docstore.Store.
func (g *Guard) FindOne(ctx context.Context, collection string, q docstore.Query) (domain.Document, error) {
	cond, err := g.scope(ctx, collection, q.Conditions, true)
	if err != nil {
		return nil, err
	}
	q.Conditions = cond
	return g.next.FindOne(ctx, collection, q)
}

// Count implements docstore.Store.
func (g *Guard) Count(ctx context.Context, collection string, cond domain.Conditions) (int64, error) {
	scoped, err := g.scope(ctx, collection, cond, true)
	if err != nil {
		return 0, err
	}
	return g.next.Count(ctx, collection, scoped)
}

// Distinct implements docstore.Store.
func (g *Guard) Distinct(ctx context.Context, collection, field string, cond domain.Conditions) ([]any, error) {
	scoped, err := g.scope(ctx, collection, cond, true)
	if err != nil {
		return nil, err
	}
	return g.next.Distinct(ctx, collection, field, scoped)
}

// Aggregate implements docstore.Store. The tenant is injected into the
// leading $match stage, which is synthesized when missing.
func (g *Guard) Aggregate(ctx context.Context, collection string, pipeline []docstore.Stage) ([]domain.Document, error) {
	s, err := g.schema(collection)
	if err != nil {
		return nil, err
	}
	if !s.Tenanted() || isUnscoped(ctx) {
		return g.next.Aggregate(ctx, collection, pipeline)
	}
	p, match := docstore.EnsureMatch(pipeline)
	if tenant, ok := ctxutil.TenantIDFromCtx(ctx); ok {
		match[domain.FieldOrganization] = tenant
	}
	if err := Check(match); err != nil {
		return nil, g.violation(ctx, collection, err.Error())
	}
	return g.next.Aggregate(ctx, collection, p)
}

// Insert implements docstore.Store. Every document is stamped with the
// tenant and audit fields before the bulk write.
func (g *Guard) Insert(ctx context.Context, collection string, docs ...domain.Document) error {
	s, err := g.schema(collection)
	if err != nil {
		return err
	}
	if !s.Tenanted() {
		return g.next.Insert(ctx, collection, docs...)
	}
	tenant, hasTenant := ctxutil.TenantIDFromCtx(ctx)
	actor, hasActor := ctxutil.ActorIDFromCtx(ctx)
	app := ctxutil.AppNameFromCtx(ctx)

	stamped := make([]domain.Document, len(docs))
	for i, d := range docs {
		d = d.Clone()
		if hasTenant {
			d[domain.FieldOrganization] = tenant
		}
		if !isScalarID(d[domain.FieldOrganization]) {
			return g.violation(ctx, collection, "insert without organization")
		}
		if app != "" && s.Has(domain.FieldAppName) {
			d[domain.FieldAppName] = app
		}
		if hasActor && s.Has(domain.FieldModifiedBy) {
			d[domain.FieldModifiedBy] = actor
		}
		stamped[i] = d
	}
	return g.next.Insert(ctx, collection, stamped...)
}

// Update implements docstore.Store. The organization of an existing
// record can never be changed.
func (g *Guard) Update(ctx context.Context, collection string, cond domain.Conditions, upd docstore.Update, opts docstore.UpdateOptions) (int64, error) {
	s, err := g.schema(collection)
	if err != nil {
		return 0, err
	}
	if s.Tenanted() {
		if _, ok := upd.Set[domain.FieldOrganization]; ok {
			return 0, g.violation(ctx, collection, "organization is immutable")
		}
	}
	scoped, err := g.scope(ctx, collection, cond, false)
	if err != nil {
		return 0, err
	}
	if actor, ok := ctxutil.ActorIDFromCtx(ctx); ok && s.Tenanted() && s.Has(domain.FieldModifiedBy) && len(upd.Set) > 0 {
		set := upd.Set.Clone()
		set[domain.FieldModifiedBy] = actor
		upd.Set = set
	}
	return g.next.Update(ctx, collection, scoped, upd, opts)
}

// Remove implements docstore.Store.
func (g *Guard) Remove(ctx context.Context, collection string, cond domain.Conditions) (int64, error) {
	scoped, err := g.scope(ctx, collection, cond, false)
	if err != nil {
		return 0, err
	}
	return g.next.Remove(ctx, collection, scoped)
}
