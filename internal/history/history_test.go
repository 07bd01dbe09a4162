package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/tenantkit/internal/adapter/memory"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/pkg/ctxutil"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

var (
	tenant = ids.New()
	actor  = ids.New()
)

var todoSchema = domain.NewTenantSchema("todo", "todos",
	domain.Field{Name: domain.FieldID, Type: domain.FieldString},
	domain.Field{Name: "title", Type: domain.FieldString},
	domain.Field{Name: "list", Type: domain.FieldRef, Ref: "lists"},
	domain.Field{Name: "assignees", Type: domain.FieldRef, Ref: "shared.users", Array: true},
	domain.Field{Name: "meta", Type: domain.FieldObject},
	domain.Field{Name: "last_updated", Type: domain.FieldDate},
	domain.Field{Name: domain.FieldHistory, Type: domain.FieldRef, Ref: "shared.histories", Array: true},
)

func actorCtx() context.Context {
	return ctxutil.WithRequest(context.Background(), ctxutil.Request{TenantID: tenant, ActorID: actor, AppName: "todo"})
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type finderFunc func(ctx context.Context, ids []string) ([]domain.Document, error)

func (f finderFunc) FindByIDs(ctx context.Context, ids []string) ([]domain.Document, error) {
	return f(ctx, ids)
}

type lookupMap map[string]Finder

func (l lookupMap) Finder(app, coll string) (Finder, bool) {
	f, ok := l[app+"."+coll]
	return f, ok
}

// ---------------------------------------------------------------------------
// Diff
// ---------------------------------------------------------------------------

func TestDiff_ScalarChange(t *testing.T) {
	t.Parallel()

	e := domain.LoadEntity(todoSchema, domain.Document{"_id": ids.New(), "title": "a", "last_updated": time.Now()})
	e.Set("title", "b")
	e.Set("last_updated", time.Now().Add(time.Hour))
	e.Set("undeclared", 1)

	assert.Equal(t, []domain.Change{{Key: "title", From: "a", To: "b"}}, Diff(todoSchema, e))
}

func TestDiff_RefsFlattenedAndEqualSkipped(t *testing.T) {
	t.Parallel()
	list := ids.New()
	u1, u2 := ids.New(), ids.New()

	e := domain.LoadEntity(todoSchema, domain.Document{
		"list":      list,
		"assignees": []any{u1, u2},
		"meta":      map[string]any{"_id": ids.New(), "k": 1},
	})
	e.Set("list", map[string]any{"_id": list, "name": "populated"})
	e.Set("assignees", []any{u2, u1})
	e.Set("meta", map[string]any{"_id": ids.New(), "k": 1})

	assert.Empty(t, Diff(todoSchema, e))
}

func TestDiff_EmptyValuesEqual(t *testing.T) {
	t.Parallel()

	e := domain.LoadEntity(todoSchema, domain.Document{"title": ""})
	e.Set("title", nil)
	e.Set("assignees", []any{})

	assert.Empty(t, Diff(todoSchema, e))
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

func TestRecorder_Prepare(t *testing.T) {
	t.Parallel()
	r := NewRecorder(discard(), memory.New())
	id := ids.New()

	e := domain.LoadEntity(todoSchema, domain.Document{"_id": id, "title": "a"})
	e.Set("title", "b")

	rec := r.Prepare(actorCtx(), todoSchema, e)
	require.NotNil(t, rec)
	assert.Equal(t, actor, rec.User)
	assert.Equal(t, tenant, rec.Organization)
	assert.Equal(t, domain.EntityRef{Collection: "todos", ID: id}, rec.Entity)
	assert.Len(t, rec.Changes, 1)

	assert.Nil(t, r.Prepare(context.Background(), todoSchema, e), "no actor, no record")

	unchanged := domain.LoadEntity(todoSchema, domain.Document{"_id": id, "title": "a"})
	assert.Nil(t, r.Prepare(actorCtx(), todoSchema, unchanged))

	plain := domain.NewTenantSchema("todo", "tags", domain.Field{Name: "name", Type: domain.FieldString})
	assert.Nil(t, r.Prepare(actorCtx(), plain, domain.NewEntity(plain, domain.Document{"name": "x"})))
}

func TestRecorder_PersistAndRetrieve(t *testing.T) {
	t.Parallel()
	store := memory.New()
	ctx := actorCtx()
	r := NewRecorder(discard(), store)
	id := ids.New()

	for i, title := range []string{"b", "c"} {
		e := domain.LoadEntity(todoSchema, domain.Document{"_id": id, "title": []string{"a", "b"}[i]})
		e.Set("title", title)
		rec := r.Prepare(ctx, todoSchema, e)
		require.NotNil(t, rec)
		rec.Date = time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, r.Persist(ctx, rec))
	}

	res := NewResolver(discard(), store, lookupMap{})
	records, err := res.Retrieve(ctx, todoSchema, id)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].Changes[0].To, "newest first")
	assert.Equal(t, "b", records[1].Changes[0].To)
}

func TestRecorder_Retract(t *testing.T) {
	t.Parallel()
	store := memory.New()
	ctx := actorCtx()
	id := ids.New()
	require.NoError(t, store.Insert(ctx, "todos", domain.Document{"_id": id, "history": []any{"h1", "h2"}}))

	require.NoError(t, NewRecorder(discard(), store).Retract(ctx, todoSchema, id, "h2"))

	n, err := store.Count(ctx, "todos", domain.Conditions{"history": "h2"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

func TestResolver_Parse(t *testing.T) {
	t.Parallel()
	l1, l2 := ids.New(), ids.New()
	u1, u2, u3 := ids.New(), ids.New(), ids.New()
	var userCalls atomic.Int32

	lookup := lookupMap{
		"todo.lists": finderFunc(func(_ context.Context, in []string) ([]domain.Document, error) {
			var out []domain.Document
			for _, id := range in {
				out = append(out, domain.Document{"_id": id, "name": "list-" + id[:4]})
			}
			return out, nil
		}),
		"shared.users": finderFunc(func(_ context.Context, in []string) ([]domain.Document, error) {
			userCalls.Add(1)
			var out []domain.Document
			for _, id := range in {
				if id != u3 {
					out = append(out, domain.Document{"_id": id, "name": "user"})
				}
			}
			return out, nil
		}),
	}
	records := []domain.ChangeRecord{{Changes: []domain.Change{
		{Key: "list", From: l1, To: l2},
		{Key: "assignees", From: []any{u1, u2}, To: []any{u2, u3}},
		{Key: "title", From: "a", To: "b"},
	}}}

	out, err := NewResolver(discard(), memory.New(), lookup).Parse(actorCtx(), todoSchema, records)
	require.NoError(t, err)
	changes := out[0].Changes

	assert.Equal(t, domain.Document{"_id": l1, "name": "list-" + l1[:4]}, changes[0].From)
	assert.Equal(t, domain.Document{"_id": l2, "name": "list-" + l2[:4]}, changes[0].To)

	assert.Nil(t, changes[1].From)
	assert.Nil(t, changes[1].To)
	assert.Equal(t, []any{u3}, changes[1].Added, "unresolved ids stay raw")
	assert.Equal(t, []any{domain.Document{"_id": u1, "name": "user"}}, changes[1].Removed)
	assert.EqualValues(t, 1, userCalls.Load())

	assert.Equal(t, "a", changes[2].From)
	assert.Equal(t, "a", records[0].Changes[2].From, "input records are not modified")
}

func TestResolver_ArraysWithoutIDs(t *testing.T) {
	t.Parallel()
	records := []domain.ChangeRecord{{Changes: []domain.Change{
		{Key: "scores", From: []any{1.0, 2.0}, To: []any{1.0, 2.0, 3.0}},
		{Key: "labels", From: []any{map[string]any{"n": "a"}}, To: []any{map[string]any{"n": "a"}, map[string]any{"n": "b"}}},
		{Key: "words", From: []any{"x", "y"}, To: []any{"y"}},
	}}}

	out, err := NewResolver(discard(), memory.New(), lookupMap{}).Parse(actorCtx(), todoSchema, records)
	require.NoError(t, err)
	changes := out[0].Changes

	assert.Equal(t, []any{3.0}, changes[0].Added)
	assert.Empty(t, changes[0].Removed)
	assert.Equal(t, []any{map[string]any{"n": "b"}}, changes[1].Added)
	assert.Empty(t, changes[1].Removed)
	assert.Empty(t, changes[2].Added)
	assert.Equal(t, []any{"x"}, changes[2].Removed)
}

func TestResolver_InfersTargetFromKey(t *testing.T) {
	t.Parallel()
	cat := ids.New()
	schema := domain.NewTenantSchema("todo", "notes", domain.Field{Name: "category_id", Type: domain.FieldString})

	lookup := lookupMap{"shared.categories": finderFunc(func(_ context.Context, in []string) ([]domain.Document, error) {
		return []domain.Document{{"_id": in[0], "name": "c"}}, nil
	})}

	out, err := NewResolver(discard(), memory.New(), lookup).Parse(actorCtx(), schema,
		[]domain.ChangeRecord{{Changes: []domain.Change{{Key: "category_id", To: cat}}}})
	require.NoError(t, err)
	assert.Equal(t, domain.Document{"_id": cat, "name": "c"}, out[0].Changes[0].To)
}

func TestResolver_FinderError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	lookup := lookupMap{"todo.lists": finderFunc(func(context.Context, []string) ([]domain.Document, error) {
		return nil, boom
	})}

	_, err := NewResolver(discard(), memory.New(), lookup).Parse(actorCtx(), todoSchema,
		[]domain.ChangeRecord{{Changes: []domain.Change{{Key: "list", To: ids.New()}}}})
	assert.ErrorIs(t, err, boom)
}

func TestPluralize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "lists", pluralize("list"))
	assert.Equal(t, "categories", pluralize("category"))
	assert.Equal(t, "keys", pluralize("key"))
	assert.Equal(t, "users", pluralize("users"))
}
