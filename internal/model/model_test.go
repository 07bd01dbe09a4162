package model

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/tenantkit/internal/adapter/memory"
	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/internal/history"
	"github.com/heartmarshall/tenantkit/pkg/ctxutil"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

var (
	tenant = ids.New()
	actor  = ids.New()
	fixed  = time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
)

var (
	listSchema = domain.NewTenantSchema("todo", "lists",
		domain.Field{Name: "name", Type: domain.FieldString},
		domain.Field{Name: "due", Type: domain.FieldDate},
	)
	todoSchema = domain.NewTenantSchema("todo", "todos",
		domain.Field{Name: "title", Type: domain.FieldString},
		domain.Field{Name: "points", Type: domain.FieldNumber},
		domain.Field{Name: "done", Type: domain.FieldBool, Default: false},
		domain.Field{Name: "list", Type: domain.FieldRef, Ref: "lists"},
		domain.Field{Name: domain.FieldHistory, Type: domain.FieldRef, Ref: "shared.histories", Array: true},
	)
)

type schemaMap map[string]*domain.Schema

func (m schemaMap) Schema(c string) (*domain.Schema, bool) {
	s, ok := m[c]
	return s, ok
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func actorCtx() context.Context {
	return ctxutil.WithRequest(context.Background(), ctxutil.Request{TenantID: tenant, ActorID: actor})
}

func newTestModel(t *testing.T) (*Model, *memory.Store) {
	t.Helper()
	store := memory.New()
	m := New(discard(), todoSchema, Deps{
		Store:    store,
		Recorder: history.NewRecorder(discard(), store),
		Schemas:  schemaMap{"lists": listSchema, "todos": todoSchema},
		Now:      func() time.Time { return fixed },
	})
	return m, store
}

func load(t *testing.T, store *memory.Store, coll, id string) domain.Document {
	t.Helper()
	doc, err := store.FindOne(context.Background(), coll, docstore.Query{Conditions: domain.Conditions{"_id": id}})
	require.NoError(t, err)
	return doc
}

// ---------------------------------------------------------------------------
// Save
// ---------------------------------------------------------------------------

func TestSave_InsertStampsAndRecords(t *testing.T) {
	t.Parallel()
	m, store := newTestModel(t)
	ctx := actorCtx()

	e := m.New(domain.Document{"title": "a", "organization": tenant})
	require.NoError(t, m.Save(ctx, e))
	require.NotEmpty(t, e.ID())
	assert.False(t, e.IsNew())

	doc := load(t, store, "todos", e.ID())
	assert.Equal(t, false, doc["done"], "default applied")
	assert.Equal(t, fixed.Truncate(time.Millisecond), doc["date_created"])
	assert.Equal(t, actor, doc["updated_by"])

	hist, _ := domain.AsSlice(doc["history"])
	require.Len(t, hist, 1)
	rec := load(t, store, history.Collection, hist[0].(string))
	assert.Equal(t, actor, rec["user"])
}

func TestSave_UpdateWritesOnlyChanges(t *testing.T) {
	t.Parallel()
	m, store := newTestModel(t)
	ctx := actorCtx()

	e := m.New(domain.Document{"title": "a", "points": 1, "organization": tenant})
	require.NoError(t, m.Save(ctx, e))

	loaded := m.Hydrate(load(t, store, "todos", e.ID()))
	loaded.Set("title", "b")
	require.NoError(t, m.Save(ctx, loaded))

	doc := load(t, store, "todos", e.ID())
	assert.Equal(t, "b", doc["title"])
	hist, _ := domain.AsSlice(doc["history"])
	require.Len(t, hist, 2)

	rec := load(t, store, history.Collection, hist[1].(string))
	changes, _ := domain.AsSlice(rec["changes"])
	require.Len(t, changes, 1)
	assert.Equal(t, map[string]any{"key": "title", "from": "a", "to": "b"}, changes[0])
	assert.Equal(t, hist, loaded.Get("history"), "entity tracks pushed record")
}

func TestSave_UnmodifiedIsNoop(t *testing.T) {
	t.Parallel()
	rec := &recorderMock{}
	m := New(discard(), todoSchema, Deps{Store: memory.New(), Recorder: rec})

	e := domain.LoadEntity(todoSchema, domain.Document{"_id": ids.New(), "title": "a"})
	assert.NoError(t, m.Save(actorCtx(), e), "no store call, so a missing record is not an error")
}

func TestSave_UpdateMissingRecord(t *testing.T) {
	t.Parallel()
	m, _ := newTestModel(t)

	e := domain.LoadEntity(todoSchema, domain.Document{"_id": ids.New(), "title": "a"})
	e.Set("title", "b")
	assert.ErrorIs(t, m.Save(actorCtx(), e), domain.ErrNotFound)
}

func TestSave_PersistFailureRetracts(t *testing.T) {
	t.Parallel()
	store := memory.New()
	rec := &recorderMock{
		PrepareFunc: func(_ context.Context, s *domain.Schema, e *domain.Entity) *domain.ChangeRecord {
			return &domain.ChangeRecord{ID: "r1"}
		},
		PersistFunc: func(context.Context, *domain.ChangeRecord) error { return errors.New("down") },
		RetractFunc: func(ctx context.Context, s *domain.Schema, entityID, recordID string) error {
			_, err := store.Update(ctx, s.Collection, domain.Conditions{"_id": entityID},
				docstore.Update{Pull: map[string][]any{"history": {recordID}}}, docstore.UpdateOptions{})
			return err
		},
	}
	m := New(discard(), todoSchema, Deps{Store: store, Recorder: rec})

	e := m.New(domain.Document{"title": "a"})
	require.NoError(t, m.Save(actorCtx(), e), "history failures never fail the save")

	require.Len(t, rec.RetractCalls(), 1)
	assert.Equal(t, "r1", rec.RetractCalls()[0].RecordID)
	assert.Equal(t, []any{}, load(t, store, "todos", e.ID())["history"])
}

func TestInsertMany(t *testing.T) {
	t.Parallel()
	m, store := newTestModel(t)

	docs, err := m.InsertMany(actorCtx(), []domain.Document{{"title": "a"}, {"title": "b"}})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.NotEmpty(t, d.ID())
		_, hasHistory := d["history"]
		assert.False(t, hasHistory)
	}
	n, err := store.Count(context.Background(), "todos", domain.Conditions{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

// ---------------------------------------------------------------------------
// Coerce
// ---------------------------------------------------------------------------

func TestCoerce_RestoresTypes(t *testing.T) {
	t.Parallel()
	m, _ := newTestModel(t)

	got := m.Coerce(domain.Document{
		"date_created": "2024-03-01T12:00:00.123Z",
		"points":       int64(3),
		"list":         map[string]any{"_id": "x", "due": "2024-01-02T00:00:00Z"},
		"title":        "2024-03-01",
	})

	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 123000000, time.UTC), got["date_created"])
	assert.Equal(t, 3.0, got["points"])
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), got["list"].(map[string]any)["due"])
	assert.Equal(t, "2024-03-01", got["title"], "strings stay strings")
}
