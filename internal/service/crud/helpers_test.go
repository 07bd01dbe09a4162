package crud

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/tenantkit/internal/adapter/memory"
	"github.com/heartmarshall/tenantkit/internal/cache"
	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/internal/history"
	"github.com/heartmarshall/tenantkit/internal/tenancy"
	"github.com/heartmarshall/tenantkit/pkg/ctxutil"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

var (
	tenant = ids.New()
	other  = ids.New()
	actor  = ids.New()
)

var (
	listSchema = domain.NewTenantSchema("todo", "lists",
		domain.Field{Name: "name", Type: domain.FieldString, Required: true},
		domain.Field{Name: "color", Type: domain.FieldString, Enum: []string{"red", "blue"}},
		domain.Field{Name: domain.FieldInactive, Type: domain.FieldBool, Default: false},
		domain.Field{Name: domain.FieldHistory, Type: domain.FieldRef, Ref: "shared.histories", Array: true},
	)
	todoSchema = domain.NewTenantSchema("todo", "todos",
		domain.Field{Name: "title", Type: domain.FieldString, Required: true},
		domain.Field{Name: "points", Type: domain.FieldNumber},
		domain.Field{Name: "due", Type: domain.FieldDate},
		domain.Field{Name: "done", Type: domain.FieldBool, Default: false},
		domain.Field{Name: "list", Type: domain.FieldRef, Ref: "lists"},
		domain.Field{Name: "tags", Type: domain.FieldRef, Ref: "tags", Array: true},
		domain.Field{Name: domain.FieldInactive, Type: domain.FieldBool, Default: false},
		domain.Field{Name: domain.FieldHistory, Type: domain.FieldRef, Ref: "shared.histories", Array: true},
	)
	tagSchema = domain.NewTenantSchema("todo", "tags",
		domain.Field{Name: "label", Type: domain.FieldString},
	)
)

type schemaMap map[string]*domain.Schema

func (m schemaMap) Schema(c string) (*domain.Schema, bool) {
	s, ok := m[c]
	return s, ok
}

// serviceMap resolves services by "app.collection".
type serviceMap map[string]*Service

func (m serviceMap) Service(app, coll string) (*Service, bool) {
	s, ok := m[app+"."+coll]
	return s, ok
}

func (m serviceMap) Finder(app, coll string) (history.Finder, bool) {
	s, ok := m[app+"."+coll]
	if !ok {
		return nil, false
	}
	return s, true
}

// clock advances one second per reading.
type clock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func tenantCtx(org string) context.Context {
	return ctxutil.WithRequest(context.Background(), ctxutil.Request{TenantID: org, ActorID: actor, AppName: "todo"})
}

type fixture struct {
	raw      *memory.Store
	store    docstore.Store
	cache    *cache.Cache
	deps     Deps
	services serviceMap
	lists    *Service
	todos    *Service
	tags     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	raw := memory.New()
	schemas := schemaMap{
		"lists":            listSchema,
		"todos":            todoSchema,
		"tags":             tagSchema,
		history.Collection: history.Schema(),
	}
	guarded := tenancy.NewGuard(discard(), raw, schemas)
	services := serviceMap{}
	clk := &clock{cur: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}

	f := &fixture{
		raw:      raw,
		store:    guarded,
		cache:    cache.New(discard(), cache.NewMemory(time.Minute, time.Minute), cache.Options{}),
		services: services,
	}
	f.deps = Deps{
		Store:    guarded,
		Cache:    f.cache,
		Recorder: history.NewRecorder(discard(), guarded),
		History:  history.NewResolver(discard(), guarded, services),
		Schemas:  schemas,
		Services: services,
		Now:      clk.Now,
	}

	f.lists = New(discard(), listSchema, Config{
		UniqueFields: [][]string{{"name"}},
		FilterFields: []string{"color"},
		Dependencies: []Dependency{{Name: "todos", Kind: Confirm, Collection: "todos", Field: "list"}},
	}, f.deps)
	f.todos = New(discard(), todoSchema, Config{
		FilterFields: []string{"done", "points", "due", "list"},
		UpdateFields: []string{"title", "points", "due", "done", "list", "tags"},
	}, f.deps)
	f.tags = New(discard(), tagSchema, Config{}, f.deps)

	services["todo.lists"] = f.lists
	services["todo.todos"] = f.todos
	services["todo.tags"] = f.tags
	return f
}

func (f *fixture) createList(t *testing.T, ctx context.Context, name string) *domain.Entity {
	t.Helper()
	e, err := f.lists.Create(ctx, domain.Document{"name": name})
	require.NoError(t, err)
	return e
}

func (f *fixture) createTodo(t *testing.T, ctx context.Context, doc domain.Document) *domain.Entity {
	t.Helper()
	e, err := f.todos.Create(ctx, doc)
	require.NoError(t, err)
	return e
}

func (f *fixture) rawDoc(t *testing.T, coll, id string) domain.Document {
	t.Helper()
	doc, err := f.raw.FindOne(context.Background(), coll, docstore.Query{Conditions: domain.Conditions{domain.FieldID: id}})
	require.NoError(t, err)
	return doc
}
