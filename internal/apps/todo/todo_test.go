package todo

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/tenantkit/internal/adapter/memory"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/internal/history"
	"github.com/heartmarshall/tenantkit/internal/query"
	"github.com/heartmarshall/tenantkit/internal/registry"
	"github.com/heartmarshall/tenantkit/internal/service/crud"
	"github.com/heartmarshall/tenantkit/internal/tenancy"
	"github.com/heartmarshall/tenantkit/pkg/ctxutil"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func setup(t *testing.T) (*registry.Registry, context.Context) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.AddSchema(history.Schema()))
	store := tenancy.NewGuard(discard(), memory.New(), reg)
	_, err := Register(reg, crud.Deps{
		Store:    store,
		Recorder: history.NewRecorder(discard(), store),
		History:  history.NewResolver(discard(), store, reg),
		Schemas:  reg,
		Services: reg,
	}, 0, discard())
	require.NoError(t, err)

	ctx := ctxutil.WithRequest(context.Background(), ctxutil.Request{TenantID: ids.New(), ActorID: ids.New()})
	return reg, ctx
}

func service(t *testing.T, reg *registry.Registry, coll string) *crud.Service {
	t.Helper()
	svc, ok := reg.Service(App, coll)
	require.True(t, ok, coll)
	return svc
}

func TestRegister_AddsEveryCollection(t *testing.T) {
	t.Parallel()
	reg, _ := setup(t)

	var names []string
	for _, svc := range reg.Services() {
		names = append(names, svc.Schema().Collection)
	}
	assert.Equal(t, []string{"lists", "tags", "todos"}, names)

	_, err := Register(reg, crud.Deps{Store: memory.New()}, 0, discard())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestTodo_SingleReadPopulatesReferences(t *testing.T) {
	t.Parallel()
	reg, ctx := setup(t)

	list, err := service(t, reg, "lists").Create(ctx, domain.Document{"name": "Home"})
	require.NoError(t, err)
	tag, err := service(t, reg, "tags").Create(ctx, domain.Document{"label": "errand"})
	require.NoError(t, err)

	todos := service(t, reg, "todos")
	todo, err := todos.Create(ctx, domain.Document{
		"title":    "milk",
		"date_due": time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		"list":     list.ID(),
		"tags":     []any{tag.ID()},
	})
	require.NoError(t, err)
	assert.Equal(t, "normal", todo.Get("priority"))

	item, err := todos.FindByID(ctx, todo.ID(), query.Spec{})
	require.NoError(t, err)
	populated, ok := domain.AsMap(item.Document["list"])
	require.True(t, ok, "list is populated")
	assert.Equal(t, "Home", populated["name"])
}

func TestTag_RemovePreventedWhileUsed(t *testing.T) {
	t.Parallel()
	reg, ctx := setup(t)

	tags := service(t, reg, "tags")
	tag, err := tags.Create(ctx, domain.Document{"label": "errand"})
	require.NoError(t, err)
	_, err = service(t, reg, "todos").Create(ctx, domain.Document{
		"title":    "milk",
		"date_due": time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		"tags":     []any{tag.ID()},
	})
	require.NoError(t, err)

	_, err = tags.Remove(ctx, domain.Conditions{domain.FieldID: tag.ID()}, crud.RemoveOptions{Confirmed: true})
	assert.ErrorIs(t, err, domain.ErrRemovePrevented)
}

func TestTodo_DueDateRequired(t *testing.T) {
	t.Parallel()
	reg, ctx := setup(t)

	_, err := service(t, reg, "todos").Create(ctx, domain.Document{"title": "milk"})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "date_due", ve.Errors[0].Field)
}

func TestFields_RenameDueDate(t *testing.T) {
	t.Parallel()
	in := Fields["todos"].Inbound(domain.Document{"due": "2024-05-02"})
	assert.Equal(t, domain.Document{"date_due": "2024-05-02"}, in)
}
