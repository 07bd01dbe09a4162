package mongo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

func setupMongo(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("mongo container test skipped in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Connect(ctx, Config{
		URI:      fmt.Sprintf("mongodb://%s:%s", host, port.Port()),
		Database: "tenantkit_test",
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestStore_CRUD(t *testing.T) {
	s := setupMongo(t)
	ctx := context.Background()
	a, b := ids.New(), ids.New()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Insert(ctx, "todos",
		domain.Document{"_id": a, "title": "a", "n": 1, "tags": []any{"x"}},
		domain.Document{"_id": b, "title": "b", "n": 2},
	))

	err := s.Insert(ctx, "todos", domain.Document{"_id": a, "title": "again"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	docs, err := s.Find(ctx, "todos", docstore.Query{
		Sort:   []docstore.SortField{{Key: "n", Desc: true}},
		Fields: []string{"title"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, domain.Document{"_id": b, "title": "b"}, docs[0])

	one, err := s.FindOne(ctx, "todos", docstore.Query{Conditions: domain.Conditions{"_id": a}})
	require.NoError(t, err)
	assert.Equal(t, "a", one["title"])
	assert.Equal(t, 1.0, one["n"])

	_, err = s.FindOne(ctx, "todos", docstore.Query{Conditions: domain.Conditions{"_id": ids.New()}})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	matched, err := s.Update(ctx, "todos", domain.Conditions{"_id": a}, docstore.Update{
		Set:  domain.Document{"title": "A"},
		Push: map[string][]any{"tags": {"y"}},
	}, docstore.UpdateOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, matched)

	one, err = s.FindOne(ctx, "todos", docstore.Query{Conditions: domain.Conditions{"_id": a}})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, one["tags"])

	vals, err := s.Distinct(ctx, "todos", "title", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"A", "b"}, vals)

	n, err := s.Count(ctx, "todos", domain.Conditions{"n": map[string]any{"$gte": 2}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	agg, err := s.Aggregate(ctx, "todos", []docstore.Stage{
		{"$group": map[string]any{"_id": nil, "total": map[string]any{"$sum": "$n"}}},
	})
	require.NoError(t, err)
	require.Len(t, agg, 1)
	assert.EqualValues(t, 3, agg[0]["total"])

	removed, err := s.Remove(ctx, "todos", domain.Conditions{"_id": map[string]any{"$in": []string{a, b}}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)
}
