package postgres_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/heartmarshall/tenantkit/internal/adapter/postgres"
	"github.com/heartmarshall/tenantkit/internal/adapter/postgres/testhelper"
	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	pool := testhelper.SetupTestDB(t)
	return postgres.NewStore(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStore_InsertFind(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	coll := testhelper.Collection(t, "todos")
	org := ids.New()
	due := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	err := s.Insert(ctx, coll,
		domain.Document{"_id": ids.New(), "organization": org, "title": "a", "n": 1.0, "due": due, "tags": []any{"x"}},
		domain.Document{"_id": ids.New(), "organization": org, "title": "b", "n": 2.0},
		domain.Document{"_id": ids.New(), "organization": ids.New(), "title": "c", "n": 3.0},
	)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	docs, err := s.Find(ctx, coll, docstore.Query{
		Conditions: domain.Conditions{"organization": org},
		Sort:       []docstore.SortField{{Key: "n", Desc: true}},
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(docs) != 2 || docs[0]["title"] != "b" {
		t.Fatalf("Find = %v, want [b a]", docs)
	}
	if got, ok := docs[1]["due"].(time.Time); !ok || !got.Equal(due) {
		t.Errorf("due = %#v, want %v", docs[1]["due"], due)
	}

	n, err := s.Count(ctx, coll, domain.Conditions{"tags": "x"})
	if err != nil || n != 1 {
		t.Errorf("Count(tags=x) = %d, %v; want 1", n, err)
	}

	n, err = s.Count(ctx, coll, domain.Conditions{"n": map[string]any{"$gte": 2}})
	if err != nil || n != 2 {
		t.Errorf("Count(n>=2) = %d, %v; want 2", n, err)
	}
}

func TestStore_InsertIsAtomic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	coll := testhelper.Collection(t, "todos")
	id := ids.New()

	if err := s.Insert(ctx, coll, domain.Document{"_id": id}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := s.Insert(ctx, coll, domain.Document{"_id": ids.New()}, domain.Document{"_id": id})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate Insert = %v, want ErrAlreadyExists", err)
	}

	n, err := s.Count(ctx, coll, nil)
	if err != nil || n != 1 {
		t.Errorf("Count = %d, %v; want 1 after rolled back batch", n, err)
	}
}

func TestStore_UpdateRemove(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	coll := testhelper.Collection(t, "todos")
	a, b := ids.New(), ids.New()

	if err := s.Insert(ctx, coll,
		domain.Document{"_id": a, "done": false, "tags": []any{"x"}},
		domain.Document{"_id": b, "done": false},
	); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	matched, err := s.Update(ctx, coll, domain.Conditions{"_id": a}, docstore.Update{
		Set:  domain.Document{"done": true},
		Push: map[string][]any{"tags": {"y"}},
	}, docstore.UpdateOptions{})
	if err != nil || matched != 1 {
		t.Fatalf("Update = %d, %v; want 1", matched, err)
	}

	doc, err := s.FindOne(ctx, coll, docstore.Query{Conditions: domain.Conditions{"_id": a}})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if doc["done"] != true || len(doc["tags"].([]any)) != 2 {
		t.Errorf("updated doc = %v", doc)
	}

	matched, err = s.Update(ctx, coll, domain.Conditions{}, docstore.Update{
		Set: domain.Document{"done": false},
	}, docstore.UpdateOptions{Multi: true})
	if err != nil || matched != 2 {
		t.Errorf("multi Update = %d, %v; want 2", matched, err)
	}

	removed, err := s.Remove(ctx, coll, domain.Conditions{"_id": map[string]any{"$in": []string{a, b}}})
	if err != nil || removed != 2 {
		t.Errorf("Remove = %d, %v; want 2", removed, err)
	}

	_, err = s.FindOne(ctx, coll, docstore.Query{Conditions: domain.Conditions{"_id": a}})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("FindOne after remove = %v, want ErrNotFound", err)
	}
}

func TestStore_Aggregate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	coll := testhelper.Collection(t, "todos")

	for i := 1; i <= 4; i++ {
		if err := s.Insert(ctx, coll, domain.Document{"_id": ids.New(), "done": i%2 == 0, "points": float64(i)}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	out, err := s.Aggregate(ctx, coll, []docstore.Stage{
		{"$match": domain.Conditions{"done": true}},
		{"$group": map[string]any{"_id": nil, "total": map[string]any{"$sum": "$points"}}},
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(out) != 1 || out[0]["total"] != 6.0 {
		t.Errorf("Aggregate = %v, want total 6", out)
	}
}
