// Package mongo implements docstore.Store on MongoDB. Conditions use the
// server's own operator vocabulary and are passed through after _id values
// are converted to native ObjectIDs.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
)

// Config holds the connection parameters.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Store is a docstore.Store backed by one database.
type Store struct {
	db  *mongo.Database
	log *slog.Logger
}

// Connect dials the server and verifies connectivity.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	logger.Info("mongo connected", slog.String("database", cfg.Database))
	return New(client.Database(cfg.Database), logger), nil
}

// New wraps an existing database handle.
func New(db *mongo.Database, logger *slog.Logger) *Store {
	return &Store{db: db, log: logger.With("component", "mongo")}
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

// Ping implements the health check contract.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Find implements docstore.Store.
func (s *Store) Find(ctx context.Context, collection string, q docstore.Query) ([]domain.Document, error) {
	opts := options.Find()
	if order := sortSpec(q.Sort); order != nil {
		opts.SetSort(order)
	}
	if p := projection(q.Fields); p != nil {
		opts.SetProjection(p)
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}

	cur, err := s.db.Collection(collection).Find(ctx, filter(q.Conditions), opts)
	if err != nil {
		return nil, mapError(collection, err)
	}
	return decodeAll(ctx, collection, cur)
}

// FindOne implements docstore.Store.
func (s *Store) FindOne(ctx context.Context, collection string, q docstore.Query) (domain.Document, error) {
	opts := options.FindOne()
	if order := sortSpec(q.Sort); order != nil {
		opts.SetSort(order)
	}
	if p := projection(q.Fields); p != nil {
		opts.SetProjection(p)
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}

	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, filter(q.Conditions), opts).Decode(&raw)
	if err != nil {
		return nil, mapError(collection, err)
	}
	return mapFromBSON(raw), nil
}

// Count implements docstore.Store.
func (s *Store) Count(ctx context.Context, collection string, cond domain.Conditions) (int64, error) {
	n, err := s.db.Collection(collection).CountDocuments(ctx, filter(cond))
	if err != nil {
		return 0, mapError(collection, err)
	}
	return n, nil
}

// Distinct implements docstore.Store.
func (s *Store) Distinct(ctx context.Context, collection, field string, cond domain.Conditions) ([]any, error) {
	vals, err := s.db.Collection(collection).Distinct(ctx, field, filter(cond))
	if err != nil {
		return nil, mapError(collection, err)
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = fromBSON(v)
	}
	return out, nil
}

// Aggregate implements docstore.Store.
func (s *Store) Aggregate(ctx context.Context, collection string, stages []docstore.Stage) ([]domain.Document, error) {
	p, err := pipeline(stages)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", collection, err)
	}
	cur, err := s.db.Collection(collection).Aggregate(ctx, p)
	if err != nil {
		return nil, mapError(collection, err)
	}
	return decodeAll(ctx, collection, cur)
}

// Insert implements docstore.Store. The insert is ordered: on failure the
// documents before the failing one stay written.
func (s *Store) Insert(ctx context.Context, collection string, docs ...domain.Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]any, len(docs))
	for i, d := range docs {
		if d.ID() == "" {
			return fmt.Errorf("%s: insert without _id: %w", collection, domain.ErrValidation)
		}
		batch[i] = mapToBSON(d, false)
	}
	if _, err := s.db.Collection(collection).InsertMany(ctx, batch); err != nil {
		return mapError(collection, err)
	}
	return nil
}

// Update implements docstore.Store.
func (s *Store) Update(ctx context.Context, collection string, cond domain.Conditions, upd docstore.Update, opts docstore.UpdateOptions) (int64, error) {
	if upd.IsZero() {
		return s.Count(ctx, collection, cond)
	}
	c := s.db.Collection(collection)
	var (
		res *mongo.UpdateResult
		err error
	)
	if opts.Multi {
		res, err = c.UpdateMany(ctx, filter(cond), update(upd))
	} else {
		res, err = c.UpdateOne(ctx, filter(cond), update(upd))
	}
	if err != nil {
		return 0, mapError(collection, err)
	}
	return res.MatchedCount, nil
}

// Remove implements docstore.Store.
func (s *Store) Remove(ctx context.Context, collection string, cond domain.Conditions) (int64, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, filter(cond))
	if err != nil {
		return 0, mapError(collection, err)
	}
	return res.DeletedCount, nil
}

func decodeAll(ctx context.Context, collection string, cur *mongo.Cursor) ([]domain.Document, error) {
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, mapError(collection, err)
	}
	out := make([]domain.Document, len(raw))
	for i, r := range raw {
		out[i] = mapFromBSON(r)
	}
	return out, nil
}

func mapError(collection string, err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s: %w", collection, domain.ErrNotFound)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w", collection, domain.ErrAlreadyExists)
	default:
		return fmt.Errorf("%s: %w", collection, err)
	}
}
