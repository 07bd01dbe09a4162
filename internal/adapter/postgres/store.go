// Package postgres implements docstore.Store on a single JSONB table.
// Conditions are narrowed in SQL where jsonb containment can express them
// and evaluated in process for the rest.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
)

const table = "documents"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store is a docstore.Store on the documents table.
type Store struct {
	pool *pgxpool.Pool
	tx   *TxManager
	log  *slog.Logger
}

// NewStore creates a Store. The schema is created by Migrate.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, tx: NewTxManager(pool), log: logger.With("component", "postgres")}
}

// Ping implements the health check contract.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type row struct {
	id  string
	doc domain.Document
}

// scan loads the rows of collection matching cond. lock adds FOR UPDATE.
func (s *Store) scan(ctx context.Context, collection string, cond domain.Conditions, lock bool) ([]row, error) {
	m, err := docstore.NewMatcher(cond)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", collection, err)
	}

	b := psql.Select("id", "doc").From(table).Where(narrow(collection, cond)).OrderBy("created_at", "id")
	if lock {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", collection, err)
	}

	rows, err := QuerierFromCtx(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, collection, "")
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, mapError(err, collection, "")
		}
		doc, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%s %s: decode: %w", collection, id, err)
		}
		if m.Match(doc) {
			out = append(out, row{id: id, doc: doc})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, collection, "")
	}
	return out, nil
}

func docsOf(rows []row) []domain.Document {
	out := make([]domain.Document, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out
}

// Find implements docstore.Store.
func (s *Store) Find(ctx context.Context, collection string, q docstore.Query) ([]domain.Document, error) {
	rows, err := s.scan(ctx, collection, q.Conditions, false)
	if err != nil {
		return nil, err
	}
	docs := docsOf(rows)
	docstore.SortDocuments(docs, q.Sort)
	docs = docstore.Window(docs, q.Skip, q.Limit)
	for i, d := range docs {
		docs[i] = docstore.Project(d, q.Fields)
	}
	return docs, nil
}

// FindOne implements docstore.Store.
func (s *Store) FindOne(ctx context.Context, collection string, q docstore.Query) (domain.Document, error) {
	q.Limit = 1
	docs, err := s.Find(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, mapError(pgx.ErrNoRows, collection, "")
	}
	return docs[0], nil
}

// Count implements docstore.Store.
func (s *Store) Count(ctx context.Context, collection string, cond domain.Conditions) (int64, error) {
	rows, err := s.scan(ctx, collection, cond, false)
	return int64(len(rows)), err
}

// Distinct implements docstore.Store.
func (s *Store) Distinct(ctx context.Context, collection, field string, cond domain.Conditions) ([]any, error) {
	rows, err := s.scan(ctx, collection, cond, false)
	if err != nil {
		return nil, err
	}
	return docstore.DistinctValues(docsOf(rows), field), nil
}

// Aggregate implements docstore.Store. The leading $match narrows the rows
// loaded; the pipeline then runs in process.
func (s *Store) Aggregate(ctx context.Context, collection string, pipeline []docstore.Stage) ([]domain.Document, error) {
	pipeline, cond := docstore.EnsureMatch(pipeline)
	rows, err := s.scan(ctx, collection, cond, false)
	if err != nil {
		return nil, err
	}
	out, err := docstore.EvalPipeline(docsOf(rows), pipeline[1:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", collection, err)
	}
	return out, nil
}

// Insert implements docstore.Store. The batch is all-or-nothing.
func (s *Store) Insert(ctx context.Context, collection string, docs ...domain.Document) error {
	if len(docs) == 0 {
		return nil
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		for _, d := range docs {
			id := d.ID()
			if id == "" {
				return fmt.Errorf("%s: insert without _id: %w", collection, domain.ErrValidation)
			}
			raw, err := encode(d)
			if err != nil {
				return fmt.Errorf("%s %s: encode: %w", collection, id, err)
			}
			query, args, err := psql.Insert(table).
				Columns("collection", "id", "doc").
				Values(collection, id, raw).
				ToSql()
			if err != nil {
				return fmt.Errorf("%s: build insert: %w", collection, err)
			}
			batch.Queue(query, args...)
		}
		return s.execBatch(ctx, collection, batch)
	})
}

// Update implements docstore.Store as a locked read-modify-write.
func (s *Store) Update(ctx context.Context, collection string, cond domain.Conditions, upd docstore.Update, opts docstore.UpdateOptions) (int64, error) {
	var matched int64
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		rows, err := s.scan(ctx, collection, cond, true)
		if err != nil {
			return err
		}
		if !opts.Multi && len(rows) > 1 {
			rows = rows[:1]
		}
		matched = int64(len(rows))
		if len(rows) == 0 || upd.IsZero() {
			return nil
		}

		batch := &pgx.Batch{}
		for _, r := range rows {
			raw, err := encode(docstore.Apply(r.doc, upd))
			if err != nil {
				return fmt.Errorf("%s %s: encode: %w", collection, r.id, err)
			}
			query, args, err := psql.Update(table).
				Set("doc", raw).
				Set("updated_at", sq.Expr("now()")).
				Where(sq.Eq{"collection": collection, "id": r.id}).
				ToSql()
			if err != nil {
				return fmt.Errorf("%s: build update: %w", collection, err)
			}
			batch.Queue(query, args...)
		}
		return s.execBatch(ctx, collection, batch)
	})
	return matched, err
}

// Remove implements docstore.Store.
func (s *Store) Remove(ctx context.Context, collection string, cond domain.Conditions) (int64, error) {
	var removed int64
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		rows, err := s.scan(ctx, collection, cond, true)
		if err != nil || len(rows) == 0 {
			return err
		}
		ids := make([]string, len(rows))
		for i, r := range rows {
			ids[i] = r.id
		}
		query, args, err := psql.Delete(table).
			Where(sq.Eq{"collection": collection, "id": ids}).
			ToSql()
		if err != nil {
			return fmt.Errorf("%s: build delete: %w", collection, err)
		}
		tag, err := QuerierFromCtx(ctx, s.pool).Exec(ctx, query, args...)
		if err != nil {
			return mapError(err, collection, "")
		}
		removed = tag.RowsAffected()
		return nil
	})
	return removed, err
}

func (s *Store) execBatch(ctx context.Context, collection string, batch *pgx.Batch) error {
	br := QuerierFromCtx(ctx, s.pool).SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return mapError(err, collection, "")
		}
	}
	if err := br.Close(); err != nil {
		return mapError(err, collection, "")
	}
	return nil
}
