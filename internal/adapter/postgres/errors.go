package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/heartmarshall/tenantkit/internal/domain"
)

// mapError converts pgx/pgconn errors to domain errors. Context errors pass
// through unmapped.
func mapError(err error, collection, id string) error {
	if err == nil {
		return nil
	}

	scope := collection
	if id != "" {
		scope = collection + " " + id
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", scope, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", scope, domain.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", scope, domain.ErrAlreadyExists)
		case "23502", "23514": // not_null_violation, check_violation
			return fmt.Errorf("%s: %w", scope, domain.ErrValidation)
		}
	}

	return fmt.Errorf("%s: %w", scope, err)
}
