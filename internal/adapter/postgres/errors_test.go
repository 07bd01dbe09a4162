package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/heartmarshall/tenantkit/internal/domain"
)

func TestMapError_Nil(t *testing.T) {
	t.Parallel()

	if got := mapError(nil, "todos", "1"); got != nil {
		t.Errorf("mapError(nil) = %v, want nil", got)
	}
}

func TestMapError_NoRows(t *testing.T) {
	t.Parallel()

	got := mapError(pgx.ErrNoRows, "todos", "abc")
	if !errors.Is(got, domain.ErrNotFound) {
		t.Errorf("mapError(ErrNoRows) does not wrap domain.ErrNotFound: %v", got)
	}
	if want := "todos abc: not found"; got.Error() != want {
		t.Errorf("mapError(ErrNoRows).Error() = %q, want %q", got.Error(), want)
	}
}

func TestMapError_WrappedNoRows(t *testing.T) {
	t.Parallel()

	got := mapError(fmt.Errorf("scan row: %w", pgx.ErrNoRows), "todos", "")
	if !errors.Is(got, domain.ErrNotFound) {
		t.Errorf("mapError(wrapped ErrNoRows) does not wrap domain.ErrNotFound: %v", got)
	}
}

func TestMapError_PgCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		want error
	}{
		{"23505", domain.ErrAlreadyExists},
		{"23502", domain.ErrValidation},
		{"23514", domain.ErrValidation},
	}
	for _, tt := range tests {
		got := mapError(&pgconn.PgError{Code: tt.code}, "todos", "1")
		if !errors.Is(got, tt.want) {
			t.Errorf("mapError(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestMapError_ContextPassesThrough(t *testing.T) {
	t.Parallel()

	got := mapError(context.Canceled, "todos", "1")
	if !errors.Is(got, context.Canceled) {
		t.Errorf("mapError(Canceled) = %v, want context.Canceled", got)
	}
	if errors.Is(got, domain.ErrNotFound) {
		t.Errorf("context error mapped to a domain error: %v", got)
	}
}

func TestMapError_Unknown(t *testing.T) {
	t.Parallel()

	orig := errors.New("boom")
	got := mapError(orig, "todos", "")
	if !errors.Is(got, orig) {
		t.Errorf("mapError lost the original error: %v", got)
	}
	if want := "todos: boom"; got.Error() != want {
		t.Errorf("Error() = %q, want %q", got.Error(), want)
	}
}
