package crud

import (
	"context"
	"fmt"

	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

// History returns the parsed change records of the record id, newest
// first. Collections without history return nothing.
func (s *Service) History(ctx context.Context, id string) ([]domain.ChangeRecord, error) {
	if !s.schema.Historized() || s.history == nil {
		return nil, nil
	}
	if !ids.IsValid(id) {
		return nil, fmt.Errorf("history %s %q: %w", s.schema.Collection, id, domain.ErrNotFound)
	}
	records, err := s.history.Retrieve(ctx, s.schema, id)
	if err != nil {
		return nil, fmt.Errorf("history %s %s: %w", s.schema.Collection, id, err)
	}
	return records, nil
}
