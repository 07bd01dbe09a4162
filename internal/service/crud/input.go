package crud

import (
	"fmt"

	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

// managed fields are maintained by the model and the tenancy guard and
// never taken from input.
var managed = map[string]bool{
	domain.FieldID:           true,
	"id":                     true,
	"__v":                    true,
	domain.FieldOrganization: true,
	domain.FieldAppName:      true,
	domain.FieldModifiedBy:   true,
	domain.FieldUpdatedBy:    true,
	domain.FieldHistory:      true,
}

// strip prepares client input: referenced sub-documents collapse to their
// ids, empty strings on enum fields are cleared, and only whitelisted
// declared fields are kept. The input is not modified.
func (s *Service) strip(doc domain.Document, whitelist []string) domain.Document {
	allowed := make(map[string]bool, len(whitelist))
	for _, k := range whitelist {
		allowed[k] = true
	}
	fk := make(map[string]bool, len(s.cfg.ForeignKeyFields))
	for _, k := range s.cfg.ForeignKeyFields {
		fk[k] = true
	}

	out := domain.Document{}
	for k, v := range doc {
		if managed[k] || (len(allowed) > 0 && !allowed[k]) {
			continue
		}
		f, declared := s.schema.Field(k)
		if !declared {
			continue
		}
		if f.Type == domain.FieldRef || fk[k] {
			v = ids.Flatten(v)
		}
		if str, ok := v.(string); ok && str == "" && len(f.Enum) > 0 {
			continue
		}
		out[k] = domain.CloneValue(v)
	}
	return s.model.Coerce(out)
}

func (s *Service) createWhitelist() []string {
	if len(s.cfg.CreateFields) > 0 {
		return s.cfg.CreateFields
	}
	return s.cfg.UpdateFields
}

// validate checks enum membership of the given values and, for complete
// documents, the presence of required fields.
func (s *Service) validate(doc domain.Document, complete bool) error {
	var errs []domain.FieldError
	for _, f := range s.schema.Fields {
		v, ok := doc[f.Name]
		if complete && f.Required && (!ok || v == nil || v == "") && f.Default == nil {
			errs = append(errs, domain.FieldError{Field: f.Name, Message: "required"})
			continue
		}
		if !ok || len(f.Enum) == 0 || v == nil {
			continue
		}
		values, isArr := domain.AsSlice(v)
		if !isArr {
			values = []any{v}
		}
		for _, x := range values {
			str, isStr := x.(string)
			if !isStr || !f.AllowsEnum(str) {
				errs = append(errs, domain.FieldError{Field: f.Name, Message: fmt.Sprintf("%v is not an allowed value", x)})
				break
			}
		}
	}
	if len(errs) > 0 {
		return domain.NewValidationErrors(errs)
	}
	return nil
}
