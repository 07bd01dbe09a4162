package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/heartmarshall/tenantkit/internal/domain"
)

// Error names returned in the "name" field of error bodies.
const (
	ErrNameBadRequest            = "bad_request"
	ErrNameUnknown               = "unknown"
	ErrNameDatabase              = "database_error"
	ErrNameValidationFailed      = "validation_failed"
	ErrNameDuplicateUniqueFields = "duplicate_unique_fields"
	ErrNameItemNonRemoveable     = "item_non_removeable"
	ErrNameRemovePrevented       = "remove_prevented"
	ErrNameRemoveUnconfirmed     = "remove_unconfirmed"
	ErrNameNotFound              = "not_found"
	ErrNameUnauthorized          = "unauthorized"
)

type errorDef struct {
	status  int
	message string
}

// errorTable maps error names to their status and message. Policy
// violations are programming errors and share the 5xx range with
// infrastructure failures.
var errorTable = map[string]errorDef{
	ErrNameBadRequest:            {http.StatusInternalServerError, "Bad request"},
	ErrNameUnknown:               {http.StatusInternalServerError, "Unknown error"},
	ErrNameDatabase:              {http.StatusInternalServerError, "Database error"},
	ErrNameValidationFailed:      {http.StatusUnprocessableEntity, "Validation failed"},
	ErrNameDuplicateUniqueFields: {http.StatusConflict, "Duplicate unique fields"},
	ErrNameItemNonRemoveable:     {http.StatusConflict, "Item can not be removed"},
	ErrNameRemovePrevented:       {http.StatusConflict, "Remove prevented by dependent records"},
	ErrNameRemoveUnconfirmed:     {http.StatusPreconditionFailed, "Remove requires confirmation"},
	ErrNameNotFound:              {http.StatusNotFound, "Not found"},
	ErrNameUnauthorized:          {http.StatusUnauthorized, "Unauthorized"},
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Name         string                       `json:"name"`
	Message      string                       `json:"message"`
	Errors       []domain.FieldError          `json:"errors,omitempty"`
	Records      []domain.Document            `json:"records,omitempty"`
	Dependencies map[string][]domain.Document `json:"dependencies,omitempty"`
}

// ParseError converts err into its response body and status code.
func ParseError(err error) (ErrorBody, int) {
	var (
		body ErrorBody
		ve   *domain.ValidationError
		de   *domain.DuplicateError
		dep  *domain.DependencyError
	)
	switch {
	case errors.As(err, &ve):
		body = ErrorBody{Name: ErrNameValidationFailed, Errors: ve.Errors}
	case errors.As(err, &de):
		body = ErrorBody{Name: ErrNameDuplicateUniqueFields, Records: de.Records}
	case errors.As(err, &dep):
		body = ErrorBody{Name: ErrNameRemovePrevented, Dependencies: dep.Dependencies}
		if dep.Confirmable {
			body.Name = ErrNameRemoveUnconfirmed
		}
	case errors.Is(err, domain.ErrValidation):
		body = ErrorBody{Name: ErrNameValidationFailed}
	case errors.Is(err, domain.ErrDuplicateUniqueFields):
		body = ErrorBody{Name: ErrNameDuplicateUniqueFields}
	case errors.Is(err, domain.ErrRemoveUnconfirmed):
		body = ErrorBody{Name: ErrNameRemoveUnconfirmed}
	case errors.Is(err, domain.ErrRemovePrevented):
		body = ErrorBody{Name: ErrNameRemovePrevented}
	case errors.Is(err, domain.ErrItemNonRemoveable):
		body = ErrorBody{Name: ErrNameItemNonRemoveable}
	case errors.Is(err, domain.ErrNotFound):
		body = ErrorBody{Name: ErrNameNotFound}
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrForbidden):
		body = ErrorBody{Name: ErrNameUnauthorized}
	case errors.Is(err, domain.ErrBadRequest):
		body = ErrorBody{Name: ErrNameBadRequest}
	case errors.Is(err, domain.ErrAlreadyExists):
		body = ErrorBody{Name: ErrNameDatabase}
	default:
		body = ErrorBody{Name: ErrNameUnknown}
	}
	def := errorTable[body.Name]
	body.Message = def.message
	return body, def.status
}

// writeServiceError writes err as a JSON error response. Server-side
// failures are logged with the original error.
func writeServiceError(ctx context.Context, log *slog.Logger, w http.ResponseWriter, err error) {
	body, status := ParseError(err)
	if status >= http.StatusInternalServerError {
		log.ErrorContext(ctx, "request failed",
			slog.String("name", body.Name),
			slog.String("error", err.Error()),
		)
	} else {
		log.DebugContext(ctx, "request rejected",
			slog.String("name", body.Name),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, body)
}

// writeNamedError writes one of the table errors without an underlying
// service error.
func writeNamedError(w http.ResponseWriter, name string) {
	def, ok := errorTable[name]
	if !ok {
		name, def = ErrNameUnknown, errorTable[ErrNameUnknown]
	}
	writeJSON(w, def.status, ErrorBody{Name: name, Message: def.message})
}
