package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/internal/query"
	"github.com/heartmarshall/tenantkit/internal/service/crud"
	"github.com/heartmarshall/tenantkit/pkg/ctxutil"
)

// crudService defines the service operations a Controller exposes.
type crudService interface {
	Schema() *domain.Schema
	Find(ctx context.Context, spec query.Spec) (*crud.Page, error)
	FindByID(ctx context.Context, id string, spec query.Spec) (*crud.Item, error)
	Create(ctx context.Context, doc domain.Document) (*domain.Entity, error)
	BatchCreate(ctx context.Context, docs []domain.Document, opts crud.BatchOptions) (*crud.BatchResult, error)
	Update(ctx context.Context, target crud.UpdateTarget, changes domain.Document) (*crud.UpdateResult, error)
	Remove(ctx context.Context, cond domain.Conditions, opts crud.RemoveOptions) (*crud.RemoveResult, error)
	History(ctx context.Context, id string) ([]domain.ChangeRecord, error)
}

// Options configures a Controller.
type Options struct {
	// Prefix is the path prefix of every route, e.g. "/api".
	Prefix string
	// MaxBodyBytes limits request bodies. Zero disables the limit.
	MaxBodyBytes int64
	Fields       FieldMap
}

// Controller maps the HTTP verbs of one collection onto its service.
type Controller struct {
	svc  crudService
	opts Options
	app  string
	base string
	log  *slog.Logger
}

// NewController creates a Controller serving {prefix}/{app}/{collection}.
func NewController(svc crudService, opts Options, logger *slog.Logger) *Controller {
	s := svc.Schema()
	prefix := strings.TrimRight(opts.Prefix, "/")
	return &Controller{
		svc:  svc,
		opts: opts,
		app:  s.App,
		base: prefix + "/" + s.App + "/" + s.Collection,
		log:  logger.With("handler", s.App+"."+s.Collection),
	}
}

// Base returns the collection path.
func (c *Controller) Base() string { return c.base }

// Register adds the collection routes to mux.
func (c *Controller) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+c.base, c.withApp(c.List))
	mux.HandleFunc("POST "+c.base, c.withApp(c.Create))
	mux.HandleFunc("POST "+c.base+"/batch", c.withApp(c.BatchCreate))
	mux.HandleFunc("GET "+c.base+"/{id}", c.withApp(c.Get))
	mux.HandleFunc("PUT "+c.base+"/{id}", c.withApp(c.Update))
	mux.HandleFunc("DELETE "+c.base+"/{id}", c.withApp(c.Remove))
	mux.HandleFunc("GET "+c.base+"/{id}/history", c.withApp(c.History))
}

// withApp marks the request as served by the controller's app.
func (c *Controller) withApp(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := ctxutil.UpdateRequest(r.Context(), func(req *ctxutil.Request) {
			req.AppName = c.app
		})
		next(w, r.WithContext(ctx))
	}
}

// List handles GET {base}.
func (c *Controller) List(w http.ResponseWriter, r *http.Request) {
	page, err := c.svc.Find(r.Context(), query.Parse(r.URL.Query()))
	if err != nil {
		writeServiceError(r.Context(), c.log, w, err)
		return
	}
	if page.Pagination != nil {
		for k, v := range page.Pagination.Headers() {
			w.Header()[k] = v
		}
	}

	out := make([]domain.Document, 0, page.Len())
	if page.Entities != nil {
		for _, e := range page.Entities {
			out = append(out, c.opts.Fields.Outbound(e.Document()))
		}
	} else {
		for _, d := range page.Documents {
			out = append(out, c.opts.Fields.Outbound(d))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET {base}/{id}.
func (c *Controller) Get(w http.ResponseWriter, r *http.Request) {
	item, err := c.svc.FindByID(r.Context(), r.PathValue("id"), query.Parse(r.URL.Query()))
	if err != nil {
		writeServiceError(r.Context(), c.log, w, err)
		return
	}
	doc := item.Document
	if item.Entity != nil {
		doc = item.Entity.Document()
	}
	writeJSON(w, http.StatusOK, c.opts.Fields.Outbound(doc))
}

// Create handles POST {base}.
func (c *Controller) Create(w http.ResponseWriter, r *http.Request) {
	var body domain.Document
	if err := c.decode(w, r, &body); err != nil {
		writeServiceError(r.Context(), c.log, w, err)
		return
	}
	e, err := c.svc.Create(r.Context(), c.opts.Fields.Inbound(body))
	if err != nil {
		writeServiceError(r.Context(), c.log, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.opts.Fields.Outbound(e.Document()))
}

type batchResponse struct {
	Created []domain.Document `json:"created"`
	Skipped []domain.Document `json:"skipped,omitempty"`
}

// BatchCreate handles POST {base}/batch. ?skip_duplicates=true drops the
// documents violating uniqueness instead of failing the batch.
func (c *Controller) BatchCreate(w http.ResponseWriter, r *http.Request) {
	var body []domain.Document
	if err := c.decode(w, r, &body); err != nil {
		writeServiceError(r.Context(), c.log, w, err)
		return
	}
	for i := range body {
		body[i] = c.opts.Fields.Inbound(body[i])
	}
	res, err := c.svc.BatchCreate(r.Context(), body, crud.BatchOptions{
		SkipDuplicates: flag(r, "skip_duplicates"),
	})
	if err != nil {
		writeServiceError(r.Context(), c.log, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, batchResponse{
		Created: c.outboundAll(res.Created),
		Skipped: c.outboundAll(res.Skipped),
	})
}

// Update handles PUT {base}/{id}.
func (c *Controller) Update(w http.ResponseWriter, r *http.Request) {
	var body domain.Document
	if err := c.decode(w, r, &body); err != nil {
		writeServiceError(r.Context(), c.log, w, err)
		return
	}
	item, err := c.svc.FindByID(r.Context(), r.PathValue("id"), query.Spec{Hydrate: true})
	if err != nil {
		writeServiceError(r.Context(), c.log, w, err)
		return
	}
	res, err := c.svc.Update(r.Context(), crud.ByEntity(item.Entity), c.opts.Fields.Inbound(body))
	if err != nil {
		writeServiceError(r.Context(), c.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.opts.Fields.Outbound(res.Entity.Document()))
}

type removeResponse struct {
	Removed  int64                        `json:"removed"`
	Records  []domain.Document            `json:"records,omitempty"`
	Cascaded map[string][]domain.Document `json:"cascaded,omitempty"`
}

// Remove handles DELETE {base}/{id}. ?dry_run=true previews the removal,
// ?confirm=true acknowledges confirmable dependencies.
func (c *Controller) Remove(w http.ResponseWriter, r *http.Request) {
	item, err := c.svc.FindByID(r.Context(), r.PathValue("id"), query.Spec{WithInactive: true})
	if err != nil {
		writeServiceError(r.Context(), c.log, w, err)
		return
	}
	res, err := c.svc.Remove(r.Context(), domain.Conditions{domain.FieldID: item.Document.ID()}, crud.RemoveOptions{
		DryRun:    flag(r, "dry_run"),
		Confirmed: flag(r, "confirm"),
	})
	if err != nil {
		writeServiceError(r.Context(), c.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, removeResponse{
		Removed:  res.Removed,
		Records:  c.outboundAll(res.Records),
		Cascaded: res.Cascaded,
	})
}

// History handles GET {base}/{id}/history.
func (c *Controller) History(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := c.svc.FindByID(r.Context(), id, query.Spec{Fields: []string{domain.FieldID}}); err != nil {
		writeServiceError(r.Context(), c.log, w, err)
		return
	}
	records, err := c.svc.History(r.Context(), id)
	if err != nil {
		writeServiceError(r.Context(), c.log, w, err)
		return
	}
	if records == nil {
		records = []domain.ChangeRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// decode reads a JSON body into v. Malformed or oversized bodies are
// reported as validation failures of the body.
func (c *Controller) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := r.Body
	if c.opts.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, c.opts.MaxBodyBytes)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.NewValidationError("body", "request body too large")
		}
		return fmt.Errorf("read body: %w", err)
	}
	if len(raw) == 0 {
		return domain.NewValidationError("body", "request body is empty")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.NewValidationError("body", "invalid JSON")
	}
	return nil
}

func (c *Controller) outboundAll(docs []domain.Document) []domain.Document {
	if docs == nil {
		return nil
	}
	out := make([]domain.Document, len(docs))
	for i, d := range docs {
		out[i] = c.opts.Fields.Outbound(d)
	}
	return out
}

func flag(r *http.Request, key string) bool {
	switch strings.ToLower(r.URL.Query().Get(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
