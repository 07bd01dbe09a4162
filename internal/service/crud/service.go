// Package crud implements the generic per-collection service: create,
// batch create, find, update, remove and the thin read pass-throughs, with
// input stripping, uniqueness validation, result caching and cache
// invalidation on every write.
package crud

import (
	"context"
	"log/slog"
	"time"

	"github.com/heartmarshall/tenantkit/internal/cache"
	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/internal/model"
	"github.com/heartmarshall/tenantkit/internal/query"
	"github.com/heartmarshall/tenantkit/internal/unique"
)

const defaultLimit = 25

// DependencyKind selects how a dependent collection affects removal.
type DependencyKind int

const (
	// Prevent blocks removal while dependent records exist.
	Prevent DependencyKind = iota
	// Confirm requires RemoveOptions.Confirmed while dependent records exist.
	Confirm
	// Cascade removes the dependent records first.
	Cascade
)

// Dependency names records in another collection that reference the
// removed ones through Field.
type Dependency struct {
	Name string
	Kind DependencyKind
	// App defaults to the service app.
	App        string
	Collection string
	Field      string
}

// Config is the per-service configuration. It is not modified after New.
type Config struct {
	DefaultFields       []string
	DefaultFieldsSingle []string
	// CreateFields whitelists creatable fields; UpdateFields is used when
	// empty. Both empty allow every declared field.
	CreateFields []string
	UpdateFields []string
	// UniqueFields lists uniqueness groups, see unique.ParseGroups.
	UniqueFields  [][]string
	UniqueContext []string
	// ForeignKeyFields are collapsed to ids on input in addition to the
	// declared reference fields.
	ForeignKeyFields      []string
	FilterFields          []string
	SearchFields          []string
	DefaultPopulate       []string
	DefaultPopulateSingle []string
	DefaultSort           []docstore.SortField
	DefaultLimit          int
	// CacheTTL overrides the cache default; NoCache disables caching.
	CacheTTL     time.Duration
	NoCache      bool
	Dependencies []Dependency
}

type recorder interface {
	Prepare(ctx context.Context, s *domain.Schema, e *domain.Entity) *domain.ChangeRecord
	Persist(ctx context.Context, rec *domain.ChangeRecord) error
	Retract(ctx context.Context, s *domain.Schema, entityID, recordID string) error
}

type historyReader interface {
	Retrieve(ctx context.Context, s *domain.Schema, entityID string) ([]domain.ChangeRecord, error)
}

// SchemaLookup resolves collections referenced by populate and
// dependency checks.
type SchemaLookup interface {
	Schema(collection string) (*domain.Schema, bool)
}

// ServiceLookup resolves the services of cascading dependencies.
type ServiceLookup interface {
	Service(app, collection string) (*Service, bool)
}

// Deps are the collaborators of a Service. Store must already be tenant
// guarded. Every other field is optional.
type Deps struct {
	Store    docstore.Store
	Cache    *cache.Cache
	Recorder recorder
	History  historyReader
	Schemas  SchemaLookup
	Services ServiceLookup
	Now      func() time.Time
}

// Service is the CRUD service of one collection.
type Service struct {
	schema     *domain.Schema
	cfg        Config
	store      docstore.Store
	model      *model.Model
	unique     *unique.Validator
	cache      *cache.Cache
	history    historyReader
	schemas    SchemaLookup
	services   ServiceLookup
	normalizer query.Normalizer
	prefix     string
	now        func() time.Time
	log        *slog.Logger
}

// New creates the service of schema s.
func New(log *slog.Logger, s *domain.Schema, cfg Config, d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if cfg.DefaultLimit == 0 {
		cfg.DefaultLimit = defaultLimit
	}
	log = log.With("service", s.App+"."+s.Collection)

	return &Service{
		schema: s,
		cfg:    cfg,
		store:  d.Store,
		model: model.New(log, s, model.Deps{
			Store:    d.Store,
			Recorder: d.Recorder,
			Schemas:  d.Schemas,
			Now:      d.Now,
		}),
		unique:   unique.NewValidator(log, d.Store),
		cache:    d.Cache,
		history:  d.History,
		schemas:  d.Schemas,
		services: d.Services,
		normalizer: query.Normalizer{
			Schema:                s,
			DefaultLimit:          cfg.DefaultLimit,
			FilterFields:          cfg.FilterFields,
			SearchFields:          cfg.SearchFields,
			DefaultSort:           cfg.DefaultSort,
			DefaultFields:         cfg.DefaultFields,
			DefaultFieldsSingle:   cfg.DefaultFieldsSingle,
			DefaultPopulate:       cfg.DefaultPopulate,
			DefaultPopulateSingle: cfg.DefaultPopulateSingle,
		},
		prefix: CachePrefix(s),
		now:    d.Now,
		log:    log,
	}
}

// CachePrefix is the cache delete key shared by every cached read of s.
func CachePrefix(s *domain.Schema) string {
	return "svc:" + s.App + ":" + s.Collection
}

// Schema returns the collection schema.
func (s *Service) Schema() *domain.Schema { return s.schema }

// Model returns the entity model of the collection.
func (s *Service) Model() *model.Model { return s.model }

func (s *Service) ttl() time.Duration {
	switch {
	case s.cfg.NoCache || s.cache == nil:
		return 0
	case s.cfg.CacheTTL > 0:
		return s.cfg.CacheTTL
	}
	return s.cache.DefaultTTL()
}

// invalidate drops every cached read of the collection. Failures leave
// stale entries until they expire and never fail the write.
func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DelMatch(ctx, s.prefix); err != nil {
		s.log.WarnContext(ctx, "cache invalidation failed",
			slog.String("prefix", s.prefix),
			slog.String("error", err.Error()),
		)
	}
}

// excludeInactive adds the default soft-delete exclusion unless cond
// already constrains inactive.
func (s *Service) excludeInactive(cond domain.Conditions) domain.Conditions {
	if !s.schema.SoftDeletes() {
		return cond
	}
	if _, ok := cond[domain.FieldInactive]; ok {
		return cond
	}
	cond[domain.FieldInactive] = map[string]any{"$ne": true}
	return cond
}
