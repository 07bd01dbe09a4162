package app

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/heartmarshall/tenantkit/internal/apps/todo"
	"github.com/heartmarshall/tenantkit/internal/auth"
	"github.com/heartmarshall/tenantkit/internal/cache"
	"github.com/heartmarshall/tenantkit/internal/config"
	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/history"
	"github.com/heartmarshall/tenantkit/internal/metrics"
	"github.com/heartmarshall/tenantkit/internal/registry"
	"github.com/heartmarshall/tenantkit/internal/service/crud"
	"github.com/heartmarshall/tenantkit/internal/tenancy"
	"github.com/heartmarshall/tenantkit/internal/transport/middleware"
	"github.com/heartmarshall/tenantkit/internal/transport/rest"
)

// Deps are the connected backends the HTTP handler is built on.
type Deps struct {
	Store   docstore.Store
	Cache   *cache.Cache
	Metrics *metrics.Metrics
	// Pingers are reported by the health endpoints, keyed by component.
	Pingers map[string]rest.Pinger
	Now     func() time.Time
}

// Server is the assembled HTTP surface.
type Server struct {
	Handler  http.Handler
	Registry *registry.Registry

	limiter *middleware.RateLimiter
}

// Close stops background work of the handler.
func (s *Server) Close() { s.limiter.Stop() }

// NewServer registers every app on a tenant-guarded store and builds the
// routed, middleware-wrapped handler.
func NewServer(cfg *config.Config, d Deps, logger *slog.Logger) (*Server, error) {
	reg := registry.New()
	if err := reg.AddSchema(history.Schema()); err != nil {
		return nil, err
	}
	store := tenancy.NewGuard(logger, d.Store, reg)

	svcDeps := crud.Deps{
		Store:    store,
		Cache:    d.Cache,
		Recorder: history.NewRecorder(logger, store),
		History:  history.NewResolver(logger, store, reg),
		Schemas:  reg,
		Services: reg,
		Now:      d.Now,
	}
	services, err := todo.Register(reg, svcDeps, cfg.API.DefaultLimit, logger)
	if err != nil {
		return nil, err
	}

	api := http.NewServeMux()
	for _, svc := range services {
		s := svc.Schema()
		rest.NewController(svc, rest.Options{
			Prefix:       cfg.API.Prefix,
			MaxBodyBytes: cfg.API.MaxBodyBytes,
			Fields:       todo.Fields[s.Collection],
		}, logger).Register(api)
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AccessTokenTTL)
	limiter := middleware.NewRateLimiter(time.Minute)

	root := http.NewServeMux()
	rest.NewHealthHandler(d.Pingers, BuildVersion()).Register(root)
	if d.Metrics != nil {
		root.Handle("GET /metrics", d.Metrics.Handler())
	}
	root.Handle(strings.TrimRight(cfg.API.Prefix, "/")+"/", middleware.Chain(
		middleware.Auth(jwtManager, cfg.Auth.Anonymous),
		middleware.Capture,
		limiter.Limit(cfg.API.RateLimitPerMinute),
	)(api))

	var observer middleware.RequestObserver
	if d.Metrics != nil {
		observer = d.Metrics
	}
	handler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID,
		middleware.Logger(logger, observer),
		middleware.CORS(cfg.CORS),
		middleware.RequestContext(cfg.API.Prefix),
	)(root)

	return &Server{Handler: handler, Registry: reg, limiter: limiter}, nil
}
