package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/tenantkit/internal/adapter/memory"
	"github.com/heartmarshall/tenantkit/internal/adapter/mongo"
	"github.com/heartmarshall/tenantkit/internal/adapter/postgres"
	"github.com/heartmarshall/tenantkit/internal/cache"
	"github.com/heartmarshall/tenantkit/internal/config"
	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/transport/rest"
)

// storeBackend is a document store that can report its health.
type storeBackend interface {
	docstore.Store
	Ping(ctx context.Context) error
}

// openStore connects the configured document store. The returned close
// function is never nil.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storeBackend, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		logger.Warn("using in-memory document store, data is lost on restart")
		return memory.New(), func() {}, nil

	case config.StoreMongo:
		s, err := mongo.Connect(ctx, mongo.Config{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open mongo store: %w", err)
		}
		return s, func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := s.Close(ctx); err != nil {
				logger.Error("close mongo store", slog.String("error", err.Error()))
			}
		}, nil

	case config.StorePostgres:
		if cfg.Store.Migrate {
			if err := postgres.Migrate(ctx, cfg.Database.DSN, logger); err != nil {
				return nil, nil, fmt.Errorf("open postgres store: %w", err)
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return postgres.NewStore(pool, logger), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// openCache builds the configured result cache. A nil cache disables
// caching. pinger is nil for backends without a remote server.
func openCache(cfg config.CacheConfig, logger *slog.Logger, obs cache.Observer) (c *cache.Cache, pinger rest.Pinger, closeFn func(), err error) {
	opts := cache.Options{DefaultTTL: cfg.TTL, Observer: obs}
	redisBackend := func() (*cache.Redis, func()) {
		rdb := cache.NewRedisClient(cache.RedisOptions{
			Addr:          cfg.RedisAddr,
			Password:      cfg.RedisPassword,
			DB:            cfg.RedisDB,
			MasterName:    cfg.RedisMasterName,
			SentinelAddrs: cfg.SentinelAddrs(),
		})
		return cache.NewRedis(rdb), func() {
			if err := rdb.Close(); err != nil {
				logger.Error("close redis client", slog.String("error", err.Error()))
			}
		}
	}

	switch cfg.Driver {
	case config.CacheNone:
		return nil, nil, func() {}, nil

	case config.CacheMemory:
		return cache.New(logger, cache.NewMemory(cfg.TTL, cfg.CleanupInterval), opts), nil, func() {}, nil

	case config.CacheRedis:
		back, closeRedis := redisBackend()
		return cache.New(logger, back, opts), back, closeRedis, nil

	case config.CacheTiered:
		back, closeRedis := redisBackend()
		front := cache.NewMemory(cfg.FrontTTL, cfg.CleanupInterval)
		return cache.New(logger, cache.NewTiered(front, back, cfg.FrontTTL), opts), back, closeRedis, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
}
