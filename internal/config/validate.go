package config

import (
	"fmt"
	"strings"
)

// Validate performs business-rule validation on the loaded configuration.
// Load calls it automatically.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters (got %d)", len(c.Auth.JWTSecret))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return fmt.Errorf("store.driver %q requires mongo.uri and mongo.database", c.Store.Driver)
		}
	case StorePostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("store.driver %q requires database.dsn", c.Store.Driver)
		}
		if c.Database.MinConns > c.Database.MaxConns {
			return fmt.Errorf("database.min_conns (%d) exceeds max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
		}
	default:
		return fmt.Errorf("store.driver must be one of memory, mongo, postgres (got %q)", c.Store.Driver)
	}

	switch c.Cache.Driver {
	case CacheMemory, CacheNone:
	case CacheRedis, CacheTiered:
		if c.Cache.RedisAddr == "" && len(c.Cache.SentinelAddrs()) == 0 {
			return fmt.Errorf("cache.driver %q requires cache.redis_addr or cache.redis_sentinels", c.Cache.Driver)
		}
		if len(c.Cache.SentinelAddrs()) > 0 && c.Cache.RedisMasterName == "" {
			return fmt.Errorf("cache.redis_sentinels requires cache.redis_master_name")
		}
	default:
		return fmt.Errorf("cache.driver must be one of memory, redis, tiered, none (got %q)", c.Cache.Driver)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be >= 0 (got %s)", c.Cache.TTL)
	}

	if c.API.DefaultLimit < 0 {
		return fmt.Errorf("api.default_limit must be >= 0 (got %d)", c.API.DefaultLimit)
	}
	if !strings.HasPrefix(c.API.Prefix, "/") {
		return fmt.Errorf("api.prefix must start with / (got %q)", c.API.Prefix)
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}

	return nil
}
