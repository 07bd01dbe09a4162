package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions configures NewRedisClient. When SentinelAddrs is set a
// failover client is created for MasterName.
type RedisOptions struct {
	Addr          string
	Password      string
	DB            int
	MasterName    string
	SentinelAddrs []string
}

// NewRedisClient creates a single-node or sentinel-backed client.
func NewRedisClient(opts RedisOptions) *redis.Client {
	if len(opts.SentinelAddrs) > 0 {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       opts.MasterName,
			SentinelAddrs:    opts.SentinelAddrs,
			SentinelPassword: opts.Password,
			Password:         opts.Password,
			DB:               opts.DB,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// Redis is a Backend on a redis server.
type Redis struct {
	rdb       redis.UniversalClient
	scanCount int64
}

// NewRedis wraps an existing client.
func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb, scanCount: 500}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Keys walks the keyspace with SCAN so the server is never blocked.
func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, pattern, r.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// Ping implements the readiness contract.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
