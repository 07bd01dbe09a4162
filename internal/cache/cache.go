// Package cache memoizes read results per tenant and invalidates them by
// key prefix on writes.
package cache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/singleflight"

	"github.com/heartmarshall/tenantkit/pkg/ctxutil"
)

// DefaultTTL applies when a caller does not choose one.
const DefaultTTL = 60 * time.Second

// Observer receives cache events, e.g. for metrics.
type Observer interface {
	Hit(prefix string)
	Miss(prefix string)
	Invalidate(prefix string, keys int)
}

type nopObserver struct{}

func (nopObserver) Hit(string)             {}
func (nopObserver) Miss(string)            {}
func (nopObserver) Invalidate(string, int) {}

// Options configures a Cache.
type Options struct {
	DefaultTTL time.Duration
	Observer   Observer
}

// Cache is safe for concurrent use. Concurrent misses on one key are not
// coalesced; each runs its own work.
type Cache struct {
	backend  Backend
	log      *slog.Logger
	ttl      time.Duration
	observer Observer
	deletes  singleflight.Group
}

// New creates a Cache on backend.
func New(log *slog.Logger, backend Backend, opts Options) *Cache {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Cache{
		backend:  backend,
		log:      log.With("component", "cache"),
		ttl:      opts.DefaultTTL,
		observer: opts.Observer,
	}
}

// DefaultTTL returns the configured fallback TTL.
func (c *Cache) DefaultTTL() time.Duration { return c.ttl }

type keyMaterial struct {
	Tenant string `json:"tenant"`
	App    string `json:"app"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// Key derives a stable key from the request scope of ctx and the call
// arguments. Keys share prefix so that DelMatch(prefix) drops them.
func Key(ctx context.Context, prefix, method string, args ...any) string {
	r, _ := ctxutil.RequestFromCtx(ctx)
	raw, err := json.Marshal(keyMaterial{Tenant: r.TenantID, App: r.AppName, Method: method, Args: args})
	if err != nil {
		raw = []byte(method)
	}
	return prefix + ":" + hex.EncodeToString(hash(raw))
}

func hash(data []byte) []byte {
	h := xxh3.Hash128(data)
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], h.Lo)
	binary.LittleEndian.PutUint64(b[8:16], h.Hi)
	return b
}

func prefixOf(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}

// Wrap returns the cached value for key or runs work and caches its
// result for ttl. A nil cache or a non-positive ttl bypasses caching.
// Backend and decoding failures degrade to a miss.
func Wrap[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, work func(context.Context) (T, error)) (T, error) {
	if c == nil || ttl <= 0 {
		return work(ctx)
	}
	prefix := prefixOf(key)

	if raw, ok, err := c.backend.Get(ctx, key); err != nil {
		c.log.WarnContext(ctx, "cache get failed", slog.String("key", key), slog.String("error", err.Error()))
	} else if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			c.observer.Hit(prefix)
			return v, nil
		}
		c.log.WarnContext(ctx, "cache entry undecodable", slog.String("key", key))
	}
	c.observer.Miss(prefix)

	v, err := work(ctx)
	if err != nil {
		return v, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.WarnContext(ctx, "cache encode failed", slog.String("key", key), slog.String("error", err.Error()))
		return v, nil
	}
	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		c.log.WarnContext(ctx, "cache set failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return v, nil
}

// Del removes keys. Concurrent deletes of the same key share one
// backend call.
func (c *Cache) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		_, err, _ := c.deletes.Do(k, func() (any, error) {
			return nil, c.backend.Del(ctx, k)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// DelMatch removes every key under each prefix.
func (c *Cache) DelMatch(ctx context.Context, prefixes ...string) error {
	for _, p := range prefixes {
		keys, err := c.backend.Keys(ctx, p+":*")
		if err != nil {
			return err
		}
		if err := c.Del(ctx, keys...); err != nil {
			return err
		}
		c.observer.Invalidate(p, len(keys))
		c.log.DebugContext(ctx, "cache invalidated", slog.String("prefix", p), slog.Int("keys", len(keys)))
	}
	return nil
}

// Keys lists stored keys matching a glob pattern.
func (c *Cache) Keys(ctx context.Context, pattern string) ([]string, error) {
	return c.backend.Keys(ctx, pattern)
}
