package cache

import (
	"context"
	"path"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Backend is a byte-oriented key/value store with TTLs and pattern scans.
// Patterns use the redis glob syntax.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Memory is an in-process Backend.
type Memory struct {
	c *gocache.Cache
}

// NewMemory creates a Memory backend. Expired entries are purged every
// cleanup interval.
func NewMemory(defaultTTL, cleanup time.Duration) *Memory {
	return &Memory{c: gocache.New(defaultTTL, cleanup)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	return append([]byte(nil), b...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.c.Set(key, append([]byte(nil), val...), ttl)
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	var out []string
	for k := range m.c.Items() {
		if globMatch(pattern, k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Flush drops every entry.
func (m *Memory) Flush() { m.c.Flush() }

func globMatch(pattern, key string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok && !strings.ContainsAny(prefix, "*?[\\") {
		return strings.HasPrefix(key, prefix)
	}
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}

// Tiered reads through a short-lived front backend before the shared back
// backend and writes to both.
type Tiered struct {
	front    Backend
	back     Backend
	frontTTL time.Duration
}

// NewTiered combines front and back. Entries in front live at most frontTTL.
func NewTiered(front, back Backend, frontTTL time.Duration) *Tiered {
	return &Tiered{front: front, back: back, frontTTL: frontTTL}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := t.front.Get(ctx, key); err == nil && ok {
		return v, true, nil
	}
	v, ok, err := t.back.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = t.front.Set(ctx, key, v, t.frontTTL)
	return v, true, nil
}

func (t *Tiered) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	front := t.frontTTL
	if ttl < front {
		front = ttl
	}
	if err := t.front.Set(ctx, key, val, front); err != nil {
		return err
	}
	return t.back.Set(ctx, key, val, ttl)
}

func (t *Tiered) Del(ctx context.Context, keys ...string) error {
	if err := t.front.Del(ctx, keys...); err != nil {
		return err
	}
	return t.back.Del(ctx, keys...)
}

// Keys scans both backends. A promoted front entry may outlive its back
// copy, so neither tier alone lists every live key.
func (t *Tiered) Keys(ctx context.Context, pattern string) ([]string, error) {
	back, err := t.back.Keys(ctx, pattern)
	if err != nil {
		return nil, err
	}
	front, err := t.front.Keys(ctx, pattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(back))
	out := make([]string, 0, len(back)+len(front))
	for _, k := range append(back, front...) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out, nil
}
