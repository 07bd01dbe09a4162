package config

import (
	"fmt"
	"sync/atomic"
)

// Holder publishes the current configuration. Readers call Get per use and
// never keep the pointer across requests.
type Holder struct {
	cur  atomic.Pointer[Config]
	load func() (*Config, error)
	subs []func(*Config)
}

// NewHolder wraps an initial configuration. load produces replacements; it
// defaults to Load.
func NewHolder(initial *Config, load func() (*Config, error)) *Holder {
	if load == nil {
		load = Load
	}
	h := &Holder{load: load}
	h.cur.Store(initial)
	return h
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	return h.cur.Load()
}

// OnReload registers fn to run after each successful reload. It must be
// called before the first Reload.
func (h *Holder) OnReload(fn func(*Config)) {
	h.subs = append(h.subs, fn)
}

// Reload loads a fresh configuration and swaps it in. On failure the
// current configuration stays in effect.
func (h *Holder) Reload() (*Config, error) {
	cfg, err := h.load()
	if err != nil {
		return nil, fmt.Errorf("config: reload: %w", err)
	}
	h.cur.Store(cfg)
	for _, fn := range h.subs {
		fn(cfg)
	}
	return cfg, nil
}
