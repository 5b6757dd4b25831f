package config

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache is a read-through cache of loaded resources keyed by name.
//
// Each name is loaded at most once for the life of the cache, even under
// concurrent lookups. Loaded entries are never replaced; failed loads are not
// cached and are retried on the next lookup.
type Cache struct {
	load    func(name string) (*Config, error)
	group   singleflight.Group
	entries sync.Map // name -> *Config
}

// NewCache creates a cache backed by load. A nil load uses Load.
func NewCache(load func(name string) (*Config, error)) *Cache {
	if load == nil {
		load = Load
	}
	return &Cache{load: load}
}

// Get returns the resource named name, loading it on first use. Callers must
// not mutate the returned Config; copy it first.
func (c *Cache) Get(name string) (*Config, error) {
	if cfg, ok := c.entries.Load(name); ok {
		return cfg.(*Config), nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		if cfg, ok := c.entries.Load(name); ok {
			return cfg, nil
		}
		cfg, err := c.load(name)
		if err != nil {
			return nil, err
		}
		actual, _ := c.entries.LoadOrStore(name, cfg)
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Config), nil
}

// Resolve returns a private copy of the named resource with the environment
// applied. An empty name yields the schema defaults. The copy is not
// validated; callers apply their own overrides and then call Validate.
func (c *Cache) Resolve(name string, getenv func(string) string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if name == "" {
		cfg, err = Default()
	} else {
		cfg, err = c.Get(name)
	}
	if err != nil {
		return nil, err
	}

	resolved := *cfg
	resolved.ApplyEnv(getenv)
	return &resolved, nil
}

var defaultCache = NewCache(nil)

// Shared returns the process-wide cache.
func Shared() *Cache {
	return defaultCache
}
