package cache

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"staybook/internal/core"
)

// DefaultTTL applies when a fill call passes no TTL
const DefaultTTL = 5 * time.Minute

// FetchFunc loads a value on a cache miss
type FetchFunc func(ctx context.Context) (*core.AvailabilityResult, error)

// Config contains cache settings
type Config struct {
	DefaultTTL time.Duration
}

// Stats is a snapshot of cache counters
type Stats struct {
	Entries       int   `json:"entries"`
	InFlight      int   `json:"in_flight"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Fetches       int64 `json:"fetches"`
	FetchErrors   int64 `json:"fetch_errors"`
	Invalidations int64 `json:"invalidations"`
	Expired       int64 `json:"expired"`
}

type entry struct {
	value     *core.AvailabilityResult
	expiresAt time.Time
}

// Cache is an in-memory availability cache with per-key single-flight fills.
// Entries carry their own TTL, chosen by the caller of each fill.
type Cache struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex // protects entries, inflight, generations and epoch
	entries     map[string]*entry
	inflight    map[string]struct{}
	generations map[string]uint64
	version     uint64
	epoch       uint64

	group singleflight.Group

	hits          atomic.Int64
	misses        atomic.Int64
	fetches       atomic.Int64
	fetchErrors   atomic.Int64
	invalidations atomic.Int64
	expired       atomic.Int64
}

// New creates a cache
func New(config Config, logger *slog.Logger) *Cache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		config:      config,
		logger:      logger.With("component", "cache"),
		now:         time.Now,
		entries:     make(map[string]*entry),
		inflight:    make(map[string]struct{}),
		generations: make(map[string]uint64),
	}
}

// GetOrFetch returns the cached value for key, or runs fetch to fill it.
// Concurrent misses on the same key share one fetch. The fetch is not cancelled
// when a waiting caller gives up; each caller only stops waiting on its own ctx.
// Fetch errors are returned unchanged and never cached. The returned value is a
// copy owned by the caller; hit reports whether it came from the cache.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (*core.AvailabilityResult, bool, error) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return v.Clone(), true, nil
	}
	c.misses.Add(1)

	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.fill(context.WithoutCancel(ctx), key, ttl, fetch)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*core.AvailabilityResult).Clone(), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// lookup returns a live entry, dropping it if it has expired
func (c *Cache) lookup(key string) (*core.AvailabilityResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.expired.Add(1)
		return nil, false
	}
	return e.value, true
}

// fill runs one fetch and stores its result unless the key was invalidated meanwhile
func (c *Cache) fill(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (v *core.AvailabilityResult, err error) {
	c.mu.Lock()
	// A flight that finished after this caller's lookup may already have filled the key
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, nil
	}
	gen, epoch := c.generations[key], c.epoch
	c.inflight[key] = struct{}{}
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("%w: fetch for %s panicked: %v", core.ErrCache, key, r)
		}
		if err != nil {
			c.fetchErrors.Add(1)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generations[key] == gen && c.epoch == epoch {
			delete(c.inflight, key)
			if err == nil {
				c.entries[key] = &entry{value: v, expiresAt: c.now().Add(ttl)}
			}
		} else if err == nil {
			c.logger.Debug("Discarding fetch result for invalidated key", "key", key)
		}
	}()

	c.fetches.Add(1)
	v, err = fetch(ctx)
	if err == nil && v == nil {
		err = fmt.Errorf("%w: fetch for %s returned no value", core.ErrCache, key)
	}
	return v, err
}

// InvalidateKey removes key. A fetch already running for it will not populate the cache.
func (c *Cache) InvalidateKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(key)
}

// InvalidatePattern removes every key matching a path.Match glob, such as
// "101-201:*", and returns the number of entries removed
func (c *Cache) InvalidatePattern(pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("%w: invalid pattern %q: %v", core.ErrValidation, pattern, err)
	}
	return c.InvalidateFunc(func(key string) bool {
		ok, _ := path.Match(pattern, key)
		return ok
	}), nil
}

// InvalidateFunc removes every cached or in-flight key for which match returns true
// and returns the number of entries removed
func (c *Cache) InvalidateFunc(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if match(key) {
			c.invalidateLocked(key)
			removed++
		}
	}
	for key := range c.inflight {
		if match(key) {
			c.invalidateLocked(key)
		}
	}
	return removed
}

// ClearAll removes every entry and orphans every in-flight fetch
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.inflight {
		c.group.Forget(key)
	}
	c.entries = make(map[string]*entry)
	c.inflight = make(map[string]struct{})
	c.generations = make(map[string]uint64)
	c.epoch++
	c.invalidations.Add(1)
}

func (c *Cache) invalidateLocked(key string) {
	delete(c.entries, key)
	if _, ok := c.inflight[key]; ok {
		delete(c.inflight, key)
		c.version++
		c.generations[key] = c.version
		c.group.Forget(key)
	}
	c.invalidations.Add(1)
}

// Sweep removes expired entries and returns how many were removed
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.expired.Add(int64(removed))
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries, inflight := len(c.entries), len(c.inflight)
	c.mu.Unlock()

	return Stats{
		Entries:       entries,
		InFlight:      inflight,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Fetches:       c.fetches.Load(),
		FetchErrors:   c.fetchErrors.Load(),
		Invalidations: c.invalidations.Load(),
		Expired:       c.expired.Load(),
	}
}
