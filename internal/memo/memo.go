// Package memo provides a bounded, memoizing fetch cache.
//
// A Cache maps string keys to values produced by a caller-supplied fetch
// function. Eviction is strict LRU: a hit refreshes recency and inserting
// beyond the capacity evicts the least recently used entry. Only successful
// fetches are stored, so a failure is retried on the next lookup.
//
// Concurrent misses on the same key share one in-flight fetch. The shared
// fetch does not observe any single caller's cancellation; each caller stops
// waiting when its own context is done.
package memo

import (
	"context"
	"errors"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"weavequery/internal/callgroup"
	"weavequery/internal/logging"
	"weavequery/internal/metrics"
)

// DefaultMaxSize is the capacity used by callers without an explicit size.
const DefaultMaxSize = 1000

// ErrInvalidSize is returned for a non-positive capacity.
var ErrInvalidSize = errors.New("memo: max size must be positive")

// FetchFunc produces the value for a key.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Cache is a bounded LRU of fetched values. Safe for concurrent use.
type Cache[V any] struct {
	entries *lru.Cache[string, V]
	flight  callgroup.Group[string, V]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// WithLogger sets the logger. Defaults to discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records lookups, evictions and size.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a cache holding at most maxSize entries.
func New[V any](maxSize int, opts ...Option) (*Cache[V], error) {
	if maxSize <= 0 {
		return nil, ErrInvalidSize
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache[V]{
		logger:  logging.Default(o.logger).With("component", "memo"),
		metrics: o.metrics,
	}
	entries, err := lru.NewWithEvict(maxSize, func(string, V) {
		c.metrics.CacheEvicted()
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// Get returns the cached value for key, calling fetch on a miss.
func (c *Cache[V]) Get(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	if v, ok := c.entries.Get(key); ok {
		c.metrics.CacheLookup(metrics.CacheHit)
		return v, nil
	}

	v, shared, err := c.flight.Do(ctx, key, func() (V, error) {
		// Another flight may have filled the entry between our miss and
		// this call starting.
		if v, ok := c.entries.Peek(key); ok {
			return v, nil
		}
		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			c.logger.Debug("fetch failed", "key", key, "error", err)
			return v, err
		}
		c.Add(key, v)
		return v, nil
	})
	if shared {
		c.metrics.CacheLookup(metrics.CacheShared)
	} else {
		c.metrics.CacheLookup(metrics.CacheMiss)
	}
	return v, err
}

// Lookup returns the cached value without fetching. A hit refreshes recency.
func (c *Cache[V]) Lookup(key string) (V, bool) {
	return c.entries.Get(key)
}

// Add stores a value, evicting the least recently used entry when full.
func (c *Cache[V]) Add(key string, v V) {
	c.entries.Add(key, v)
	c.metrics.CacheEntries(c.entries.Len())
}

// Keys returns the cached keys from least to most recently used.
func (c *Cache[V]) Keys() []string {
	return c.entries.Keys()
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

// Memoize wraps fn with a cache keyed by keyFn(arg).
func Memoize[A, V any](fn func(context.Context, A) (V, error), keyFn func(A) string, maxSize int, opts ...Option) (func(context.Context, A) (V, error), error) {
	c, err := New[V](maxSize, opts...)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, arg A) (V, error) {
		return c.Get(ctx, keyFn(arg), func(ctx context.Context) (V, error) {
			return fn(ctx, arg)
		})
	}, nil
}
