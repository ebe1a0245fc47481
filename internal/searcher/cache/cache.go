// Package cache memoises search responses per collection generation. Keys
// are fingerprints of everything that affects a response, values are JSON,
// and concurrent identical misses are collapsed into one computation.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/metrics"
)

type QueryCache[T any] struct {
	backend Backend
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New[T any](backend Backend, m *metrics.Metrics) *QueryCache[T] {
	if backend == nil {
		backend = Noop{}
	}
	return &QueryCache[T]{
		backend: backend,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	data, ok := c.backend.Get(ctx, key)
	if !ok {
		c.recordMiss()
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.recordMiss()
		return zero, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return v, true
}

func (c *QueryCache[T]) Set(ctx context.Context, key string, v T) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	c.backend.Set(ctx, key, data)
}

// GetOrCompute returns the cached value for key or runs compute once for all
// concurrent callers of the same key. compute reports whether its value may
// be stored; nothing is stored when it fails. The value is returned even
// alongside an error so callers can surface partial results.
//
// Every caller keeps its own deadline. A waiter whose context ends first
// stops waiting, and a waiter whose shared computation failed while its own
// context is still live computes again under that context.
func (c *QueryCache[T]) GetOrCompute(
	ctx context.Context,
	key string,
	compute func() (T, bool, error),
) (T, bool, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, true, nil
	}
	var led atomic.Bool
	ch := c.group.DoChan(key, func() (interface{}, error) {
		led.Store(true)
		return c.computeAndStore(ctx, key, compute)
	})
	select {
	case res := <-ch:
		if res.Err != nil && !led.Load() && ctx.Err() == nil {
			return c.computeAlone(ctx, key, compute)
		}
		v, _ := res.Val.(T)
		return v, false, res.Err
	case <-ctx.Done():
		if led.Load() {
			res := <-ch
			v, _ := res.Val.(T)
			return v, false, res.Err
		}
		return c.computeAlone(ctx, key, compute)
	}
}

func (c *QueryCache[T]) computeAlone(ctx context.Context, key string, compute func() (T, bool, error)) (T, bool, error) {
	val, err := c.computeAndStore(ctx, key, compute)
	v, _ := val.(T)
	return v, false, err
}

func (c *QueryCache[T]) computeAndStore(ctx context.Context, key string, compute func() (T, bool, error)) (interface{}, error) {
	v, cacheable, err := compute()
	if err == nil && cacheable {
		c.Set(context.WithoutCancel(ctx), key, v)
	}
	return v, err
}

// InvalidateCollection drops every entry of one collection.
func (c *QueryCache[T]) InvalidateCollection(ctx context.Context, collection string) int {
	n := c.backend.InvalidateCollection(ctx, collection)
	if c.metrics != nil {
		c.metrics.CacheInvalidations.WithLabelValues(collection).Inc()
	}
	c.logger.Info("cache invalidate", "collection", collection, "keys_deleted", n)
	return n
}

func (c *QueryCache[T]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache[T]) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
