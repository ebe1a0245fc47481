package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/resilience"
)

// KV is the subset of the Redis client the shared backend uses.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Redis shares cached results between processes. Every call goes through a
// circuit breaker, so an unreachable server turns into cache misses.
type Redis struct {
	kv      KV
	prefix  string
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

func NewRedis(kv KV, prefix string, ttl time.Duration, breaker *resilience.CircuitBreaker) *Redis {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{})
	}
	return &Redis{
		kv:      kv,
		prefix:  prefix,
		ttl:     ttl,
		breaker: breaker,
		logger:  slog.Default().With("component", "redis-cache"),
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	var data []byte
	err := r.breaker.Execute(func() error {
		v, err := r.kv.Get(ctx, r.prefix+key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		data = v
		return err
	})
	if err != nil {
		r.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	return data, data != nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) {
	err := r.breaker.Execute(func() error {
		return r.kv.Set(ctx, r.prefix+key, value, r.ttl)
	})
	if err != nil {
		r.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (r *Redis) InvalidateCollection(ctx context.Context, collection string) int {
	var deleted int64
	err := r.breaker.Execute(func() error {
		n, err := r.kv.FlushByPattern(ctx, escapeGlob(r.prefix+collection)+":*")
		deleted = n
		return err
	})
	if err != nil {
		r.logger.Error("cache invalidation failed", "collection", collection, "error", err)
	}
	return int(deleted)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
