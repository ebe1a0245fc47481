package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/resilience"
)

type payload struct {
	Docs []string `json:"docs"`
}

func TestFingerprint(t *testing.T) {
	base := Key{
		Collection: "docs",
		Generation: 3,
		Text:       "brown  fox",
		Providers:  []string{"text", "vector"},
		Options:    map[string]string{"fuzzy": "true", "max_edits": "1"},
		MaxResults: 10,
	}
	fp := Fingerprint(base)
	assert.True(t, strings.HasPrefix(fp, "docs:"))
	assert.Len(t, strings.TrimPrefix(fp, "docs:"), 64)

	same := base
	same.Text = " brown fox "
	same.Providers = []string{"vector", "text"}
	assert.Equal(t, fp, Fingerprint(same), "whitespace and provider order are normalised")

	for name, mutate := range map[string]func(k *Key){
		"collection": func(k *Key) { k.Collection = "other" },
		"generation": func(k *Key) { k.Generation = 4 },
		"text":       func(k *Key) { k.Text = "brown dog" },
		"case":       func(k *Key) { k.Text = "Brown fox" },
		"vector":     func(k *Key) { k.Vector = []float32{1, 0} },
		"providers":  func(k *Key) { k.Providers = []string{"text"} },
		"options":    func(k *Key) { k.Options = map[string]string{"fuzzy": "false", "max_edits": "1"} },
		"limit":      func(k *Key) { k.MaxResults = 5 },
		"verbatim":   func(k *Key) { k.Verbatim = true },
	} {
		t.Run(name, func(t *testing.T) {
			k := base
			mutate(&k)
			assert.NotEqual(t, fp, Fingerprint(k))
		})
	}
}

func TestMemory_InvalidateCollection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, time.Minute)
	m.Set(ctx, "docs:aa", []byte("1"))
	m.Set(ctx, "docs:bb", []byte("2"))
	m.Set(ctx, "logs:aa", []byte("3"))

	assert.Equal(t, 2, m.InvalidateCollection(ctx, "docs"))
	_, ok := m.Get(ctx, "docs:aa")
	assert.False(t, ok)
	v, ok := m.Get(ctx, "logs:aa")
	require.True(t, ok)
	assert.Equal(t, []byte("3"), v)
}

func TestMemory_Bounds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2, 20*time.Millisecond)
	m.Set(ctx, "c:1", []byte("1"))
	m.Set(ctx, "c:2", []byte("2"))
	m.Set(ctx, "c:3", []byte("3"))
	assert.Equal(t, 2, m.Len())
	_, ok := m.Get(ctx, "c:1")
	assert.False(t, ok, "least recently used entry evicted")

	assert.Eventually(t, func() bool {
		_, ok := m.Get(ctx, "c:3")
		return !ok
	}, time.Second, 10*time.Millisecond, "entries expire after the ttl")
}

func TestQueryCache_GetOrCompute(t *testing.T) {
	ctx := context.Background()
	met := metrics.New()
	c := New[*payload](NewMemory(10, time.Minute), met)

	calls := 0
	compute := func() (*payload, bool, error) {
		calls++
		return &payload{Docs: []string{"doc1"}}, true, nil
	}
	v, cached, err := c.GetOrCompute(ctx, "docs:k", compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []string{"doc1"}, v.Docs)

	v, cached, err = c.GetOrCompute(ctx, "docs:k", compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, []string{"doc1"}, v.Docs)
	assert.Equal(t, 1, calls)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(met.CacheMissesTotal))
}

func TestQueryCache_SkipsUncacheableAndFailed(t *testing.T) {
	ctx := context.Background()
	c := New[*payload](NewMemory(10, time.Minute), nil)

	_, _, err := c.GetOrCompute(ctx, "docs:k", func() (*payload, bool, error) {
		return &payload{}, false, nil
	})
	require.NoError(t, err)
	_, ok := c.Get(ctx, "docs:k")
	assert.False(t, ok)

	partial := &payload{Docs: []string{"doc1"}}
	v, _, err := c.GetOrCompute(ctx, "docs:k", func() (*payload, bool, error) {
		return partial, true, errors.New("timed out")
	})
	require.Error(t, err)
	assert.Same(t, partial, v, "partial value travels with the error")
	_, ok = c.Get(ctx, "docs:k")
	assert.False(t, ok)
}

func TestQueryCache_CollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	c := New[*payload](NewMemory(10, time.Minute), nil)

	var calls atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(ctx, "docs:k", func() (*payload, bool, error) {
				calls.Add(1)
				<-release
				return &payload{}, true, nil
			})
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	_, ok := c.Get(ctx, "docs:k")
	assert.True(t, ok)
}

func slowCompute(ctx context.Context, d time.Duration) func() (*payload, bool, error) {
	return func() (*payload, bool, error) {
		select {
		case <-time.After(d):
			return &payload{Docs: []string{"doc1"}}, true, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func TestQueryCache_WaiterOutlivesExpiredLeader(t *testing.T) {
	c := New[*payload](NewMemory(10, time.Minute), nil)

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	var shortErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, shortErr = c.GetOrCompute(short, "docs:k", slowCompute(short, 150*time.Millisecond))
	}()
	time.Sleep(5 * time.Millisecond)

	long, cancelLong := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelLong()
	v, cached, err := c.GetOrCompute(long, "docs:k", slowCompute(long, 150*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []string{"doc1"}, v.Docs)

	<-done
	assert.ErrorIs(t, shortErr, context.DeadlineExceeded)
	_, ok := c.Get(context.Background(), "docs:k")
	assert.True(t, ok)
}

func TestQueryCache_WaiterStopsAtItsOwnDeadline(t *testing.T) {
	c := New[*payload](NewMemory(10, time.Minute), nil)

	long, cancelLong := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelLong()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := c.GetOrCompute(long, "docs:k", slowCompute(long, 300*time.Millisecond))
		assert.NoError(t, err)
	}()
	time.Sleep(5 * time.Millisecond)

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	start := time.Now()
	_, _, err := c.GetOrCompute(short, "docs:k", slowCompute(short, 300*time.Millisecond))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	<-done
	_, ok := c.Get(context.Background(), "docs:k")
	assert.True(t, ok, "the leader's result is still stored")
}

func TestQueryCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	met := metrics.New()
	c := New[*payload](NewMemory(10, time.Minute), met)
	c.Set(ctx, "docs:1", &payload{})
	c.Set(ctx, "logs:1", &payload{})

	assert.Equal(t, 1, c.InvalidateCollection(ctx, "docs"))
	_, ok := c.Get(ctx, "docs:1")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "logs:1")
	assert.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.CacheInvalidations.WithLabelValues("docs")))
}

type fakeKV struct {
	mu       sync.Mutex
	data     map[string][]byte
	fail     error
	patterns []string
}

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	v, ok := f.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.data[key] = value
	return nil
}

func (f *fakeKV) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = append(f.patterns, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func TestRedis_PrefixAndInvalidation(t *testing.T) {
	ctx := context.Background()
	kv := &fakeKV{data: map[string][]byte{}}
	r := NewRedis(kv, "csc:", time.Minute, nil)

	r.Set(ctx, "docs:1", []byte("x"))
	r.Set(ctx, "logs:1", []byte("y"))
	v, ok := r.Get(ctx, "docs:1")
	require.True(t, ok)
	assert.Equal(t, []byte("x"), v)
	_, ok = r.Get(ctx, "docs:2")
	assert.False(t, ok)

	assert.Equal(t, 1, r.InvalidateCollection(ctx, "docs"))
	assert.Equal(t, []string{"csc:docs:*"}, kv.patterns)
	_, ok = r.Get(ctx, "logs:1")
	assert.True(t, ok)

	r.InvalidateCollection(ctx, "a*b")
	assert.Equal(t, `csc:a\*b:*`, kv.patterns[1])
}

func TestRedis_DegradesToMisses(t *testing.T) {
	ctx := context.Background()
	kv := &fakeKV{data: map[string][]byte{}, fail: errors.New("connection refused")}
	breaker := resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})
	r := NewRedis(kv, "csc:", time.Minute, breaker)

	for i := 0; i < 3; i++ {
		_, ok := r.Get(ctx, "docs:1")
		assert.False(t, ok)
	}
	assert.Equal(t, resilience.StateOpen, breaker.GetState())

	c := New[*payload](r, nil)
	v, cached, err := c.GetOrCompute(ctx, "docs:1", func() (*payload, bool, error) {
		return &payload{Docs: []string{"doc1"}}, true, nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []string{"doc1"}, v.Docs)
}
