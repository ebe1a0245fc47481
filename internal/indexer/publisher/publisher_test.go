package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/resilience"
)

type recordingSink struct {
	mu       sync.Mutex
	events   []kafka.Event
	failures int
	attempts int
	err      error
}

func (s *recordingSink) Publish(_ context.Context, event kafka.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.err != nil {
		return s.err
	}
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) published() []kafka.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]kafka.Event(nil), s.events...)
}

var fastRetry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestPublisher_ForwardsCommits(t *testing.T) {
	sink := &recordingSink{failures: 1}
	p := New(sink, 4, fastRetry)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.Hook()(indexer.CommitInfo{Collection: "docs", Generation: 7, Docs: 3, Segments: 2, CommittedAt: at})

	require.Eventually(t, func() bool { return len(sink.published()) == 1 }, time.Second, 5*time.Millisecond)
	got := sink.published()[0]
	assert.Equal(t, "docs", got.Key)
	assert.Equal(t, CommitEvent{Collection: "docs", Generation: 7, Docs: 3, Segments: 2, CommittedAt: at}, got.Value)
}

func TestPublisher_EncodeErrorsAreNotRetried(t *testing.T) {
	sink := &recordingSink{err: fmt.Errorf("%w: unsupported type", kafka.ErrEncode)}
	p := New(sink, 1, fastRetry)
	p.publish(context.Background(), CommitEvent{Collection: "docs", Generation: 1})
	assert.Equal(t, 1, sink.attempts)

	sink = &recordingSink{err: errors.New("broker unavailable")}
	p = New(sink, 1, fastRetry)
	p.publish(context.Background(), CommitEvent{Collection: "docs", Generation: 1})
	assert.Equal(t, fastRetry.MaxAttempts, sink.attempts)
}

func TestPublisher_DropsWhenFull(t *testing.T) {
	p := New(&recordingSink{}, 1, fastRetry)
	hook := p.Hook()
	hook(indexer.CommitInfo{Collection: "docs", Generation: 1})
	hook(indexer.CommitInfo{Collection: "docs", Generation: 2})
	assert.Len(t, p.events, 1)
	assert.Equal(t, uint64(1), (<-p.events).Generation)
}

func TestPublisher_WiredToManager(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, 0, fastRetry)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	cfg := testConfig(t)
	m := indexer.NewManager(cfg, nil)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	m.Subscribe(p.Hook())

	require.NoError(t, m.Index(ctx, "docs", indexDoc("doc1", "hello world"), nil))
	gen, err := m.Commit(ctx, "docs")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.published()) == 1 }, time.Second, 5*time.Millisecond)
	ev := sink.published()[0].Value.(CommitEvent)
	assert.Equal(t, gen, ev.Generation)
	assert.Equal(t, 1, ev.Docs)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Index.DataDir = t.TempDir()
	return cfg
}

func indexDoc(id, content string) index.Document {
	return index.Document{ID: id, Content: content}
}
