// Package indexer owns the persistent, incrementally updatable indices of
// every collection. Mutations are buffered per collection and published by
// Commit as an immutable generation: new segment files are written and
// fsynced, then the manifest is atomically replaced. Readers always see a
// complete generation.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/vector"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/config"
	cerrors "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/metrics"
)

// CommitInfo describes a newly published generation.
type CommitInfo struct {
	Collection  string
	Generation  uint64
	Docs        int
	Segments    int
	Compaction  bool
	CommittedAt time.Time
}

// CommitHook is called after a generation has been published.
type CommitHook func(CommitInfo)

// Stats is a point-in-time view of one collection.
type Stats struct {
	Collection    string `json:"collection"`
	Generation    uint64 `json:"generation"`
	Segments      int    `json:"segments"`
	LiveDocuments int    `json:"live_documents"`
	Pending       int    `json:"pending"`
	Dimensions    int    `json:"dimensions"`
}

// Manager owns every open collection.
type Manager struct {
	cfg     config.IndexConfig
	vecCfg  config.VectorConfig
	ingest  config.IngestConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu          sync.RWMutex
	collections map[string]*collection
	shutdown    bool

	hooksMu sync.RWMutex
	hooks   []CommitHook

	loopOnce sync.Once
	stopLoop chan struct{}
	loopDone chan struct{}
}

// NewManager creates a Manager rooted at cfg.Index.DataDir. m may be nil.
func NewManager(cfg *config.Config, m *metrics.Metrics) *Manager {
	return &Manager{
		cfg:         cfg.Index,
		vecCfg:      cfg.Vector,
		ingest:      cfg.Ingest,
		metrics:     m,
		logger:      slog.Default().With("component", "indexer"),
		collections: make(map[string]*collection),
		stopLoop:    make(chan struct{}),
	}
}

// Subscribe registers a hook run after every published generation.
func (m *Manager) Subscribe(hook CommitHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, hook)
}

func (m *Manager) notify(info CommitInfo) {
	m.hooksMu.RLock()
	hooks := make([]CommitHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(info)
	}
}

// validName rejects path separators and ':', which separates the collection
// from the fingerprint in cache keys.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\:`)
}

// Load opens a collection, creating it when its directory does not exist.
// Loading an already open collection is a no-op.
func (m *Manager) Load(ctx context.Context, name string) error {
	_, err := m.open(ctx, name, true)
	return err
}

// LoadAll opens every collection directory under the data directory and
// returns their names.
func (m *Manager) LoadAll(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(m.cfg.DataDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing data dir %s: %w", m.cfg.DataDir, err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || !validName(entry.Name()) {
			continue
		}
		if err := m.Load(ctx, entry.Name()); err != nil {
			return names, err
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (m *Manager) open(ctx context.Context, name string, create bool) (*collection, error) {
	if !validName(name) {
		return nil, cerrors.Newf(cerrors.KindCollectionNotFound, "load", "invalid collection name %q", name)
	}
	m.mu.RLock()
	c, ok := m.collections[name]
	closed := m.shutdown
	m.mu.RUnlock()
	if closed {
		return nil, cerrors.New(cerrors.KindCollectionClosed, "load", "manager shut down").WithCollection(name)
	}
	if ok {
		return c, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil, cerrors.New(cerrors.KindCollectionClosed, "load", "manager shut down").WithCollection(name)
	}
	if c, ok := m.collections[name]; ok {
		return c, nil
	}
	dir := filepath.Join(m.cfg.DataDir, name)
	if !create && !dirExists(dir) {
		return nil, cerrors.New(cerrors.KindCollectionNotFound, "acquire", "").WithCollection(name)
	}
	c, err := openCollection(name, dir, m.vecCfg.Dimensions, vector.GraphConfig{M: m.vecCfg.HNSWM, EfSearch: m.vecCfg.HNSWEfSearch})
	if err != nil {
		m.logger.Error("loading collection failed", "collection", name, "error", err)
		return nil, err
	}
	m.collections[name] = c
	m.observe(c)
	return c, nil
}

// Close releases a collection's file handles and directory lock. Pending
// mutations are discarded.
func (m *Manager) Close(ctx context.Context, name string) error {
	m.mu.Lock()
	c, ok := m.collections[name]
	delete(m.collections, name)
	m.mu.Unlock()
	if !ok {
		return cerrors.New(cerrors.KindCollectionNotFound, "close", "").WithCollection(name)
	}
	return c.close()
}

// Shutdown stops the maintenance loops and closes every collection.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	open := make([]*collection, 0, len(m.collections))
	for _, c := range m.collections {
		open = append(open, c)
	}
	m.collections = make(map[string]*collection)
	done := m.loopDone
	m.mu.Unlock()

	close(m.stopLoop)
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	var errs []error
	for _, c := range open {
		if err := c.close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.Info("index manager shut down", "collections", len(open))
	return errors.Join(errs...)
}

func (m *Manager) validate(op string, collection string, doc index.Document) error {
	if doc.ID == "" {
		return cerrors.New(cerrors.KindInvalidDocument, op, "document id is empty").WithCollection(collection)
	}
	if m.cfg.MaxDocumentSize > 0 && len(doc.Content) > m.cfg.MaxDocumentSize {
		return cerrors.Newf(cerrors.KindInvalidDocument, op, "document %q is %d bytes, limit is %d",
			doc.ID, len(doc.Content), m.cfg.MaxDocumentSize).WithCollection(collection)
	}
	return nil
}

// AddDocument tokenizes doc into the collection's pending set. Re-adding an
// existing ID replaces it at the next commit.
func (m *Manager) AddDocument(ctx context.Context, collection string, doc index.Document) error {
	return m.put(ctx, "add_document", collection, doc)
}

// UpdateDocument replaces a document at the next commit. The committed
// version stays visible until then.
func (m *Manager) UpdateDocument(ctx context.Context, collection string, doc index.Document) error {
	return m.put(ctx, "update_document", collection, doc)
}

// Index is the ingestion entry point: doc plus an optional embedding.
func (m *Manager) Index(ctx context.Context, collection string, doc index.Document, embedding []float32) error {
	if embedding != nil {
		doc.Embedding = embedding
	}
	return m.put(ctx, "index", collection, doc)
}

func (m *Manager) put(ctx context.Context, op string, name string, doc index.Document) error {
	err := m.doPut(ctx, op, name, doc)
	if m.metrics != nil {
		if err != nil {
			m.metrics.DocsRejectedTotal.WithLabelValues(name, cerrors.KindOf(err).String()).Inc()
		} else {
			m.metrics.DocsIndexedTotal.WithLabelValues(name).Inc()
		}
	}
	return err
}

func (m *Manager) doPut(ctx context.Context, op string, name string, doc index.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.validate(op, name, doc); err != nil {
		return err
	}
	c, err := m.open(ctx, name, true)
	if err != nil {
		return err
	}
	pd := index.Analyze(doc)
	if err := c.put(op, pd); err != nil {
		return err
	}
	c.logger.Debug("document staged", "doc_id", doc.ID, "tokens", pd.Length, "pending", c.pending.Len())
	return nil
}

// IndexBatch stages docs with at most ingest.maxConcurrency concurrent
// calls. The returned slice has one entry per document; a failing document
// does not affect the others.
func (m *Manager) IndexBatch(ctx context.Context, collection string, docs []index.Document) []error {
	errs := make([]error, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	limit := m.ingest.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i := range docs {
		i := i
		g.Go(func() error {
			errs[i] = m.AddDocument(gctx, collection, docs[i])
			return nil
		})
	}
	g.Wait()
	return errs
}

// RemoveDocument tombstones id for the next generation. It returns false,
// without error, when the ID is unknown.
func (m *Manager) RemoveDocument(ctx context.Context, name string, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c, err := m.open(ctx, name, false)
	if err != nil {
		if cerrors.KindOf(err) == cerrors.KindCollectionNotFound {
			return false, nil
		}
		return false, err
	}
	removed, err := c.remove(id)
	if err != nil {
		return false, err
	}
	if removed {
		c.logger.Debug("document tombstoned", "doc_id", id)
	}
	return removed, nil
}

// Commit publishes pending mutations and returns the new generation ID.
// With nothing pending it returns the current generation ID. Commits on one
// collection are serialized.
func (m *Manager) Commit(ctx context.Context, name string) (uint64, error) {
	c, err := m.open(ctx, name, true)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	gen, published, err := c.commit(ctx)
	if err != nil {
		c.logger.Error("commit failed", "error", err)
		if m.metrics != nil {
			m.metrics.CommitsTotal.WithLabelValues(name, "failed").Inc()
		}
		if cerrors.KindOf(err) == cerrors.KindInternal && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return 0, cerrors.Wrap(cerrors.KindInternal, "commit", err).WithCollection(name)
		}
		return 0, err
	}
	if !published {
		return gen.ID(), nil
	}
	if m.metrics != nil {
		m.metrics.CommitsTotal.WithLabelValues(name, "ok").Inc()
		m.metrics.CommitDuration.Observe(time.Since(start).Seconds())
	}
	m.observe(c)
	c.logger.Info("generation committed",
		"generation", gen.ID(),
		"segments", gen.SegmentCount(),
		"live_docs", gen.DocCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	m.notify(CommitInfo{
		Collection:  name,
		Generation:  gen.ID(),
		Docs:        gen.DocCount(),
		Segments:    gen.SegmentCount(),
		CommittedAt: gen.manifest.CommittedAt,
	})
	return gen.ID(), nil
}

// CommitAll commits every open collection with pending mutations. It keeps
// going past failures and returns them joined.
func (m *Manager) CommitAll(ctx context.Context) error {
	var errs []error
	for _, name := range m.Collections() {
		st, err := m.Stats(name)
		if err != nil || st.Pending == 0 {
			continue
		}
		if _, err := m.Commit(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("committing %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Acquire returns the current generation of a collection with a reference
// held for the caller, who must Release it. A collection that exists on
// disk but is not open yet is loaded.
func (m *Manager) Acquire(ctx context.Context, name string) (*Generation, error) {
	c, err := m.open(ctx, name, false)
	if err != nil {
		return nil, err
	}
	return c.acquire()
}

// Stats reports the state of an open collection.
func (m *Manager) Stats(name string) (Stats, error) {
	m.mu.RLock()
	c, ok := m.collections[name]
	m.mu.RUnlock()
	if !ok {
		return Stats{}, cerrors.New(cerrors.KindCollectionNotFound, "stats", "").WithCollection(name)
	}
	return c.stats(), nil
}

// Collections lists the open collections.
func (m *Manager) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	return names
}

func (m *Manager) observe(c *collection) {
	if m.metrics == nil {
		return
	}
	s := c.stats()
	m.metrics.LiveDocuments.WithLabelValues(c.name).Set(float64(s.LiveDocuments))
	m.metrics.ActiveSegments.WithLabelValues(c.name).Set(float64(s.Segments))
}
