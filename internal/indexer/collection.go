package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/vector"
	cerrors "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/errors"
)

// collection is one named, independently committed index. Mutations are
// buffered in pending under mu; commits and compactions are serialized by
// commitMu; readers only touch the current generation pointer.
type collection struct {
	name   string
	dir    string
	lock   *flock.Flock
	writer *segment.Writer
	graphs vector.GraphConfig
	logger *slog.Logger

	mu      sync.Mutex
	pending *index.MemoryIndex
	staging map[string]bool
	dims    int
	closed  bool

	commitMu sync.Mutex
	current  atomic.Pointer[Generation]
}

// openCollection locks dir, reads its manifest and opens every referenced
// segment. Unreferenced segment files left by an interrupted commit are
// removed. Any inconsistency is IndexCorruption and nothing stays open.
func openCollection(name, dir string, configuredDims int, graphs vector.GraphConfig) (*collection, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating collection directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking collection directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("collection %q is locked by another process", name)
	}

	logger := slog.Default().With("component", "indexer", "collection", name)
	c := &collection{
		name:    name,
		dir:     dir,
		lock:    lock,
		writer:  segment.NewWriter(dir),
		graphs:  graphs,
		logger:  logger,
		pending: index.NewMemoryIndex(),
	}
	gen, err := c.loadGeneration(configuredDims)
	if err != nil {
		lock.Unlock()
		return nil, cerrors.Wrap(cerrors.KindOf(err), "load", err).WithCollection(name)
	}
	c.dims = gen.Dimensions()
	if c.dims == 0 {
		c.dims = configuredDims
	}
	c.current.Store(gen)
	c.removeOrphans(gen.manifest)
	logger.Info("collection loaded",
		"generation", gen.ID(),
		"segments", gen.SegmentCount(),
		"live_docs", gen.DocCount(),
		"dimensions", c.dims,
	)
	return c, nil
}

func (c *collection) loadGeneration(configuredDims int) (*Generation, error) {
	m, err := readManifest(c.dir)
	if err != nil {
		return nil, err
	}
	if configuredDims > 0 && m.Dimensions > 0 && configuredDims != m.Dimensions {
		return nil, cerrors.Newf(cerrors.KindDimensionMismatch, "load",
			"configured %d dimensions, collection stores %d", configuredDims, m.Dimensions)
	}
	handles := make([]*segmentHandle, 0, len(m.Segments))
	closeAll := func() {
		for _, h := range handles {
			h.reader.Close()
		}
	}
	for _, ref := range m.Segments {
		h, dims, err := openSegment(c.dir, ref, c.logger)
		if err != nil {
			closeAll()
			return nil, err
		}
		handles = append(handles, h)
		if int(h.reader.DocCount()) != ref.Docs {
			closeAll()
			return nil, cerrors.Newf(cerrors.KindIndexCorruption, "load",
				"segment %s holds %d documents, manifest records %d", ref.Text, h.reader.DocCount(), ref.Docs)
		}
		if ref.Vector != "" && dims != m.Dimensions {
			closeAll()
			return nil, cerrors.Newf(cerrors.KindIndexCorruption, "load",
				"vector segment %s has %d dimensions, manifest records %d", ref.Vector, dims, m.Dimensions)
		}
	}
	return newGeneration(c.name, m, handles, c.graphs), nil
}

func (c *collection) removeOrphans(m *Manifest) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("listing collection directory failed", "error", err)
		return
	}
	refs := m.references()
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !isSegmentFile(name) {
			continue
		}
		if _, ok := refs[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
			c.logger.Warn("removing orphan segment failed", "file", name, "error", err)
			continue
		}
		c.logger.Info("removed orphan segment", "file", name)
	}
}

// acquire returns the current generation with an extra reference.
func (c *collection) acquire() (*Generation, error) {
	for {
		g := c.current.Load()
		if g == nil {
			return nil, cerrors.New(cerrors.KindCollectionClosed, "acquire", "").WithCollection(c.name)
		}
		if g.tryRetain() {
			return g, nil
		}
	}
}

// put stages an analyzed document. The dimension check and the insert happen
// under one lock so concurrent adds agree on the collection's
// dimensionality.
func (c *collection) put(op string, pd *index.PendingDoc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return cerrors.New(cerrors.KindCollectionClosed, op, "").WithCollection(c.name)
	}
	if emb := pd.Doc.Embedding; len(emb) > 0 {
		if err := vector.CheckDimensions(op, c.dims, emb); err != nil {
			return cerrors.Wrap(cerrors.KindDimensionMismatch, op, err).WithCollection(c.name)
		}
		if c.dims == 0 {
			c.dims = len(emb)
		}
	}
	c.pending.Put(pd)
	return nil
}

// remove tombstones id for the next generation. It reports false when the
// document is neither pending nor visible in the current or staged
// generation.
func (c *collection) remove(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, cerrors.New(cerrors.KindCollectionClosed, "remove_document", "").WithCollection(c.name)
	}
	if c.pending.Has(id) {
		c.pending.Remove(id, c.committedLocked(id))
		return true, nil
	}
	if c.pending.Removed(id) {
		return false, nil
	}
	if !c.committedLocked(id) {
		return false, nil
	}
	c.pending.Remove(id, true)
	return true, nil
}

// committedLocked reports whether id will be live once any in-flight commit
// publishes. Callers hold mu.
func (c *collection) committedLocked(id string) bool {
	if live, staged := c.staging[id]; staged {
		return live
	}
	g := c.current.Load()
	return g != nil && g.Has(id)
}

// commit publishes the pending mutations as the next generation. On failure
// the mutations go back to pending and the current generation is untouched.
func (c *collection) commit(ctx context.Context) (*Generation, bool, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false, cerrors.New(cerrors.KindCollectionClosed, "commit", "").WithCollection(c.name)
	}
	if c.pending.Len() == 0 {
		c.mu.Unlock()
		return c.current.Load(), false, nil
	}
	delta := c.pending.Drain()
	c.staging = make(map[string]bool, len(delta.Docs)+len(delta.Tombstones))
	for _, id := range delta.Tombstones {
		c.staging[id] = false
	}
	for _, pd := range delta.Docs {
		c.staging[pd.Doc.ID] = true
	}
	dims := c.dims
	c.mu.Unlock()

	old := c.current.Load()
	gen, err := c.stage(ctx, old, delta, dims)

	c.mu.Lock()
	c.staging = nil
	if err != nil {
		c.pending.Restore(delta)
		c.mu.Unlock()
		return nil, false, err
	}
	c.current.Store(gen)
	c.mu.Unlock()
	old.Release()
	return gen, true, nil
}

func (c *collection) stage(ctx context.Context, old *Generation, delta *index.Delta, dims int) (*Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := old.ID() + 1
	ref := SegmentRef{Text: segment.TextName(id), Docs: len(delta.Docs)}
	records := make([]vector.Record, 0)
	for _, pd := range delta.Docs {
		if len(pd.Doc.Embedding) > 0 {
			records = append(records, vector.NewRecord(pd.Doc.ID, pd.Doc.Embedding))
		}
	}
	if len(records) > 0 {
		ref.Vector = segment.VectorName(id)
	}
	next := &Manifest{
		Format:      manifestFormat,
		Generation:  id,
		Dimensions:  old.manifest.Dimensions,
		Segments:    append(append([]SegmentRef{}, old.manifest.Segments...), ref),
		CommittedAt: time.Now().UTC(),
	}
	if len(records) > 0 {
		next.Dimensions = dims
	}
	h, err := c.writeSegment(ref, delta, dims, records, next)
	if err != nil {
		return nil, err
	}
	handles := make([]*segmentHandle, 0, len(old.segments)+1)
	for _, s := range old.segments {
		s.retain()
		handles = append(handles, s)
	}
	handles = append(handles, h)
	return newGeneration(c.name, next, handles, c.graphs), nil
}

// writeSegment writes the segment files, opens them back and then makes
// them durable by rewriting the manifest. Files of a failed attempt are
// removed.
func (c *collection) writeSegment(ref SegmentRef, delta *index.Delta, dims int, records []vector.Record, next *Manifest) (*segmentHandle, error) {
	cleanup := func() {
		os.Remove(filepath.Join(c.dir, ref.Text))
		if ref.Vector != "" {
			os.Remove(filepath.Join(c.dir, ref.Vector))
		}
	}
	if err := c.writer.Write(ref.Text, delta); err != nil {
		cleanup()
		return nil, fmt.Errorf("writing text segment: %w", err)
	}
	if ref.Vector != "" {
		if err := c.writer.WriteVectors(ref.Vector, dims, records); err != nil {
			cleanup()
			return nil, fmt.Errorf("writing vector segment: %w", err)
		}
	}
	h, _, err := openSegment(c.dir, ref, c.logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("reopening new segment: %w", err)
	}
	if err := c.publishManifest(next); err != nil {
		h.reader.Close()
		cleanup()
		return nil, fmt.Errorf("publishing manifest: %w", err)
	}
	return h, nil
}

// publishManifest writes next. A failed directory sync after the rename
// leaves next as the manifest on disk, so it counts as published.
func (c *collection) publishManifest(next *Manifest) error {
	err := writeManifest(c.dir, next)
	if errors.Is(err, errManifestNotDurable) {
		c.logger.Warn("manifest published without directory sync",
			"generation", next.Generation,
			"error", err,
		)
		return nil
	}
	return err
}

// compact rewrites every live document of the current generation into a
// single segment and publishes it. Shadowed versions and tombstones are
// purged. Pending mutations are unaffected.
func (c *collection) compact(ctx context.Context) (*Generation, bool, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	old, err := c.acquire()
	if err != nil {
		return nil, false, err
	}
	defer old.Release()
	if !needsCompaction(old) {
		return old, false, nil
	}

	rebuilt := index.NewMemoryIndex()
	for i, id := range old.DocIDs() {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
		}
		doc, ok, err := old.Document(id)
		if err != nil {
			return nil, false, fmt.Errorf("reading %q for compaction: %w", id, err)
		}
		if ok {
			rebuilt.Put(index.Analyze(doc))
		}
	}
	delta := rebuilt.Drain()

	id := old.ID() + 1
	next := &Manifest{
		Format:      manifestFormat,
		Generation:  id,
		Dimensions:  old.manifest.Dimensions,
		Segments:    []SegmentRef{},
		CommittedAt: time.Now().UTC(),
	}
	handles := make([]*segmentHandle, 0, 1)
	if !delta.Empty() {
		ref := SegmentRef{Text: segment.TextName(id), Docs: len(delta.Docs)}
		records := old.Vectors().Records()
		if len(records) > 0 {
			ref.Vector = segment.VectorName(id)
		}
		next.Segments = append(next.Segments, ref)
		h, err := c.writeSegment(ref, delta, next.Dimensions, records, next)
		if err != nil {
			return nil, false, err
		}
		handles = append(handles, h)
	} else if err := c.publishManifest(next); err != nil {
		return nil, false, fmt.Errorf("publishing manifest: %w", err)
	}

	gen := newGeneration(c.name, next, handles, c.graphs)
	for _, s := range old.segments {
		s.obsolete.Store(true)
	}
	c.mu.Lock()
	c.current.Store(gen)
	c.mu.Unlock()
	old.Release()
	return gen, true, nil
}

// needsCompaction reports whether a generation carries more than one
// segment or any shadowed or tombstoned versions.
func needsCompaction(g *Generation) bool {
	if len(g.segments) > 1 {
		return true
	}
	for _, h := range g.segments {
		if len(h.reader.Tombstones()) > 0 || int(h.reader.DocCount()) != g.DocCount() {
			return true
		}
	}
	return false
}

// close waits for an in-flight commit, discards pending mutations and
// releases the directory lock. Open readers keep their generation until
// they release it.
func (c *collection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if n := c.pending.Len(); n > 0 {
		c.logger.Warn("discarding uncommitted mutations", "pending", n)
	}
	if g := c.current.Swap(nil); g != nil {
		g.Release()
	}
	var errs []error
	if err := c.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlocking collection directory: %w", err))
	}
	c.logger.Info("collection closed")
	return errors.Join(errs...)
}

func (c *collection) stats() Stats {
	g := c.current.Load()
	s := Stats{Collection: c.name, Pending: c.pending.Len()}
	c.mu.Lock()
	s.Dimensions = c.dims
	c.mu.Unlock()
	if g != nil {
		s.Generation = g.ID()
		s.Segments = g.SegmentCount()
		s.LiveDocuments = g.DocCount()
	}
	return s
}
