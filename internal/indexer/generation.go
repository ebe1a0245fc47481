package indexer

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/vector"
)

// segmentHandle is an open segment shared by every generation that lists it.
// The files are deleted once no generation references the segment and it
// has been dropped from the manifest.
type segmentHandle struct {
	dir      string
	ref      SegmentRef
	reader   *segment.Reader
	vectors  []vector.Record
	refs     atomic.Int32
	obsolete atomic.Bool
	logger   *slog.Logger
}

func openSegment(dir string, ref SegmentRef, logger *slog.Logger) (*segmentHandle, int, error) {
	reader, err := segment.OpenReader(filepath.Join(dir, ref.Text))
	if err != nil {
		return nil, 0, err
	}
	h := &segmentHandle{dir: dir, ref: ref, reader: reader, logger: logger}
	dims := 0
	if ref.Vector != "" {
		d, records, err := segment.ReadVectors(filepath.Join(dir, ref.Vector))
		if err != nil {
			reader.Close()
			return nil, 0, err
		}
		h.vectors = records
		dims = d
	}
	h.refs.Store(1)
	return h, dims, nil
}

func (h *segmentHandle) retain() {
	h.refs.Add(1)
}

func (h *segmentHandle) release() {
	if h.refs.Add(-1) != 0 {
		return
	}
	if err := h.reader.Close(); err != nil {
		h.logger.Warn("closing segment failed", "segment", h.ref.Text, "error", err)
	}
	if !h.obsolete.Load() {
		return
	}
	for _, name := range []string{h.ref.Text, h.ref.Vector} {
		if name == "" {
			continue
		}
		if err := os.Remove(filepath.Join(h.dir, name)); err != nil && !os.IsNotExist(err) {
			h.logger.Warn("removing reclaimed segment failed", "segment", name, "error", err)
			continue
		}
		h.logger.Debug("reclaimed segment", "segment", name)
	}
}

// Generation is an immutable, reference-counted snapshot of a collection.
// Readers obtain one through Manager.Acquire and must Release it.
type Generation struct {
	id         uint64
	collection string
	manifest   *Manifest
	segments   []*segmentHandle
	live       map[string]int
	liveIDs    []string
	totalLen   int64
	vectors    *vector.Index
	refs       atomic.Int64

	vocabOnce sync.Once
	vocab     []string
}

// newGeneration takes ownership of one reference on each handle. Segments
// are replayed in manifest order: tombstones first, then documents.
func newGeneration(collection string, m *Manifest, handles []*segmentHandle, graphs vector.GraphConfig) *Generation {
	live := make(map[string]int)
	for i, h := range handles {
		for _, id := range h.reader.Tombstones() {
			delete(live, id)
		}
		for _, d := range h.reader.Docs() {
			live[d.ID] = i
		}
	}
	ids := make([]string, 0, len(live))
	var total int64
	for id, i := range live {
		ids = append(ids, id)
		if d, ok := handles[i].reader.Doc(id); ok {
			total += int64(d.Length)
		}
	}
	sort.Strings(ids)

	var records []vector.Record
	for i, h := range handles {
		for _, r := range h.vectors {
			if seg, ok := live[r.DocID]; ok && seg == i {
				records = append(records, r)
			}
		}
	}

	g := &Generation{
		id:         m.Generation,
		collection: collection,
		manifest:   m,
		segments:   handles,
		live:       live,
		liveIDs:    ids,
		totalLen:   total,
		vectors:    vector.New(m.Dimensions, records, graphs),
	}
	g.refs.Store(1)
	return g
}

func (g *Generation) tryRetain() bool {
	for {
		n := g.refs.Load()
		if n <= 0 {
			return false
		}
		if g.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. The last release returns the generation's
// segments to the collection.
func (g *Generation) Release() {
	if g.refs.Add(-1) != 0 {
		return
	}
	for _, h := range g.segments {
		h.release()
	}
}

func (g *Generation) ID() uint64 {
	return g.id
}

func (g *Generation) Collection() string {
	return g.collection
}

// DocCount is the number of live documents.
func (g *Generation) DocCount() int {
	return len(g.liveIDs)
}

func (g *Generation) SegmentCount() int {
	return len(g.segments)
}

// AvgDocLength is the mean token count of live documents.
func (g *Generation) AvgDocLength() float64 {
	if len(g.liveIDs) == 0 {
		return 0
	}
	return float64(g.totalLen) / float64(len(g.liveIDs))
}

// Has reports whether id is live in this generation.
func (g *Generation) Has(id string) bool {
	_, ok := g.live[id]
	return ok
}

// DocIDs returns live document IDs in ascending order. The slice must not
// be modified.
func (g *Generation) DocIDs() []string {
	return g.liveIDs
}

// DocLength returns the token count of a live document.
func (g *Generation) DocLength(id string) int {
	i, ok := g.live[id]
	if !ok {
		return 0
	}
	d, _ := g.segments[i].reader.Doc(id)
	return d.Length
}

// Document returns the stored version of a live document.
func (g *Generation) Document(id string) (index.Document, bool, error) {
	i, ok := g.live[id]
	if !ok {
		return index.Document{}, false, nil
	}
	entry, _ := g.segments[i].reader.Doc(id)
	content, err := g.segments[i].reader.Content(entry)
	if err != nil {
		return index.Document{}, false, err
	}
	doc := index.Document{ID: id, Content: content, Metadata: entry.Metadata}
	if r, ok := g.vectors.Get(id); ok {
		doc.Embedding = r.Vector
	}
	return doc, true, nil
}

// Content returns a live document's stored text.
func (g *Generation) Content(id string) (string, bool, error) {
	i, ok := g.live[id]
	if !ok {
		return "", false, nil
	}
	entry, _ := g.segments[i].reader.Doc(id)
	content, err := g.segments[i].reader.Content(entry)
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

// Postings returns the postings of term restricted to live document
// versions, sorted by document ID.
func (g *Generation) Postings(term string) (index.PostingList, error) {
	var out index.PostingList
	for i, h := range g.segments {
		postings, err := h.reader.Search(term)
		if err != nil {
			return nil, err
		}
		for _, p := range postings {
			if seg, ok := g.live[p.DocID]; ok && seg == i {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].DocID < out[b].DocID
	})
	return out, nil
}

// TermsWithPrefix returns the distinct dictionary terms starting with
// prefix across all segments.
func (g *Generation) TermsWithPrefix(prefix string) []string {
	seen := make(map[string]struct{})
	terms := make([]string, 0)
	for _, h := range g.segments {
		for _, t := range h.reader.TermsWithPrefix(prefix) {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			terms = append(terms, t)
		}
	}
	sort.Strings(terms)
	return terms
}

// Vocabulary returns every distinct term of the generation, sorted. It is
// built on first use.
func (g *Generation) Vocabulary() []string {
	g.vocabOnce.Do(func() {
		seen := make(map[string]struct{})
		for _, h := range g.segments {
			h.reader.ForEachTerm(func(term string) {
				seen[term] = struct{}{}
			})
		}
		g.vocab = make([]string, 0, len(seen))
		for t := range seen {
			g.vocab = append(g.vocab, t)
		}
		sort.Strings(g.vocab)
	})
	return g.vocab
}

// Vectors returns the embedding index of live documents.
func (g *Generation) Vectors() *vector.Index {
	return g.vectors
}

func (g *Generation) Dimensions() int {
	return g.manifest.Dimensions
}
