package index

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/tokenizer"
)

// MemoryIndex buffers the uncommitted mutations of one collection: documents
// to publish and tombstones for committed documents. It is never read by
// queries; it only feeds the next segment.
type MemoryIndex struct {
	mu      sync.RWMutex
	docs    map[string]*PendingDoc
	removed map[string]struct{}
	size    int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		docs:    make(map[string]*PendingDoc),
		removed: make(map[string]struct{}),
	}
}

// Analyze tokenizes a document into its per-term postings. It takes no lock
// so callers can run it concurrently before Put.
func Analyze(doc Document) *PendingDoc {
	tokens := tokenizer.Tokenize(doc.Content)
	termData := make(map[string]*Posting)
	for _, token := range tokens {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{
				DocID:     doc.ID,
				Positions: make([]int, 0, 4),
			}
			termData[token.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}
	return &PendingDoc{Doc: doc, Terms: termData, Length: len(tokens)}
}

// Put stages an analyzed document, replacing any pending version with the
// same ID. It reports whether a pending version was replaced.
func (m *MemoryIndex) Put(pd *PendingDoc) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := pd.Doc.ID
	old, replaced := m.docs[id]
	if replaced {
		m.size -= estimateSize(old)
	}
	m.docs[id] = pd
	delete(m.removed, id)
	m.size += estimateSize(pd)
	return replaced
}

// Remove drops any pending version of id and, when committed is true, records
// a tombstone for the committed version. It reports whether a pending
// version existed.
func (m *MemoryIndex) Remove(id string, committed bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, had := m.docs[id]
	if had {
		m.size -= estimateSize(old)
		delete(m.docs, id)
	}
	if committed {
		m.removed[id] = struct{}{}
	}
	return had
}

// Has reports whether id has a pending (not removed) version.
func (m *MemoryIndex) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[id]
	return ok
}

// Removed reports whether a tombstone is pending for id.
func (m *MemoryIndex) Removed(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.removed[id]
	return ok
}

// Dimensions returns the embedding length of any pending document carrying
// one, or 0.
func (m *MemoryIndex) Dimensions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pd := range m.docs {
		if len(pd.Doc.Embedding) > 0 {
			return len(pd.Doc.Embedding)
		}
	}
	return 0
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Len returns the number of pending mutations (puts plus tombstones).
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs) + len(m.removed)
}

// Drain moves every pending mutation into a Delta and resets the index.
func (m *MemoryIndex) Drain() *Delta {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &Delta{
		Docs:       make([]*PendingDoc, 0, len(m.docs)),
		Tombstones: make([]string, 0, len(m.removed)),
	}
	for _, pd := range m.docs {
		d.Docs = append(d.Docs, pd)
	}
	for id := range m.removed {
		d.Tombstones = append(d.Tombstones, id)
	}
	sort.Slice(d.Docs, func(i, j int) bool {
		return d.Docs[i].Doc.ID < d.Docs[j].Doc.ID
	})
	sort.Strings(d.Tombstones)
	m.docs = make(map[string]*PendingDoc)
	m.removed = make(map[string]struct{})
	m.size = 0
	return d
}

// Restore puts a drained Delta back after a failed commit. Mutations staged
// since the Drain take precedence over the restored ones.
func (m *MemoryIndex) Restore(d *Delta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pd := range d.Docs {
		id := pd.Doc.ID
		if _, newer := m.docs[id]; newer {
			continue
		}
		if _, newer := m.removed[id]; newer {
			continue
		}
		m.docs[id] = pd
		m.size += estimateSize(pd)
	}
	for _, id := range d.Tombstones {
		if _, newer := m.docs[id]; newer {
			continue
		}
		m.removed[id] = struct{}{}
	}
}

// Delta is an immutable batch of mutations ready to be written as a segment.
type Delta struct {
	Docs       []*PendingDoc
	Tombstones []string
}

func (d *Delta) Empty() bool {
	return len(d.Docs) == 0 && len(d.Tombstones) == 0
}

// Terms inverts the delta's documents into sorted term entries with postings
// sorted by document ID.
func (d *Delta) Terms() []TermEntry {
	inverted := make(map[string]PostingList)
	for _, pd := range d.Docs {
		for term, p := range pd.Terms {
			inverted[term] = append(inverted[term], *p)
		}
	}
	entries := make([]TermEntry, 0, len(inverted))
	for term, postings := range inverted {
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].DocID < postings[j].DocID
		})
		entries = append(entries, TermEntry{Term: term, Postings: postings})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

func estimateSize(pd *PendingDoc) int64 {
	size := int64(len(pd.Doc.ID) + len(pd.Doc.Content) + len(pd.Doc.Embedding)*4 + 64)
	for term, p := range pd.Terms {
		size += int64(len(term) + len(p.Positions)*8 + 32)
	}
	return size
}
