package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze_BuildsPostings(t *testing.T) {
	pd := Analyze(Document{ID: "doc1", Content: "brown fox and brown dog"})

	assert.Equal(t, 4, pd.Length)
	require.Contains(t, pd.Terms, "brown")
	assert.Equal(t, 2, pd.Terms["brown"].Frequency)
	assert.Equal(t, []int{0, 2}, pd.Terms["brown"].Positions)
}

func TestMemoryIndex_PutReplacesPendingVersion(t *testing.T) {
	m := NewMemoryIndex()

	assert.False(t, m.Put(Analyze(Document{ID: "a", Content: "first"})))
	assert.True(t, m.Put(Analyze(Document{ID: "a", Content: "second"})))

	d := m.Drain()
	require.Len(t, d.Docs, 1)
	assert.Equal(t, "second", d.Docs[0].Doc.Content)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryIndex_RemoveRecordsTombstoneOnlyForCommitted(t *testing.T) {
	m := NewMemoryIndex()
	m.Put(Analyze(Document{ID: "pending", Content: "x y"}))

	assert.True(t, m.Remove("pending", false))
	assert.False(t, m.Remove("committed", true))

	d := m.Drain()
	assert.Empty(t, d.Docs)
	assert.Equal(t, []string{"committed"}, d.Tombstones)
}

func TestMemoryIndex_RestorePrefersNewerMutations(t *testing.T) {
	m := NewMemoryIndex()
	m.Put(Analyze(Document{ID: "a", Content: "old a"}))
	m.Put(Analyze(Document{ID: "b", Content: "old b"}))
	m.Remove("c", true)
	drained := m.Drain()

	m.Put(Analyze(Document{ID: "a", Content: "new a"}))
	m.Restore(drained)

	d := m.Drain()
	require.Len(t, d.Docs, 2)
	assert.Equal(t, "new a", d.Docs[0].Doc.Content)
	assert.Equal(t, "old b", d.Docs[1].Doc.Content)
	assert.Equal(t, []string{"c"}, d.Tombstones)
}

func TestDelta_TermsSorted(t *testing.T) {
	m := NewMemoryIndex()
	m.Put(Analyze(Document{ID: "doc2", Content: "slow brown dog"}))
	m.Put(Analyze(Document{ID: "doc1", Content: "quick brown fox"}))

	terms := m.Drain().Terms()
	require.NotEmpty(t, terms)
	for i := 1; i < len(terms); i++ {
		assert.Less(t, terms[i-1].Term, terms[i].Term)
	}
	for _, e := range terms {
		if e.Term == "brown" {
			require.Len(t, e.Postings, 2)
			assert.Equal(t, "doc1", e.Postings[0].DocID)
			assert.Equal(t, "doc2", e.Postings[1].DocID)
		}
	}
}

func TestMemoryIndex_ConcurrentPut(t *testing.T) {
	m := NewMemoryIndex()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Put(Analyze(Document{ID: fmt.Sprintf("doc-%d", i), Content: "concurrent ingestion"}))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, m.Len())
	assert.Positive(t, m.Size())
}
