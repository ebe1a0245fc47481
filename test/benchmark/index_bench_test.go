// Package benchmark contains Go benchmarks for the index manager, the
// pending in-memory index and the search pipeline, measuring throughput and
// allocation behaviour.
package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/config"
)

var terms = []string{"distributed", "search", "analytics", "platform", "indexing", "query", "engine", "ranking"}

func benchConfig(b *testing.B) *config.Config {
	b.Helper()
	cfg := config.Default()
	cfg.Index.DataDir = b.TempDir()
	cfg.Cache.Backend = "none"
	return cfg
}

func corpusDoc(i int) index.Document {
	return index.Document{
		ID: fmt.Sprintf("doc-%d", i),
		Content: fmt.Sprintf("document about %s and %s. this document covers %s %s %s in production systems",
			terms[i%len(terms)], terms[(i+1)%len(terms)],
			terms[i%len(terms)], terms[(i+2)%len(terms)], terms[(i+3)%len(terms)]),
	}
}

// loadCorpus indexes n documents into collection and commits them.
func loadCorpus(b *testing.B, m *indexer.Manager, collection string, n int) {
	b.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		if err := m.AddDocument(ctx, collection, corpusDoc(i)); err != nil {
			b.Fatal(err)
		}
	}
	if _, err := m.Commit(ctx, collection); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkMemoryIndexPut measures per-document analysis and insert into the
// pending index.
func BenchmarkMemoryIndexPut(b *testing.B) {
	mi := index.NewMemoryIndex()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mi.Put(index.Analyze(corpusDoc(i)))
	}
}

// BenchmarkMemoryIndexDrain measures handing 5 000 pending documents to a
// commit.
func BenchmarkMemoryIndexDrain(b *testing.B) {
	docs := make([]*index.PendingDoc, 5000)
	for i := range docs {
		docs[i] = index.Analyze(corpusDoc(i))
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		mi := index.NewMemoryIndex()
		for _, pd := range docs {
			mi.Put(pd)
		}
		b.StartTimer()
		delta := mi.Drain()
		_ = delta.Terms()
	}
}

// BenchmarkManagerAddDocument measures staging throughput at various
// committed corpus sizes.
func BenchmarkManagerAddDocument(b *testing.B) {
	for _, preload := range []int{100, 1000, 5000} {
		b.Run(fmt.Sprintf("preload_%d", preload), func(b *testing.B) {
			m := indexer.NewManager(benchConfig(b), nil)
			defer m.Shutdown(context.Background())
			loadCorpus(b, m, "bench", preload)

			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := m.AddDocument(ctx, "bench", corpusDoc(preload+i)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkManagerCommit measures publishing a generation of 100 new
// documents on top of 1 000 committed ones.
func BenchmarkManagerCommit(b *testing.B) {
	m := indexer.NewManager(benchConfig(b), nil)
	defer m.Shutdown(context.Background())
	loadCorpus(b, m, "bench", 1000)

	ctx := context.Background()
	next := 1000
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j := 0; j < 100; j++ {
			if err := m.AddDocument(ctx, "bench", corpusDoc(next)); err != nil {
				b.Fatal(err)
			}
			next++
		}
		b.StartTimer()
		if _, err := m.Commit(ctx, "bench"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkGenerationPostings measures concurrent posting lookups against
// one acquired generation.
func BenchmarkGenerationPostings(b *testing.B) {
	m := indexer.NewManager(benchConfig(b), nil)
	defer m.Shutdown(context.Background())
	loadCorpus(b, m, "bench", 10000)

	g, err := m.Acquire(context.Background(), "bench")
	if err != nil {
		b.Fatal(err)
	}
	defer g.Release()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := g.Postings(terms[i%len(terms)]); err != nil {
				b.Fatal(err)
			}
			i++
		}
	})
}
