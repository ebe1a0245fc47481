// Package merger fuses per-provider result lists into one ranking.
package merger

import (
	"container/heap"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/searcher/ranker"
)

// Contribution is one provider's scored documents and the weight its
// scores carry in the combined ranking.
type Contribution struct {
	Provider string
	Weight   float64
	Docs     []ranker.ScoredDoc
}

// Combined is a fused document score with the providers that matched it.
type Combined struct {
	ranker.ScoredDoc
	Providers []string
}

// Combine normalises each contribution (min-max unless normalize is false),
// sums the weighted scores per document and returns the best limit
// documents, highest first, ties broken by DocID.
func Combine(contribs []Contribution, normalize bool, limit int) []Combined {
	scores := make(map[string]float64)
	providers := make(map[string][]string)
	for _, c := range contribs {
		docs := c.Docs
		if normalize {
			docs = ranker.Normalize(docs)
		}
		for _, d := range docs {
			scores[d.DocID] += c.Weight * d.Score
			providers[d.DocID] = append(providers[d.DocID], c.Provider)
		}
	}
	flat := make([]ranker.ScoredDoc, 0, len(scores))
	for id, score := range scores {
		flat = append(flat, ranker.ScoredDoc{DocID: id, Score: ranker.Round(score)})
	}
	top := TopK([][]ranker.ScoredDoc{flat}, limit)
	out := make([]Combined, len(top))
	for i, d := range top {
		names := providers[d.DocID]
		sort.Strings(names)
		out[i] = Combined{ScoredDoc: d, Providers: names}
	}
	return out
}

// TopK returns the limit best documents across lists, highest first, ties
// broken by ascending DocID. A non-positive limit keeps everything.
func TopK(lists [][]ranker.ScoredDoc, limit int) []ranker.ScoredDoc {
	if limit <= 0 {
		total := 0
		for _, l := range lists {
			total += len(l)
		}
		limit = total
	}
	h := &scoredDocHeap{}
	heap.Init(h)
	for _, results := range lists {
		for _, doc := range results {
			heap.Push(h, doc)
			if h.Len() > limit {
				heap.Pop(h)
			}
		}
	}
	result := make([]ranker.ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(ranker.ScoredDoc)
	}
	return result
}

type scoredDocHeap []ranker.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].DocID > h[j].DocID
}

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x interface{}) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *scoredDocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
