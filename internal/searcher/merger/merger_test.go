package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/searcher/ranker"
)

func TestTopK(t *testing.T) {
	lists := [][]ranker.ScoredDoc{
		{{DocID: "a", Score: 3}, {DocID: "b", Score: 1}},
		{{DocID: "c", Score: 2}, {DocID: "d", Score: 2}},
	}

	top := TopK(lists, 3)
	assert.Equal(t, []ranker.ScoredDoc{{DocID: "a", Score: 3}, {DocID: "c", Score: 2}, {DocID: "d", Score: 2}}, top)

	all := TopK(lists, 0)
	assert.Len(t, all, 4)
	assert.Equal(t, "b", all[3].DocID)
}

func TestCombine_SumsNormalisedScores(t *testing.T) {
	out := Combine([]Contribution{
		{Provider: "text", Weight: 1, Docs: []ranker.ScoredDoc{{DocID: "doc1", Score: 4}, {DocID: "doc2", Score: 3}, {DocID: "doc5", Score: 2}}},
		{Provider: "vector", Weight: 1, Docs: []ranker.ScoredDoc{{DocID: "doc2", Score: 0.9}, {DocID: "doc3", Score: 0.1}}},
	}, true, 10)

	require.Len(t, out, 4)
	assert.Equal(t, "doc2", out[0].DocID, "matched by both providers")
	assert.InDelta(t, 1.5, out[0].Score, 1e-9)
	assert.Equal(t, []string{"text", "vector"}, out[0].Providers)
	assert.Equal(t, "doc1", out[1].DocID)
	assert.Equal(t, []string{"text"}, out[1].Providers)
	assert.Equal(t, "doc3", out[2].DocID)
	assert.Equal(t, "doc5", out[3].DocID)
	assert.InDelta(t, 0.0, out[3].Score, 1e-9)
}

func TestCombine_SingleResultNormalisesToOne(t *testing.T) {
	out := Combine([]Contribution{
		{Provider: "regex", Weight: 1, Docs: []ranker.ScoredDoc{{DocID: "doc1", Score: 0.02}}},
	}, true, 10)
	require.Len(t, out, 1)
	assert.Equal(t, 1.0, out[0].Score)
}

func TestCombine_TiesBreakByDocID(t *testing.T) {
	out := Combine([]Contribution{
		{Provider: "text", Weight: 1, Docs: []ranker.ScoredDoc{{DocID: "doc2", Score: 1.5}, {DocID: "doc1", Score: 1.5}}},
	}, true, 10)
	require.Len(t, out, 2)
	assert.Equal(t, "doc1", out[0].DocID)
	assert.Equal(t, "doc2", out[1].DocID)
}

func TestCombine_WeightsAndRawScores(t *testing.T) {
	out := Combine([]Contribution{
		{Provider: "text", Weight: 2, Docs: []ranker.ScoredDoc{{DocID: "a", Score: 1}}},
		{Provider: "vector", Weight: 0.5, Docs: []ranker.ScoredDoc{{DocID: "b", Score: 3}}},
	}, false, 1)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].DocID)
	assert.Equal(t, 2.0, out[0].Score)
}
