package ranker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBM25(t *testing.T) {
	params := RankParams{TotalDocs: 10, AvgDocLength: 5}

	rare := BM25(params, 1, 1, 5)
	common := BM25(params, 8, 1, 5)
	assert.Greater(t, rare, common, "rarer terms weigh more")

	often := BM25(params, 1, 3, 5)
	assert.Greater(t, often, rare, "more occurrences score higher")

	long := BM25(params, 1, 1, 20)
	assert.Less(t, long, rare, "longer documents are penalised")

	assert.Equal(t, 0.0, BM25(RankParams{TotalDocs: 1}, 1, 1, 1), "no average length means no score")
}

func TestBM25_TermInEveryDocumentStillScores(t *testing.T) {
	score := BM25(RankParams{TotalDocs: 2, AvgDocLength: 3}, 2, 1, 3)
	assert.Greater(t, score, 0.0)

	params := RankParams{TotalDocs: 2, AvgDocLength: 4}
	assert.Greater(t, BM25(params, 2, 3, 4), BM25(params, 2, 1, 4), "term frequency orders hits")
}

func TestSort(t *testing.T) {
	docs := []ScoredDoc{
		{DocID: "c", Score: 1},
		{DocID: "b", Score: 2},
		{DocID: "a", Score: 1},
	}
	Sort(docs)
	assert.Equal(t, []ScoredDoc{{"b", 2}, {"a", 1}, {"c", 1}}, docs)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []ScoredDoc
		want []float64
	}{
		{name: "empty", in: nil, want: []float64{}},
		{name: "single", in: []ScoredDoc{{"a", 0.3}}, want: []float64{1}},
		{name: "all equal", in: []ScoredDoc{{"a", 2}, {"b", 2}}, want: []float64{1, 1}},
		{name: "range", in: []ScoredDoc{{"a", 4}, {"b", 3}, {"c", 2}}, want: []float64{1, 0.5, 0}},
		{name: "negative", in: []ScoredDoc{{"a", 1}, {"b", -1}}, want: []float64{1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Normalize(tt.in)
			got := make([]float64, 0, len(out))
			for i, d := range out {
				assert.Equal(t, tt.in[i].DocID, d.DocID)
				got = append(got, d.Score)
			}
			assert.InDeltaSlice(t, tt.want, got, 1e-9)
		})
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.1235, Round(0.123456))
	assert.Equal(t, Round(0.1+0.2), Round(0.3))
}
