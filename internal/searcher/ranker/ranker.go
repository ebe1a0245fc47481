// Package ranker holds the scoring primitives shared by the providers and
// the engine: BM25 term weighting, deterministic ordering and min-max
// normalisation of a provider's result set.
package ranker

import (
	"math"
	"sort"
)

const (
	k1 = 1.2
	b  = 0.75
)

type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

type RankParams struct {
	TotalDocs    int64
	AvgDocLength float64
}

// BM25 scores one term occurrence count in a document of docLength tokens,
// given the number of documents containing the term.
func BM25(params RankParams, docFreq int, termFreq int, docLength int) float64 {
	idf := computeIDF(params.TotalDocs, int64(docFreq))
	return idf * computeTFNorm(float64(termFreq), float64(docLength), params.AvgDocLength)
}

// Round trims scores to four decimals so that float noise from summation
// order cannot break ties.
func Round(score float64) float64 {
	return math.Round(score*10000) / 10000
}

// Sort orders docs by descending score, ties broken by ascending DocID.
func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].DocID < docs[j].DocID
	})
}

// Normalize rescales scores to [0,1] with the set's own minimum and maximum.
// A single result, or a set whose scores are all equal, maps to 1.0.
func Normalize(docs []ScoredDoc) []ScoredDoc {
	out := make([]ScoredDoc, len(docs))
	if len(docs) == 0 {
		return out
	}
	lo, hi := docs[0].Score, docs[0].Score
	for _, d := range docs[1:] {
		lo = math.Min(lo, d.Score)
		hi = math.Max(hi, d.Score)
	}
	span := hi - lo
	for i, d := range docs {
		score := 1.0
		if span > 0 {
			score = (d.Score - lo) / span
		}
		out[i] = ScoredDoc{DocID: d.DocID, Score: score}
	}
	return out
}

// computeIDF stays positive when a term occurs in every document, so term
// frequency and fuzzy penalties still order the hits.
func computeIDF(totalDocs int64, docFreq int64) float64 {
	n, df := float64(totalDocs), float64(docFreq)
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
