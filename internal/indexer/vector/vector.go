// Package vector stores the embeddings of one index generation and answers
// nearest-neighbour queries. Exact search scans every record; approximate
// search goes through an HNSW graph built lazily on first use.
package vector

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	cerrors "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/errors"
)

// Metric selects the similarity function.
type Metric string

const (
	Cosine Metric = "cosine"
	Dot    Metric = "dot"
)

// ParseMetric maps a config or option string to a Metric, defaulting to
// cosine.
func ParseMetric(s string) Metric {
	if s == string(Dot) {
		return Dot
	}
	return Cosine
}

const scanBatch = 256

// Record is one stored embedding with its precomputed L2 norm.
type Record struct {
	DocID  string
	Vector []float32
	Norm   float64
}

// NewRecord copies v and computes its norm.
func NewRecord(docID string, v []float32) Record {
	vec := make([]float32, len(v))
	copy(vec, v)
	return Record{DocID: docID, Vector: vec, Norm: Norm(vec)}
}

// Match is a scored nearest-neighbour hit.
type Match struct {
	DocID string
	Score float64
}

// SearchOptions controls a single query.
type SearchOptions struct {
	Metric      Metric
	Threshold   float64
	Limit       int
	Approximate bool
}

// GraphConfig tunes the approximate structure.
type GraphConfig struct {
	M        int
	EfSearch int
}

// Index is an immutable set of records sharing one dimensionality.
type Index struct {
	dims    int
	records []Record
	byID    map[string]int
	graphs  GraphConfig

	graphOnce sync.Once
	graph     *hnsw.Graph[uint32]
}

// New builds an index over records. Records must already have dims
// components; callers validate on insert.
func New(dims int, records []Record, graphs GraphConfig) *Index {
	byID := make(map[string]int, len(records))
	for i, r := range records {
		byID[r.DocID] = i
	}
	if graphs.M <= 0 {
		graphs.M = 16
	}
	if graphs.EfSearch <= 0 {
		graphs.EfSearch = 20
	}
	return &Index{dims: dims, records: records, byID: byID, graphs: graphs}
}

func (ix *Index) Dimensions() int {
	return ix.dims
}

func (ix *Index) Len() int {
	return len(ix.records)
}

// Get returns the record stored for docID.
func (ix *Index) Get(docID string) (Record, bool) {
	i, ok := ix.byID[docID]
	if !ok {
		return Record{}, false
	}
	return ix.records[i], true
}

// Records returns the stored records. The slice must not be modified.
func (ix *Index) Records() []Record {
	return ix.records
}

// CheckDimensions returns a DimensionMismatch error when v cannot be compared
// with this index.
func CheckDimensions(op string, want int, v []float32) error {
	if want > 0 && len(v) != want {
		return cerrors.Newf(cerrors.KindDimensionMismatch, op, "expected %d dimensions, got %d", want, len(v))
	}
	return nil
}

// Search returns records whose similarity to query is at least the
// threshold, best first, ties broken by document ID.
func (ix *Index) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(ix.records) == 0 {
		return []Match{}, nil
	}
	if err := CheckDimensions("vector.search", ix.dims, query); err != nil {
		return nil, err
	}
	if opts.Metric == "" {
		opts.Metric = Cosine
	}
	var (
		matches []Match
		err     error
	)
	if opts.Approximate {
		matches, err = ix.searchGraph(ctx, query, opts)
	} else {
		matches, err = ix.scan(ctx, query, opts)
	}
	if err != nil {
		return nil, err
	}
	sortMatches(matches)
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

func (ix *Index) scan(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	qNorm := Norm(query)
	matches := make([]Match, 0)
	for i, r := range ix.records {
		if i%scanBatch == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		score := Similarity(opts.Metric, query, qNorm, r)
		if score >= opts.Threshold {
			matches = append(matches, Match{DocID: r.DocID, Score: score})
		}
	}
	return matches, nil
}

// searchGraph pulls candidates from the HNSW graph (cosine over unit
// vectors) and rescores them exactly with the requested metric.
func (ix *Index) searchGraph(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	ix.graphOnce.Do(ix.buildGraph)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ix.graph.Len() == 0 {
		return []Match{}, nil
	}
	k := opts.Limit * 4
	if k < 32 {
		k = 32
	}
	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)
	qNorm := Norm(query)

	nodes := ix.graph.Search(q, k)
	matches := make([]Match, 0, len(nodes))
	for _, node := range nodes {
		r := ix.records[node.Key]
		score := Similarity(opts.Metric, query, qNorm, r)
		if score >= opts.Threshold {
			matches = append(matches, Match{DocID: r.DocID, Score: score})
		}
	}
	return matches, nil
}

func (ix *Index) buildGraph() {
	g := hnsw.NewGraph[uint32]()
	g.Distance = hnsw.CosineDistance
	g.M = ix.graphs.M
	g.EfSearch = ix.graphs.EfSearch
	g.Ml = 0.25
	nodes := make([]hnsw.Node[uint32], 0, len(ix.records))
	for i, r := range ix.records {
		if r.Norm == 0 {
			continue
		}
		v := make([]float32, len(r.Vector))
		copy(v, r.Vector)
		normalizeInPlace(v)
		nodes = append(nodes, hnsw.MakeNode(uint32(i), v))
	}
	if len(nodes) > 0 {
		g.Add(nodes...)
	}
	ix.graph = g
}

// Similarity scores r against q. Cosine against a zero vector is 0.
func Similarity(metric Metric, q []float32, qNorm float64, r Record) float64 {
	dot := DotProduct(q, r.Vector)
	if metric == Dot {
		return dot
	}
	if qNorm == 0 || r.Norm == 0 {
		return 0
	}
	return dot / (qNorm * r.Norm)
}

func DotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func Norm(v []float32) float64 {
	return math.Sqrt(DotProduct(v, v))
}

func normalizeInPlace(v []float32) {
	n := Norm(v)
	if n == 0 {
		return
	}
	inv := float32(1.0 / n)
	for i := range v {
		v[i] *= inv
	}
}

func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].DocID < matches[j].DocID
	})
}
