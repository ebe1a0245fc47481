package provider

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/vector"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/config"
	cerrors "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/errors"
)

// VectorProvider ranks documents by embedding similarity to the query
// vector.
type VectorProvider struct {
	metric      vector.Metric
	threshold   float64
	approximate bool
}

func NewVector(cfg config.VectorConfig) *VectorProvider {
	return &VectorProvider{
		metric:      vector.ParseMetric(cfg.Metric),
		threshold:   cfg.SimilarityThreshold,
		approximate: cfg.Approximate,
	}
}

func (p *VectorProvider) Search(ctx context.Context, snap Snapshot, q Query) (*Result, error) {
	if len(q.Vector) == 0 {
		return nil, cerrors.New(cerrors.KindMissingEmbedding, "vector.search", "query carries no embedding")
	}
	if err := vector.CheckDimensions("vector.search", snap.Dimensions(), q.Vector); err != nil {
		return nil, err
	}
	ix := snap.Vectors()
	if ix == nil || ix.Len() == 0 {
		return &Result{Hits: []Hit{}}, nil
	}
	o := q.Options.For(Vector)
	opts := vector.SearchOptions{
		Metric:      vector.ParseMetric(o.String("metric", string(p.metric))),
		Threshold:   o.Float("similarity_threshold", p.threshold),
		Approximate: o.Bool("approximate", p.approximate),
	}
	if opts.Approximate {
		opts.Limit = q.Limit
	}
	matches, err := ix.Search(ctx, q.Vector, opts)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(matches))
	for i, m := range matches {
		hits[i] = Hit{DocID: m.DocID, Score: ranker.Round(m.Score), Offset: 0, Position: -1}
	}
	sortHits(hits)
	return &Result{Hits: hits}, nil
}
