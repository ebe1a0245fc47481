package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/errors"
)

func testIndex() *Index {
	return New(3, []Record{
		NewRecord("doc1", []float32{1, 0, 0}),
		NewRecord("doc2", []float32{0, 1, 0}),
		NewRecord("doc3", []float32{0.7, 0.7, 0}),
		NewRecord("doc4", []float32{-1, 0, 0}),
	}, GraphConfig{})
}

func TestSearch_CosineOrdersByAngle(t *testing.T) {
	ix := testIndex()

	matches, err := ix.Search(context.Background(), []float32{0.1, 1, 0}, SearchOptions{Metric: Cosine})
	require.NoError(t, err)

	require.Len(t, matches, 3, "doc4 has negative similarity and falls below the zero threshold")
	assert.Equal(t, "doc2", matches[0].DocID)
	assert.Equal(t, "doc3", matches[1].DocID)
	assert.Equal(t, "doc1", matches[2].DocID)
}

func TestSearch_ThresholdAndLimit(t *testing.T) {
	ix := testIndex()

	matches, err := ix.Search(context.Background(), []float32{1, 0, 0}, SearchOptions{Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "doc1", matches[0].DocID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)

	matches, err = ix.Search(context.Background(), []float32{1, 0, 0}, SearchOptions{Threshold: -1, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSearch_DotProduct(t *testing.T) {
	ix := New(2, []Record{
		NewRecord("short", []float32{1, 0}),
		NewRecord("long", []float32{3, 0}),
	}, GraphConfig{})

	matches, err := ix.Search(context.Background(), []float32{1, 0}, SearchOptions{Metric: Dot})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "long", matches[0].DocID)
	assert.InDelta(t, 3.0, matches[0].Score, 1e-9)
}

func TestSearch_TieBreakByDocID(t *testing.T) {
	ix := New(2, []Record{
		NewRecord("b", []float32{1, 1}),
		NewRecord("a", []float32{1, 1}),
	}, GraphConfig{})

	matches, err := ix.Search(context.Background(), []float32{1, 1}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].DocID)
	assert.Equal(t, "b", matches[1].DocID)
}

func TestSearch_DimensionMismatch(t *testing.T) {
	_, err := testIndex().Search(context.Background(), []float32{1, 0}, SearchOptions{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, cerrors.ErrDimensionMismatch))
}

func TestSearch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testIndex().Search(ctx, []float32{1, 0, 0}, SearchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearch_ApproximateFindsNearest(t *testing.T) {
	records := make([]Record, 0, 200)
	for i := 0; i < 200; i++ {
		angle := float64(i) * 2 * math.Pi / 200
		records = append(records, NewRecord(fmt.Sprintf("doc-%03d", i), []float32{float32(math.Cos(angle)), float32(math.Sin(angle))}))
	}
	ix := New(2, records, GraphConfig{M: 16, EfSearch: 64})

	matches, err := ix.Search(context.Background(), []float32{1, 0}, SearchOptions{Approximate: true, Limit: 3, Threshold: -1})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "doc-000", matches[0].DocID)
}

func TestSearch_EmptyIndex(t *testing.T) {
	matches, err := New(0, nil, GraphConfig{}).Search(context.Background(), []float32{1}, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCheckDimensions(t *testing.T) {
	assert.NoError(t, CheckDimensions("add", 0, []float32{1, 2}))
	assert.NoError(t, CheckDimensions("add", 2, []float32{1, 2}))
	assert.Error(t, CheckDimensions("add", 3, []float32{1, 2}))
}
