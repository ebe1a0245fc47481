package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/index"
	cerrors "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/postgres"
)

type fakeIndexer struct {
	indexed   []index.Document
	vectors   [][]float32
	removed   []string
	indexErr  error
	removeErr error
}

func (f *fakeIndexer) Index(_ context.Context, collection string, doc index.Document, embedding []float32) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed = append(f.indexed, doc)
	f.vectors = append(f.vectors, embedding)
	return nil
}

func (f *fakeIndexer) RemoveDocument(_ context.Context, collection string, id string) (bool, error) {
	if f.removeErr != nil {
		return false, f.removeErr
	}
	f.removed = append(f.removed, collection+"/"+id)
	return true, nil
}

type statusRow struct {
	collection, docID, status, detail string
}

type fakeStatus struct {
	rows []statusRow
}

func (f *fakeStatus) RecordStatus(_ context.Context, collection, docID, status, detail string) error {
	f.rows = append(f.rows, statusRow{collection, docID, status, detail})
	return nil
}

func encode(t *testing.T, e IngestEvent) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func TestHandleMessage_Upsert(t *testing.T) {
	ix := &fakeIndexer{}
	st := &fakeStatus{}
	h := HandleMessage(ix, st)

	err := h(context.Background(), []byte("docs"), encode(t, IngestEvent{
		Collection: "docs",
		DocumentID: "doc1",
		Content:    "the quick brown fox",
		Metadata:   map[string]string{"lang": "en"},
		Embedding:  []float32{1, 0},
	}))
	require.NoError(t, err)
	require.Len(t, ix.indexed, 1)
	assert.Equal(t, "doc1", ix.indexed[0].ID)
	assert.Equal(t, "en", ix.indexed[0].Metadata["lang"])
	assert.Equal(t, []float32{1, 0}, ix.vectors[0])
	assert.Equal(t, []statusRow{{"docs", "doc1", postgres.StatusIndexed, ""}}, st.rows)
}

func TestHandleMessage_Delete(t *testing.T) {
	ix := &fakeIndexer{}
	st := &fakeStatus{}
	h := HandleMessage(ix, st)

	err := h(context.Background(), nil, encode(t, IngestEvent{Op: OpDelete, Collection: "docs", DocumentID: "doc1"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/doc1"}, ix.removed)
	assert.Equal(t, postgres.StatusRemoved, st.rows[0].status)
}

func TestHandleMessage_SkipsUndecodable(t *testing.T) {
	ix := &fakeIndexer{}
	h := HandleMessage(ix, nil)

	assert.NoError(t, h(context.Background(), nil, []byte("{not json")))
	assert.NoError(t, h(context.Background(), nil, encode(t, IngestEvent{Collection: "docs"})))
	assert.NoError(t, h(context.Background(), nil, encode(t, IngestEvent{Op: "merge", Collection: "docs", DocumentID: "d"})))
	assert.Empty(t, ix.indexed)
	assert.Empty(t, ix.removed)
}

func TestHandleMessage_RejectedDocumentIsAcknowledged(t *testing.T) {
	ix := &fakeIndexer{indexErr: cerrors.New(cerrors.KindInvalidDocument, "index", "document is too large")}
	st := &fakeStatus{}
	h := HandleMessage(ix, st)

	err := h(context.Background(), nil, encode(t, IngestEvent{Collection: "docs", DocumentID: "big"}))
	require.NoError(t, err)
	require.Len(t, st.rows, 1)
	assert.Equal(t, postgres.StatusFailed, st.rows[0].status)
	assert.Contains(t, st.rows[0].detail, "too large")
}

func TestHandleMessage_InternalErrorIsRetried(t *testing.T) {
	ix := &fakeIndexer{indexErr: errors.New("disk full"), removeErr: errors.New("disk full")}
	st := &fakeStatus{}
	h := HandleMessage(ix, st)

	err := h(context.Background(), nil, encode(t, IngestEvent{Collection: "docs", DocumentID: "doc1"}))
	assert.ErrorContains(t, err, "disk full")
	err = h(context.Background(), nil, encode(t, IngestEvent{Op: OpDelete, Collection: "docs", DocumentID: "doc1"}))
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, st.rows)
}
