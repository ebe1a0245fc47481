package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Collection string `json:"collection"`
	ID         string `json:"document_id"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[sample]([]byte(`{"collection":"docs","document_id":"doc1"}`))
	require.NoError(t, err)
	assert.Equal(t, sample{Collection: "docs", ID: "doc1"}, got)

	_, err = DecodeJSON[sample]([]byte(`{"collection":`))
	assert.ErrorContains(t, err, "decoding kafka message")
}

func TestEncode(t *testing.T) {
	msg, err := Encode(Event{Key: "docs", Value: sample{Collection: "docs", ID: "doc1"}})
	require.NoError(t, err)
	assert.Equal(t, []byte("docs"), msg.Key)
	assert.JSONEq(t, `{"collection":"docs","document_id":"doc1"}`, string(msg.Value))

	_, err = Encode(Event{Key: "bad", Value: func() {}})
	assert.ErrorIs(t, err, ErrEncode)
}
