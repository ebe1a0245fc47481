package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize_DropsStopWordsAndKeepsOffsets(t *testing.T) {
	text := "The Quick brown fox"
	tokens := Tokenize(text)

	require.Len(t, tokens, 3)
	assert.Equal(t, "quick", tokens[0].Term)
	assert.Equal(t, "Quick", tokens[0].Surface)
	assert.Equal(t, 4, tokens[0].Offset)
	assert.Equal(t, 0, tokens[0].Position)
	assert.Equal(t, "fox", tokens[2].Term)
	assert.Equal(t, 2, tokens[2].Position)
	assert.Equal(t, "fox", text[tokens[2].Offset:tokens[2].Offset+len(tokens[2].Surface)])
}

func TestTokenize_Stems(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"indexing", "index"},
		{"documents", "document"},
		{"queries", "queri"},
		{"running", "run"},
		{"brown", "brown"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestTokenize_SplitsOnPunctuationAndDigits(t *testing.T) {
	tokens := Tokenize("error_code=42; retry-limit")

	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		terms = append(terms, tok.Term)
	}
	assert.Equal(t, []string{"error", "code", "42", "retri", "limit"}, terms)
}

func TestTokenize_Empty(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("the a of"))
	assert.Equal(t, "", Normalize("the"))
	assert.Equal(t, "", Normalize("x"), "single runes are dropped")
	assert.True(t, IsStopWord("The"))
}
