package regexguard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/config"
	cerrors "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/errors"
)

func testGuard() *Guard {
	return New(config.RegexConfig{
		ComplexityCeiling: 64,
		MaxPatternLength:  128,
		DocumentTimeout:   50 * time.Millisecond,
		PatternCacheSize:  2,
	})
}

func TestComplexity(t *testing.T) {
	tests := []struct {
		pattern string
		want    int
	}{
		{pattern: "fox$", want: 0},
		{pattern: `\d+`, want: 1},
		{pattern: "a*b*c*", want: 3},
		{pattern: "(ab)+", want: 2},
		{pattern: "(a+)+", want: 16},
		{pattern: "((a+)+)+", want: 144},
		{pattern: "a+?", want: 1},
		{pattern: "x{2,5}", want: 1},
		{pattern: "[a-z+*]", want: 0},
		{pattern: `\(a\)+`, want: 1},
		{pattern: "(?i)fox", want: 0},
		{pattern: "colou?r", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, Complexity(tt.pattern))
		})
	}
}

func TestCompile_RejectsComplexPatterns(t *testing.T) {
	g := testGuard()

	_, err := g.Compile("((a+)+)+b", true, true)
	require.Error(t, err)
	assert.Equal(t, cerrors.KindPatternTooComplex, cerrors.KindOf(err))

	_, err = g.Compile(strings.Repeat("a", 200), true, true)
	assert.Equal(t, cerrors.KindPatternTooComplex, cerrors.KindOf(err))
	assert.Equal(t, int64(0), g.Compiles())
}

func TestCompile_InvalidPattern(t *testing.T) {
	_, err := testGuard().Compile("(unclosed", true, true)
	require.Error(t, err)
	assert.Equal(t, cerrors.KindInvalidPattern, cerrors.KindOf(err))
}

func TestCompile_CachesByOptions(t *testing.T) {
	g := testGuard()

	re1, err := g.Compile("fox$", true, true)
	require.NoError(t, err)
	re2, err := g.Compile("fox$", true, true)
	require.NoError(t, err)
	assert.Same(t, re1, re2)
	assert.Equal(t, int64(1), g.Compiles())

	_, err = g.Compile("fox$", false, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), g.Compiles(), "case sensitivity is part of the key")

	_, err = g.Compile("dog", true, true)
	require.NoError(t, err)
	_, err = g.Compile("fox$", true, true)
	require.NoError(t, err)
	assert.Equal(t, int64(4), g.Compiles(), "least recently used entry was evicted")
}

func TestCompile_Options(t *testing.T) {
	g := testGuard()

	re, err := g.Compile("^brown", true, true)
	require.NoError(t, err)
	ok, err := re.MatchString("quick\nbrown fox")
	require.NoError(t, err)
	assert.True(t, ok, "multiline anchors match at line starts")

	re, err = g.Compile("^brown", true, false)
	require.NoError(t, err)
	ok, err = re.MatchString("quick\nbrown fox")
	require.NoError(t, err)
	assert.False(t, ok)

	re, err = g.Compile("FOX", false, true)
	require.NoError(t, err)
	ok, err = re.MatchString("the quick brown fox")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, re.MatchTimeout)
}
