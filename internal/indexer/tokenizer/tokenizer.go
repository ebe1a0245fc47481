// Package tokenizer turns text into index terms for both indexing and
// querying: words are split on non-alphanumeric runes, lower-cased, filtered
// against a stop list and reduced with the Snowball English stemmer. Each
// token keeps its surface form and byte offset so callers can verify
// case-sensitive matches and cut snippets.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/snowballstem"
	"github.com/blevesearch/snowballstem/english"
)

const minRunes = 2

var stopWords = func() map[string]struct{} {
	words := strings.Fields(`
		a an and are as at be been but by can do each for from had has have he
		if in into is it its no not of on or so than that the their then there
		these they this to was were what when where which who will with`)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Token is one kept word. Position counts kept tokens only; Offset is the
// byte offset of Surface in the input.
type Token struct {
	Term     string
	Surface  string
	Position int
	Offset   int
}

func Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/6)
	forEachWord(text, func(word string, offset int) {
		term := termFor(word)
		if term == "" {
			return
		}
		tokens = append(tokens, Token{Term: term, Surface: word, Position: len(tokens), Offset: offset})
	})
	return tokens
}

// Normalize returns the index term for a single word, or "" when Tokenize
// would drop it.
func Normalize(word string) string {
	return termFor(word)
}

func IsStopWord(word string) bool {
	_, ok := stopWords[strings.ToLower(word)]
	return ok
}

func termFor(word string) string {
	lower := strings.ToLower(word)
	if utf8.RuneCountInString(lower) < minRunes {
		return ""
	}
	if _, stop := stopWords[lower]; stop {
		return ""
	}
	env := snowballstem.NewEnv(lower)
	english.Stem(env)
	return env.Current()
}

func forEachWord(text string, fn func(word string, offset int)) {
	start := -1
	for i, r := range text {
		inWord := unicode.IsLetter(r) || unicode.IsDigit(r)
		if inWord && start < 0 {
			start = i
		} else if !inWord && start >= 0 {
			fn(text[start:i], start)
			start = -1
		}
	}
	if start >= 0 {
		fn(text[start:], start)
	}
}
