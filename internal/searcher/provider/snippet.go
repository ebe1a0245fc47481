package provider

import (
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/tokenizer"
)

// Snippet cuts about length runes of content around hit's first match,
// trimmed to whitespace boundaries where possible.
func Snippet(content string, hit Hit, length int) string {
	if length <= 0 || content == "" {
		return ""
	}
	offset := hit.Offset
	if offset < 0 {
		offset = 0
		if hit.Position >= 0 {
			for _, tok := range tokenizer.Tokenize(content) {
				if tok.Position == hit.Position {
					offset = tok.Offset
					break
				}
			}
		}
	}
	if offset > len(content) {
		offset = len(content)
	}
	if utf8.RuneCountInString(content) <= length {
		return strings.TrimSpace(content)
	}

	start := offset
	for back := length / 3; back > 0 && start > 0; back-- {
		_, size := utf8.DecodeLastRuneInString(content[:start])
		start -= size
	}
	end := start
	for n := 0; n < length && end < len(content); n++ {
		_, size := utf8.DecodeRuneInString(content[end:])
		end += size
	}
	if start > 0 {
		if i := strings.IndexByte(content[start:end], ' '); i >= 0 && i < (end-start)/3 {
			start += i + 1
		}
	}
	if end < len(content) {
		if i := strings.LastIndexByte(content[start:end], ' '); i > (end-start)*2/3 {
			end = start + i
		}
	}
	out := strings.TrimSpace(content[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(content) {
		out += "…"
	}
	return out
}

// runeToByte converts a rune index into a byte offset within s.
func runeToByte(s string, runeIndex int) int {
	if runeIndex <= 0 {
		return 0
	}
	n := 0
	for i := range s {
		if n == runeIndex {
			return i
		}
		n++
	}
	return len(s)
}
