package benchmark

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/tokenizer"
)

const paragraph = `Segments are immutable once written. A commit drains the memory index
into a new segment file, fsyncs it and swaps the manifest, so readers holding the
previous generation keep a consistent view until they release it. Merging folds
small segments together and drops deleted documents along the way. `

var tokenSink []tokenizer.Token

func BenchmarkTokenize(b *testing.B) {
	for _, reps := range []int{1, 8, 64} {
		text := strings.Repeat(paragraph, reps)
		b.Run(fmt.Sprintf("paragraphs_%d", reps), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				tokenSink = tokenizer.Tokenize(text)
			}
		})
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	text := strings.Repeat(paragraph, 8)
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		var local []tokenizer.Token
		for pb.Next() {
			local = tokenizer.Tokenize(text)
		}
		_ = local
	})
}

func BenchmarkNormalize(b *testing.B) {
	words := strings.Fields("Segments immutable written drains fsyncs swaps holding consistent Merging folds deleted")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		for _, w := range words {
			_ = tokenizer.Normalize(w)
		}
	}
}
