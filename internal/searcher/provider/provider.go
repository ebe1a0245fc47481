// Package provider implements the search strategies the engine fans a query
// out to. Each provider is a stateless strategy shared by all queries; it
// reads one immutable index generation and never mutates it.
package provider

import (
	"context"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/vector"
)

const (
	Text   = "text"
	Regex  = "regex"
	Vector = "vector"
)

// Snapshot is the read-only view of an index generation a provider
// searches.
type Snapshot interface {
	ID() uint64
	Collection() string
	DocCount() int
	AvgDocLength() float64
	DocLength(id string) int
	DocIDs() []string
	Content(id string) (string, bool, error)
	Postings(term string) (index.PostingList, error)
	TermsWithPrefix(prefix string) []string
	Vocabulary() []string
	Vectors() *vector.Index
	Dimensions() int
}

// Query is what a provider receives: the raw text (a query or a pattern),
// an optional embedding and the caller's options. Limit is a hint for
// providers that can stop early; the engine still merges full result sets.
type Query struct {
	Text    string
	Vector  []float32
	Options Options
	Limit   int
}

// Hit is one matched document. Offset is the byte offset of the first match
// in the content, or -1 when only the token Position is known. Truncated is
// set when the provider stopped counting matches at its per-document cap.
type Hit struct {
	DocID     string  `json:"doc_id"`
	Score     float64 `json:"score"`
	Offset    int     `json:"offset"`
	Position  int     `json:"position"`
	Truncated bool    `json:"truncated,omitempty"`
}

// Warning reports something a provider could not do without failing the
// whole query. DocID is set when the warning concerns a single document.
type Warning struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	DocID    string `json:"doc_id,omitempty"`
	Message  string `json:"message"`
}

// Result is a provider's answer: hits in descending score order and any
// per-document warnings.
type Result struct {
	Hits     []Hit
	Warnings []Warning
}

// Provider is a search strategy.
type Provider interface {
	Search(ctx context.Context, snap Snapshot, q Query) (*Result, error)
}

// Options are caller-supplied string settings. A key prefixed with a
// provider name ("regex.case_sensitive") overrides the bare key for that
// provider.
type Options map[string]string

// For returns the view of o seen by one provider.
func (o Options) For(provider string) Options {
	out := make(Options, len(o))
	prefix := provider + "."
	for k, v := range o {
		if !strings.Contains(k, ".") {
			out[k] = v
		}
	}
	for k, v := range o {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return out
}

func (o Options) Bool(key string, def bool) bool {
	v, ok := o[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (o Options) Int(key string, def int) int {
	v, ok := o[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (o Options) Float(key string, def float64) float64 {
	v, ok := o[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func (o Options) String(key string, def string) string {
	if v, ok := o[key]; ok && v != "" {
		return v
	}
	return def
}
