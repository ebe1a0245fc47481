package provider

import (
	"context"
	"log/slog"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/config"
)

const vocabScanBatch = 256

// TextProvider ranks documents by BM25 over the inverted index. Query words
// may expand to fuzzy or prefix matches; every expansion carries a weight
// that scales its BM25 contribution.
type TextProvider struct {
	maxEdits int
	logger   *slog.Logger
}

func NewText(cfg config.TextConfig) *TextProvider {
	return &TextProvider{
		maxEdits: cfg.FuzzyMaxEdits,
		logger:   slog.Default().With("component", "text-provider"),
	}
}

type textOptions struct {
	fuzzy         bool
	maxEdits      int
	caseSensitive bool
	wholeWords    bool
}

// expansion is one dictionary term a query word matches.
type expansion struct {
	term   string
	weight float64
}

type termMatch struct {
	score    float64
	position int
}

func (p *TextProvider) Search(ctx context.Context, snap Snapshot, q Query) (*Result, error) {
	plan := parser.Parse(q.Text)
	if plan.Empty() || snap.DocCount() == 0 {
		return &Result{Hits: []Hit{}}, nil
	}
	o := q.Options.For(Text)
	opts := textOptions{
		fuzzy:         o.Bool("fuzzy", false),
		maxEdits:      o.Int("max_edits", p.maxEdits),
		caseSensitive: o.Bool("case_sensitive", false),
		wholeWords:    o.Bool("whole_words_only", true),
	}
	params := ranker.RankParams{
		TotalDocs:    int64(snap.DocCount()),
		AvgDocLength: snap.AvgDocLength(),
	}

	expansions := make([][]expansion, len(plan.Terms))
	perTerm := make([]map[string]termMatch, len(plan.Terms))
	for i, qt := range plan.Terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		exps, err := expand(ctx, snap, qt.Term, opts)
		if err != nil {
			return nil, err
		}
		expansions[i] = exps
		matches, err := scoreTerm(snap, params, expansions[i])
		if err != nil {
			return nil, err
		}
		perTerm[i] = matches
	}

	excluded := make(map[string]struct{})
	for _, term := range plan.ExcludeTerms {
		postings, err := snap.Postings(term)
		if err != nil {
			return nil, err
		}
		for _, posting := range postings {
			excluded[posting.DocID] = struct{}{}
		}
	}

	candidates := combineTerms(plan.Type, perTerm, excluded)
	if opts.caseSensitive {
		var err error
		candidates, err = p.verifyCase(ctx, snap, plan, expansions, candidates, perTerm)
		if err != nil {
			return nil, err
		}
	}

	hits := make([]Hit, 0, len(candidates))
	for _, docID := range candidates {
		score := 0.0
		position := -1
		for _, matches := range perTerm {
			m, ok := matches[docID]
			if !ok {
				continue
			}
			score += m.score
			if m.position >= 0 && (position < 0 || m.position < position) {
				position = m.position
			}
		}
		hits = append(hits, Hit{DocID: docID, Score: ranker.Round(score), Offset: -1, Position: position})
	}
	sortHits(hits)
	p.logger.Debug("text search", "collection", snap.Collection(), "generation", snap.ID(),
		"terms", len(plan.Terms), "hits", len(hits))
	return &Result{Hits: hits}, nil
}

// expand lists the dictionary terms a normalised query word matches. The
// exact term always has weight 1; a fuzzy match at distance d weighs
// 1 - d/(len+1) and a prefix match weighs like distance 1. The fuzzy scan
// checks ctx every vocabScanBatch terms.
func expand(ctx context.Context, snap Snapshot, term string, opts textOptions) ([]expansion, error) {
	weights := map[string]float64{term: 1}
	length := float64(utf8.RuneCountInString(term))
	add := func(t string, w float64) {
		if w > weights[t] {
			weights[t] = w
		}
	}
	if !opts.wholeWords {
		for _, t := range snap.TermsWithPrefix(term) {
			add(t, 1-1/(length+1))
		}
	}
	if opts.fuzzy && opts.maxEdits > 0 {
		for i, t := range snap.Vocabulary() {
			if i%vocabScanBatch == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if abs(utf8.RuneCountInString(t)-int(length)) > opts.maxEdits {
				continue
			}
			if d := levenshtein.Distance(term, t, nil); d <= opts.maxEdits {
				add(t, 1-float64(d)/(length+1))
			}
		}
	}
	out := make([]expansion, 0, len(weights))
	for t, w := range weights {
		out = append(out, expansion{term: t, weight: w})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].term < out[j].term })
	return out, nil
}

// scoreTerm keeps, per document, the best weighted BM25 score across a
// word's expansions.
func scoreTerm(snap Snapshot, params ranker.RankParams, exps []expansion) (map[string]termMatch, error) {
	out := make(map[string]termMatch)
	for _, e := range exps {
		postings, err := snap.Postings(e.term)
		if err != nil {
			return nil, err
		}
		df := len(postings)
		for _, posting := range postings {
			score := e.weight * ranker.BM25(params, df, posting.Frequency, snap.DocLength(posting.DocID))
			position := -1
			if len(posting.Positions) > 0 {
				position = posting.Positions[0]
			}
			prev, seen := out[posting.DocID]
			if !seen {
				out[posting.DocID] = termMatch{score: score, position: position}
				continue
			}
			if score > prev.score {
				prev.score = score
			}
			if position >= 0 && (prev.position < 0 || position < prev.position) {
				prev.position = position
			}
			out[posting.DocID] = prev
		}
	}
	return out, nil
}

// combineTerms applies the plan's boolean operator and exclusions, returning
// the surviving document IDs in ascending order.
func combineTerms(qt parser.QueryType, perTerm []map[string]termMatch, excluded map[string]struct{}) []string {
	counts := make(map[string]int)
	for _, matches := range perTerm {
		for docID := range matches {
			counts[docID]++
		}
	}
	out := make([]string, 0, len(counts))
	for docID, n := range counts {
		if _, skip := excluded[docID]; skip {
			continue
		}
		if qt == parser.QueryAND && n < len(perTerm) {
			continue
		}
		out = append(out, docID)
	}
	sort.Strings(out)
	return out
}

// verifyCase re-reads each candidate's content and drops term matches whose
// surface form differs in case from what the caller typed.
func (p *TextProvider) verifyCase(ctx context.Context, snap Snapshot, plan *parser.QueryPlan, expansions [][]expansion,
	candidates []string, perTerm []map[string]termMatch) ([]string, error) {
	termSets := make([]map[string]struct{}, len(expansions))
	for i, exps := range expansions {
		termSets[i] = make(map[string]struct{}, len(exps))
		for _, e := range exps {
			termSets[i][e.term] = struct{}{}
		}
	}
	for _, docID := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, ok, err := snap.Content(docID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		tokens := tokenizer.Tokenize(content)
		for i, qt := range plan.Terms {
			m, matched := perTerm[i][docID]
			if !matched {
				continue
			}
			position := -1
			for _, tok := range tokens {
				if _, hit := termSets[i][tok.Term]; !hit {
					continue
				}
				if surfaceMatches(tok.Surface, qt.Surface) {
					position = tok.Position
					break
				}
			}
			if position < 0 {
				delete(perTerm[i], docID)
				continue
			}
			m.position = position
			perTerm[i][docID] = m
		}
	}
	out := candidates[:0]
	for _, docID := range candidates {
		n := 0
		for _, matches := range perTerm {
			if _, ok := matches[docID]; ok {
				n++
			}
		}
		if n > 0 && (plan.Type == parser.QueryOR || n == len(perTerm)) {
			out = append(out, docID)
		}
	}
	return out, nil
}

// surfaceMatches reports whether a content word agrees in case with the
// query word over the leading stretch where the two spell the same letters.
func surfaceMatches(surface, query string) bool {
	s, q := []rune(surface), []rune(query)
	for n := 0; n < len(s) && n < len(q) && unicode.ToLower(s[n]) == unicode.ToLower(q[n]); n++ {
		if s[n] != q[n] {
			return false
		}
	}
	return true
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
