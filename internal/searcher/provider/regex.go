package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/searcher/regexguard"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/config"
	cerrors "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/errors"
)

// RegexProvider scans every live document with a guarded pattern. Scans run
// on a bounded pool; a document that exceeds its time budget is skipped and
// reported instead of failing the query.
type RegexProvider struct {
	guard      *regexguard.Guard
	workers    int
	maxMatches int
	logger     *slog.Logger
}

func NewRegex(guard *regexguard.Guard, cfg config.RegexConfig, workers int) *RegexProvider {
	if workers <= 0 {
		workers = 1
	}
	return &RegexProvider{
		guard:      guard,
		workers:    workers,
		maxMatches: cfg.MaxMatchesPerDocument,
		logger:     slog.Default().With("component", "regex-provider"),
	}
}

type scanResult struct {
	count     int
	first     int
	truncated bool
	timedOut  bool
}

func (p *RegexProvider) Search(ctx context.Context, snap Snapshot, q Query) (*Result, error) {
	if q.Text == "" {
		return &Result{Hits: []Hit{}}, nil
	}
	o := q.Options.For(Regex)
	re, err := p.guard.Compile(q.Text, o.Bool("case_sensitive", true), o.Bool("multiline", true))
	if err != nil {
		return nil, err
	}

	ids := snap.DocIDs()
	hits := make([]*Hit, len(ids))
	var (
		mu       sync.Mutex
		warnings []Warning
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, ok, err := snap.Content(id)
			if err != nil || !ok {
				return err
			}
			res := p.scan(re, content)
			if res.timedOut {
				mu.Lock()
				warnings = append(warnings, Warning{
					Provider: Regex,
					Kind:     cerrors.KindQueryTimeout.String(),
					DocID:    id,
					Message:  fmt.Sprintf("scan exceeded %v, document skipped", p.guard.Timeout()),
				})
				mu.Unlock()
				return nil
			}
			if res.count == 0 {
				return nil
			}
			runes := utf8.RuneCountInString(content)
			hits[i] = &Hit{
				DocID:     id,
				Score:     ranker.Round(float64(res.count) / (1 + math.Log(1+float64(runes)/1000))),
				Offset:    runeToByte(content, res.first),
				Position:  -1,
				Truncated: res.truncated,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Hit, 0)
	for _, h := range hits {
		if h != nil {
			out = append(out, *h)
		}
	}
	sortHits(out)
	sortWarnings(warnings)
	if len(warnings) > 0 {
		p.logger.Warn("documents skipped", "collection", snap.Collection(), "generation", snap.ID(),
			"pattern", q.Text, "skipped", len(warnings))
	}
	return &Result{Hits: out, Warnings: warnings}, nil
}

// scan counts matches in content up to the per-document cap. regexp2's
// MatchTimeout bounds each match attempt; the deadline bounds the document.
func (p *RegexProvider) scan(re *regexp2.Regexp, content string) scanResult {
	res := scanResult{first: -1}
	deadline := time.Now().Add(p.guard.Timeout())
	m, err := re.FindStringMatch(content)
	for m != nil && err == nil {
		if res.count == 0 {
			res.first = m.Index
		}
		res.count++
		if p.maxMatches > 0 && res.count >= p.maxMatches {
			if next, nerr := re.FindNextMatch(m); nerr == nil && next != nil {
				res.truncated = true
			}
			return res
		}
		if p.guard.Timeout() > 0 && time.Now().After(deadline) {
			res.timedOut = true
			return res
		}
		m, err = re.FindNextMatch(m)
	}
	if err != nil {
		res.timedOut = true
	}
	return res
}

func sortWarnings(ws []Warning) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].DocID < ws[j].DocID })
}
