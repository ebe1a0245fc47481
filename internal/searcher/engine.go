// Package searcher runs queries against one collection generation. A query
// fans out to the requested providers concurrently; their result lists are
// normalised, weighted and merged into one ranking, and the response is
// cached per generation.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/searcher/provider"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/searcher/regexguard"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/config"
	cerrors "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/tracing"
)

// WarnUnknownProvider is the warning kind for a requested provider name
// that is not registered.
const WarnUnknownProvider = "unknown_provider"

// Index is the part of the index manager the engine reads from.
type Index interface {
	Acquire(ctx context.Context, collection string) (*indexer.Generation, error)
	Subscribe(hook indexer.CommitHook)
}

// Embedder turns query text into a vector for the vector provider when the
// caller supplies none.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Request struct {
	Collection string
	Text       string
	Vector     []float32
	Providers  []string
	Options    map[string]string
	MaxResults int
	Timeout    time.Duration
}

type Result struct {
	DocID          string             `json:"doc_id"`
	Score          float64            `json:"score"`
	Snippet        string             `json:"snippet"`
	Providers      []string           `json:"providers"`
	ProviderScores map[string]float64 `json:"provider_scores"`
}

type Response struct {
	Results    []Result           `json:"results"`
	Warnings   []provider.Warning `json:"warnings"`
	Generation uint64             `json:"generation"`
	Cached     bool               `json:"cached"`
}

type Option func(*Engine)

// WithEmbedder lets vector queries be driven by text alone.
func WithEmbedder(e Embedder) Option {
	return func(en *Engine) { en.embedder = e }
}

// Engine executes queries. It is safe for concurrent use.
type Engine struct {
	index    Index
	cfg      config.SearchConfig
	snippets int
	cache    *cache.QueryCache[*Response]
	embedder Embedder
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu        sync.RWMutex
	providers map[string]provider.Provider
}

// New builds an engine with the text, regex and vector providers registered
// and subscribes it to the index's commits so cached responses of a
// collection are dropped as soon as a new generation is published.
func New(index Index, backend cache.Backend, cfg *config.Config, m *metrics.Metrics, opts ...Option) *Engine {
	e := &Engine{
		index:     index,
		cfg:       cfg.Search,
		snippets:  cfg.Text.SnippetLength,
		cache:     cache.New[*Response](backend, m),
		metrics:   m,
		logger:    slog.Default().With("component", "search-engine"),
		providers: make(map[string]provider.Provider),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.RegisterProvider(provider.Text, provider.NewText(cfg.Text))
	e.RegisterProvider(provider.Regex, provider.NewRegex(regexguard.New(cfg.Regex), cfg.Regex, cfg.Search.Workers))
	e.RegisterProvider(provider.Vector, provider.NewVector(cfg.Vector))
	index.Subscribe(func(info indexer.CommitInfo) {
		e.cache.InvalidateCollection(context.Background(), info.Collection)
	})
	return e
}

// RegisterProvider adds p under name, replacing any provider already
// registered with that name.
func (e *Engine) RegisterProvider(name string, p provider.Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.providers[name] = p
}

// Providers lists registered provider names in ascending order.
func (e *Engine) Providers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.providers))
	for name := range e.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CacheStats reports result cache hits and misses.
func (e *Engine) CacheStats() (hits, misses int64) {
	return e.cache.Stats()
}

// Query runs text against the named providers of one collection.
func (e *Engine) Query(ctx context.Context, collection, text string, providers []string,
	options map[string]string, maxResults int, timeoutMS int) (*Response, error) {
	return e.Search(ctx, Request{
		Collection: collection,
		Text:       text,
		Providers:  providers,
		Options:    options,
		MaxResults: maxResults,
		Timeout:    time.Duration(timeoutMS) * time.Millisecond,
	})
}

// Search executes req against the collection's current generation. Provider
// failures become warnings. When the timeout expires the response holds
// whatever completed and the error is QueryTimeout; such responses are never
// cached.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if logger.QueryID(ctx) == "" {
		ctx = logger.WithQueryID(ctx, uuid.NewString())
	}
	log := logger.FromContext(ctx).With("component", "search-engine")

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := tracing.StartSpan(ctx, "search", logger.QueryID(ctx))
	span.SetAttr("collection", req.Collection)
	defer func() {
		span.End()
		span.Log(log)
	}()

	limit := req.MaxResults
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxResults {
		limit = e.cfg.MaxResults
	}
	names := requestedProviders(req)

	snap, err := e.index.Acquire(ctx, req.Collection)
	if err != nil {
		e.observe(req.Collection, "error", "miss", start, 0)
		return nil, err
	}
	defer snap.Release()

	key := cache.Fingerprint(cache.Key{
		Collection: req.Collection,
		Generation: snap.ID(),
		Text:       req.Text,
		Vector:     req.Vector,
		Providers:  names,
		Options:    req.Options,
		MaxResults: limit,
		Verbatim:   contains(names, provider.Regex),
	})
	span.SetAttr("generation", snap.ID())
	resp, cached, err := e.cache.GetOrCompute(ctx, key, func() (*Response, bool, error) {
		return e.execute(ctx, snap, req, names, limit)
	})
	if resp != nil && cached {
		out := *resp
		out.Cached = true
		resp = &out
	}

	status := "miss"
	if cached {
		status = "hit"
	}
	span.SetAttr("cache", status)
	results := 0
	if resp != nil {
		results = len(resp.Results)
	}
	switch {
	case cerrors.KindOf(err) == cerrors.KindQueryTimeout:
		e.observe(req.Collection, "timeout", status, start, results)
		log.Warn("search timed out", "collection", req.Collection, "timeout", timeout, "returned", results)
		return resp, err
	case err != nil:
		e.observe(req.Collection, "error", status, start, results)
		log.Error("search failed", "collection", req.Collection, "error", err)
		return nil, err
	}
	e.observe(req.Collection, status, status, start, results)
	log.Info("search completed",
		"collection", req.Collection,
		"generation", resp.Generation,
		"providers", names,
		"returned", results,
		"warnings", len(resp.Warnings),
		"cache_hit", cached,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

type providerRun struct {
	name   string
	p      provider.Provider
	result *provider.Result
	err    error
}

// execute fans the query out and merges what comes back. The boolean
// reports whether the response may be cached.
func (e *Engine) execute(ctx context.Context, snap *indexer.Generation, req Request, names []string,
	limit int) (*Response, bool, error) {
	warnings := make([]provider.Warning, 0)

	runs := make([]*providerRun, 0, len(names))
	e.mu.RLock()
	for _, name := range names {
		p, ok := e.providers[name]
		if !ok {
			warnings = append(warnings, provider.Warning{
				Provider: name,
				Kind:     WarnUnknownProvider,
				Message:  fmt.Sprintf("no provider registered as %q", name),
			})
			continue
		}
		runs = append(runs, &providerRun{name: name, p: p})
	}
	e.mu.RUnlock()

	q := provider.Query{
		Text:    req.Text,
		Vector:  req.Vector,
		Options: provider.Options(req.Options),
		Limit:   limit,
	}
	if len(q.Vector) == 0 && req.Text != "" && e.embedder != nil && contains(names, provider.Vector) {
		vec, err := e.embedder.Embed(ctx, req.Text)
		if err != nil {
			warnings = append(warnings, provider.Warning{
				Provider: provider.Vector,
				Kind:     cerrors.KindMissingEmbedding.String(),
				Message:  fmt.Sprintf("embedding query text: %v", err),
			})
		} else {
			q.Vector = vec
		}
	}

	var g errgroup.Group
	for _, r := range runs {
		g.Go(func() error {
			pctx, ps := tracing.StartChildSpan(ctx, "provider."+r.name)
			defer ps.End()
			r.result, r.err = r.p.Search(pctx, snap, q)
			if r.err != nil {
				ps.SetAttr("error", r.err.Error())
			} else {
				ps.SetAttr("hits", len(r.result.Hits))
			}
			return nil
		})
	}
	_ = g.Wait()

	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	if err := ctx.Err(); err != nil && !timedOut {
		return nil, false, err
	}

	contribs := make([]merger.Contribution, 0, len(runs))
	hitsByProvider := make(map[string]map[string]provider.Hit, len(runs))
	for _, r := range runs {
		if r.err != nil {
			kind := cerrors.KindOf(r.err).String()
			if errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled) {
				kind = cerrors.KindQueryTimeout.String()
			}
			warnings = append(warnings, provider.Warning{Provider: r.name, Kind: kind, Message: r.err.Error()})
			continue
		}
		warnings = append(warnings, r.result.Warnings...)
		docs := make([]ranker.ScoredDoc, len(r.result.Hits))
		byDoc := make(map[string]provider.Hit, len(r.result.Hits))
		for i, h := range r.result.Hits {
			docs[i] = ranker.ScoredDoc{DocID: h.DocID, Score: h.Score}
			byDoc[h.DocID] = h
		}
		hitsByProvider[r.name] = byDoc
		contribs = append(contribs, merger.Contribution{Provider: r.name, Weight: e.weight(r.name), Docs: docs})
	}

	merged := merger.Combine(contribs, e.cfg.Normalization != "none", limit)
	results := make([]Result, 0, len(merged))
	for _, c := range merged {
		res := Result{
			DocID:          c.DocID,
			Score:          c.Score,
			Providers:      c.Providers,
			ProviderScores: make(map[string]float64, len(c.Providers)),
		}
		for _, name := range c.Providers {
			res.ProviderScores[name] = hitsByProvider[name][c.DocID].Score
		}
		res.Snippet = e.snippet(snap, c, hitsByProvider)
		results = append(results, res)
	}

	sortWarnings(warnings)
	cacheable := !timedOut
	for _, w := range warnings {
		if e.metrics != nil {
			e.metrics.ProviderWarnings.WithLabelValues(w.Provider, w.Kind).Inc()
		}
		if w.DocID != "" && w.Kind == cerrors.KindQueryTimeout.String() {
			cacheable = false
		}
	}
	resp := &Response{Results: results, Warnings: warnings, Generation: snap.ID()}
	if timedOut {
		return resp, false, cerrors.Newf(cerrors.KindQueryTimeout, "search", "deadline exceeded after %d of %d providers",
			len(contribs), len(runs)).WithCollection(req.Collection)
	}
	return resp, cacheable, nil
}

// snippet cuts the excerpt from the first contributing hit that knows where
// its match is, falling back to the leading content.
func (e *Engine) snippet(snap *indexer.Generation, c merger.Combined, hits map[string]map[string]provider.Hit) string {
	content, ok, err := snap.Content(c.DocID)
	if err != nil || !ok {
		return ""
	}
	best := provider.Hit{Offset: 0, Position: -1}
	for _, name := range c.Providers {
		h := hits[name][c.DocID]
		if h.Offset > 0 || (h.Offset < 0 && h.Position >= 0) {
			best = h
			break
		}
	}
	return provider.Snippet(content, best, e.snippets)
}

func (e *Engine) weight(name string) float64 {
	if w, ok := e.cfg.Weights[name]; ok {
		return w
	}
	return 1
}

func (e *Engine) observe(collection, outcome, cacheStatus string, start time.Time, results int) {
	if e.metrics == nil {
		return
	}
	e.metrics.SearchQueriesTotal.WithLabelValues(collection, outcome).Inc()
	e.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	e.metrics.SearchResultsCount.Observe(float64(results))
}

// requestedProviders dedups and sorts the requested names. With none given
// the text provider runs for text queries and the vector provider for
// vector queries.
func requestedProviders(req Request) []string {
	names := req.Providers
	if len(names) == 0 {
		if req.Text != "" {
			names = append(names, provider.Text)
		}
		if len(req.Vector) > 0 {
			names = append(names, provider.Vector)
		}
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func sortWarnings(ws []provider.Warning) {
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].Provider != ws[j].Provider {
			return ws[i].Provider < ws[j].Provider
		}
		return ws[i].DocID < ws[j].DocID
	})
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
