// Package regexguard compiles caller-supplied patterns under a cost policy.
// A static complexity estimate rejects patterns before any document is
// scanned, compiled patterns carry a per-match timeout, and recently used
// patterns are kept in a bounded LRU.
package regexguard

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/config"
	cerrors "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/errors"
)

// nestedPenalty multiplies the estimate for every quantified group that
// itself contains a quantifier, the shape behind catastrophic backtracking.
const (
	nestedPenalty = 4
	maxEstimate   = 1 << 20
)

type cacheKey struct {
	pattern       string
	caseSensitive bool
	multiline     bool
}

// Guard compiles and caches patterns. It is safe for concurrent use.
type Guard struct {
	ceiling   int
	maxLength int
	timeout   time.Duration
	cache     *lru.Cache[cacheKey, *regexp2.Regexp]
	compiles  atomic.Int64
	logger    *slog.Logger
}

func New(cfg config.RegexConfig) *Guard {
	size := cfg.PatternCacheSize
	if size <= 0 {
		size = 1
	}
	cache, _ := lru.New[cacheKey, *regexp2.Regexp](size)
	return &Guard{
		ceiling:   cfg.ComplexityCeiling,
		maxLength: cfg.MaxPatternLength,
		timeout:   cfg.DocumentTimeout,
		cache:     cache,
		logger:    slog.Default().With("component", "regex-guard"),
	}
}

// Compile returns a compiled pattern, from cache when possible. Patterns
// over the complexity ceiling fail with PatternTooComplex and malformed ones
// with InvalidPattern.
func (g *Guard) Compile(pattern string, caseSensitive, multiline bool) (*regexp2.Regexp, error) {
	key := cacheKey{pattern: pattern, caseSensitive: caseSensitive, multiline: multiline}
	if re, ok := g.cache.Get(key); ok {
		return re, nil
	}
	if g.maxLength > 0 && len(pattern) > g.maxLength {
		return nil, cerrors.Newf(cerrors.KindPatternTooComplex, "regex.compile",
			"pattern is %d bytes, limit is %d", len(pattern), g.maxLength)
	}
	if score := Complexity(pattern); g.ceiling > 0 && score > g.ceiling {
		g.logger.Warn("pattern rejected", "pattern", pattern, "complexity", score, "ceiling", g.ceiling)
		return nil, cerrors.Newf(cerrors.KindPatternTooComplex, "regex.compile",
			"complexity %d exceeds ceiling %d", score, g.ceiling)
	}
	var opts regexp2.RegexOptions
	if !caseSensitive {
		opts |= regexp2.IgnoreCase
	}
	if multiline {
		opts |= regexp2.Multiline
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindInvalidPattern, "regex.compile", err)
	}
	if g.timeout > 0 {
		re.MatchTimeout = g.timeout
	}
	g.compiles.Add(1)
	g.cache.Add(key, re)
	return re, nil
}

// Compiles is the number of cache misses that compiled a pattern.
func (g *Guard) Compiles() int64 {
	return g.compiles.Load()
}

func (g *Guard) Timeout() time.Duration {
	return g.timeout
}

// Complexity estimates the backtracking cost of pattern as
// (max group depth + 1) × quantifier count, multiplied by nestedPenalty for
// every quantifier applied to a group that already contains one.
func Complexity(pattern string) int {
	type frame struct{ quantified bool }
	var (
		stack      []frame
		depth      int
		maxDepth   int
		quants     int
		nested     int
		lastGroup  bool
		lastQuant  bool
		prevAtom   bool
		groupQuant bool
	)
	markQuant := func() {
		quants++
		if lastGroup && groupQuant {
			nested++
		}
		for i := range stack {
			stack[i].quantified = true
		}
		lastQuant = true
		lastGroup = false
		prevAtom = false
	}
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '\\':
			i++
			lastGroup, lastQuant, prevAtom = false, false, true
		case '[':
			for i++; i < len(runes) && runes[i] != ']'; i++ {
				if runes[i] == '\\' {
					i++
				}
			}
			lastGroup, lastQuant, prevAtom = false, false, true
		case '(':
			stack = append(stack, frame{})
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
			lastGroup, lastQuant, prevAtom = false, false, false
		case ')':
			if len(stack) > 0 {
				groupQuant = stack[len(stack)-1].quantified
				stack = stack[:len(stack)-1]
				depth--
			}
			lastGroup, lastQuant, prevAtom = true, false, true
		case '*', '+':
			if lastQuant {
				lastQuant = false
				continue
			}
			markQuant()
		case '?':
			if lastQuant {
				lastQuant = false
				continue
			}
			if !prevAtom && !lastGroup {
				continue
			}
			markQuant()
		case '{':
			end := i + 1
			for end < len(runes) && (runes[end] >= '0' && runes[end] <= '9' || runes[end] == ',') {
				end++
			}
			if end < len(runes) && runes[end] == '}' && end > i+1 {
				i = end
				markQuant()
				continue
			}
			lastGroup, lastQuant, prevAtom = false, false, true
		default:
			lastGroup, lastQuant, prevAtom = false, false, true
		}
	}
	score := (maxDepth + 1) * quants
	for n := 0; n < nested && score < maxEstimate; n++ {
		score *= nestedPenalty
	}
	if score > maxEstimate {
		score = maxEstimate
	}
	return score
}
