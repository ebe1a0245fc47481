// Package parser turns a raw text query into a plan of index terms. Words
// are normalised with the same tokenizer used at index time; AND, OR and NOT
// act as operators.
package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/tokenizer"
)

type QueryType int

const (
	QueryAND QueryType = iota
	QueryOR
)

func (t QueryType) String() string {
	if t == QueryOR {
		return "OR"
	}
	return "AND"
}

// QueryTerm is one normalised query word together with the text the caller
// typed, which case-sensitive matching compares against.
type QueryTerm struct {
	Term    string
	Surface string
}

type QueryPlan struct {
	Terms        []QueryTerm
	Type         QueryType
	ExcludeTerms []string
	RawQuery     string
}

// Empty reports whether the plan has nothing to match.
func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0
}

func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]QueryTerm, 0),
		ExcludeTerms: make([]string, 0),
		Type:         QueryAND,
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	words := strings.Fields(query)
	excludeNext := false
	seen := make(map[string]struct{})
	for i := 0; i < len(words); i++ {
		switch words[i] {
		case "AND":
			plan.Type = QueryAND
			continue
		case "OR":
			plan.Type = QueryOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		tokens := tokenizer.Tokenize(words[i])
		if len(tokens) == 0 {
			excludeNext = false
			continue
		}
		for _, tok := range tokens {
			if excludeNext {
				plan.ExcludeTerms = append(plan.ExcludeTerms, tok.Term)
				continue
			}
			if _, dup := seen[tok.Term]; dup {
				continue
			}
			seen[tok.Term] = struct{}{}
			plan.Terms = append(plan.Terms, QueryTerm{Term: tok.Term, Surface: tok.Surface})
		}
		excludeNext = false
	}
	return plan
}
