package normalize

import (
	"context"
	"sort"
	"strings"
)

// TagSuggester is an optional external tagging provider used by the admin
// batch retag operation (spec §4.K). It is modeled on the same pluggable
// shape as the embedding provider adapter — a single method, swappable by
// configuration, mockable for tests.
type TagSuggester interface {
	SuggestTags(ctx context.Context, title, body string) ([]string, error)
}

// HeuristicTagSuggester derives tags from frequent non-stopword tokens. It is
// the zero-dependency default cmd/forestd wires into the admin retag
// operation; a real deployment would swap in an LLM-backed suggester.
type HeuristicTagSuggester struct {
	MaxTags int
}

// NewHeuristicTagSuggester returns a suggester capped at maxTags tags.
func NewHeuristicTagSuggester(maxTags int) *HeuristicTagSuggester {
	if maxTags <= 0 {
		maxTags = 5
	}
	return &HeuristicTagSuggester{MaxTags: maxTags}
}

// SuggestTags never fails; it derives candidate tags from token frequency.
func (s *HeuristicTagSuggester) SuggestTags(_ context.Context, title, body string) ([]string, error) {
	counts := tokenCounts(title + " " + body)
	type kv struct {
		tok   string
		count int
	}
	kvs := make([]kv, 0, len(counts))
	for t, c := range counts {
		kvs = append(kvs, kv{t, c})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].count != kvs[j].count {
			return kvs[i].count > kvs[j].count
		}
		return kvs[i].tok < kvs[j].tok
	})
	n := s.MaxTags
	if n > len(kvs) {
		n = len(kvs)
	}
	tags := make([]string, 0, n)
	for _, e := range kvs[:n] {
		tags = append(tags, strings.ToLower(e.tok))
	}
	sort.Strings(tags)
	return tags, nil
}
