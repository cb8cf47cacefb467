package scorer

import (
	"sort"
	"strings"

	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/internal/normalize"
)

// Pair is the scorable view of a note: only the fields the four components
// read, so callers don't have to hydrate a full domain.Note just to score it.
type Pair struct {
	ID          string
	Title       string
	Tags        []string
	TokenCounts map[string]int
	Embedding   []float32
}

// FromNote builds a Pair from a domain.Note.
func FromNote(n domain.Note) Pair {
	return Pair{ID: n.ID, Title: n.Title, Tags: n.Tags, TokenCounts: n.TokenCounts, Embedding: n.Embedding}
}

// Score computes the four similarity components between a and b and
// aggregates them per the resolved weights (spec §9 open question 3):
//
//	semanticScore = weights.Embedding*embeddingSimilarity +
//	                weights.Token*tokenSimilarity + weights.Title*titleSimilarity
//	tagScore      = max(tagOverlap, bridgePresent ? 1 : 0)
//	score         = weights.SemanticVsTag*semanticScore + (1-weights.SemanticVsTag)*tagScore
//
// bridgeTagPattern is a glob like "link/*"; a tag present on both notes and
// matching it is a structural bridge-tag signal independent of tag overlap (spec §9
// open question 1).
func Score(a, b Pair, weights domain.ScoreWeights, bridgeTagPattern string) (float64, domain.ScoreComponents) {
	embeddingSim := 0.0
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		embeddingSim = cosineSimilarity(a.Embedding, b.Embedding)
	}
	tokenSim := jaccardTokens(a.TokenCounts, b.TokenCounts)
	titleSim := jaccardStrings(normalize.Tokens(a.Title), normalize.Tokens(b.Title))
	tagOverlap := jaccardStrings(a.Tags, b.Tags)
	shared := sharedItems(a.Tags, b.Tags)
	sort.Strings(shared)

	bridgeTag := findBridgeTag(a.Tags, b.Tags, bridgeTagPattern)

	components := domain.ScoreComponents{
		EmbeddingSimilarity: embeddingSim,
		TokenSimilarity:     tokenSim,
		TitleSimilarity:     titleSim,
		TagOverlap:          tagOverlap,
		SharedTags:          shared,
		BridgeTag:           bridgeTag,
	}

	semanticScore := weights.Embedding*embeddingSim + weights.Token*tokenSim + weights.Title*titleSim

	tagScore := tagOverlap
	if bridgeTag != "" && tagScore < 1 {
		tagScore = 1
	}

	score := weights.SemanticVsTag*semanticScore + (1-weights.SemanticVsTag)*tagScore
	return score, components
}

// findBridgeTag returns the first tag shared structurally via the bridge
// pattern: a tag present on BOTH notes that matches bridgeTagPattern, or
// empty if none. A pattern like "link/*" matches only tags that are
// shared between a and b AND carry the link/ namespace, distinguishing a
// designed cross-reference from incidental tag overlap.
func findBridgeTag(a, b []string, pattern string) string {
	if pattern == "" {
		return ""
	}
	shared := sharedItems(a, b)
	for _, tag := range shared {
		if matchGlob(pattern, tag) {
			return tag
		}
	}
	return ""
}

// matchGlob supports a single trailing "*" wildcard, e.g. "link/*" matches
// any tag beginning with "link/". No other glob metacharacters are
// supported; spec §6's bridge_tag_pattern config is documented to be this
// simple shape.
func matchGlob(pattern, s string) bool {
	if !strings.HasSuffix(pattern, "*") {
		return pattern == s
	}
	prefix := strings.TrimSuffix(pattern, "*")
	return strings.HasPrefix(s, prefix)
}
