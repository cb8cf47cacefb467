// Package scorer computes the four-component similarity score between a
// pair of notes and aggregates them into the edge-acceptance score used by
// internal/linking (spec §4.E, resolved in SPEC_FULL.md §9).
package scorer

import "math"

// cosineSimilarity computes cosine similarity between two equal-length
// float32 vectors, grounded on nornicdb's pkg/math/vector.CosineSimilarity
// (float64 accumulation for precision even over float32 inputs), then maps
// the result from [-1,1] into [0,1] via (x+1)/2 per the scorer contract.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (cos + 1) / 2
}

// CosineSimilarity is cosineSimilarity's exported form, reused by
// internal/search's inline embedding scan so both the linking engine and
// search apply the identical [0,1] similarity convention.
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}

// jaccardTokens computes Jaccard similarity over two token-count maps'
// key sets, grounded on nornicdb's apoc/scoring.Jaccard (generalized from
// []interface{} sets to the token-count maps normalize.Normalize produces).
func jaccardTokens(a, b map[string]int) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// jaccardStrings computes Jaccard similarity over two string sets, used for
// title-word and tag-set overlap. Strings are compared exactly; tags and
// title tokens arrive already lowercased from internal/normalize. Two empty
// sets score 0, not 1: "no overlap because there's nothing to overlap" for
// tagless notes, not maximal similarity. The same applies to two titles
// that both tokenize to nothing (only stopwords or one-letter words).
func jaccardStrings(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)
	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// sharedItems returns the sorted intersection of two string sets.
func sharedItems(a, b []string) []string {
	setB := toSet(b)
	var shared []string
	seen := make(map[string]bool)
	for _, it := range a {
		if setB[it] && !seen[it] {
			shared = append(shared, it)
			seen[it] = true
		}
	}
	return shared
}
