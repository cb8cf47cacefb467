package scorer

import (
	"testing"

	"github.com/bwl/forest/internal/domain"
)

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float32{1, 2, 3}
	if got := cosineSimilarity(v, v); got < 0.999 {
		t.Fatalf("expected ~1.0 for identical vectors, got %f", got)
	}
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if got := cosineSimilarity(a, b); got != 0.5 {
		t.Fatalf("expected 0.5 (midpoint after [-1,1]->[0,1] mapping) for orthogonal vectors, got %f", got)
	}
}

func TestCosineSimilarityMismatchedLength(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 2}, []float32{1}); got != 0 {
		t.Fatalf("expected 0 for mismatched lengths, got %f", got)
	}
}

func TestJaccardTokensIdentical(t *testing.T) {
	m := map[string]int{"alpha": 2, "beta": 1}
	if got := jaccardTokens(m, m); got != 1.0 {
		t.Fatalf("expected 1.0 for identical token sets, got %f", got)
	}
}

func TestJaccardTokensDisjoint(t *testing.T) {
	a := map[string]int{"alpha": 1}
	b := map[string]int{"beta": 1}
	if got := jaccardTokens(a, b); got != 0 {
		t.Fatalf("expected 0 for disjoint token sets, got %f", got)
	}
}

func TestJaccardTokensBothEmpty(t *testing.T) {
	if got := jaccardTokens(nil, nil); got != 0 {
		t.Fatalf("expected 0 for two empty sets (no overlap, not maximal), got %f", got)
	}
}

func TestJaccardStringsPartialOverlap(t *testing.T) {
	got := jaccardStrings([]string{"a", "b", "c"}, []string{"b", "c", "d"})
	want := 2.0 / 4.0
	if got != want {
		t.Fatalf("expected %f, got %f", want, got)
	}
}

func TestSharedItems(t *testing.T) {
	got := sharedItems([]string{"a", "b", "c"}, []string{"b", "c", "d"})
	if len(got) != 2 {
		t.Fatalf("expected 2 shared items, got %v", got)
	}
}

func TestFindBridgeTag(t *testing.T) {
	a := []string{"link/project-x", "misc"}
	b := []string{"link/project-x", "other"}
	got := findBridgeTag(a, b, "link/*")
	if got != "link/project-x" {
		t.Fatalf("expected bridge tag link/project-x, got %q", got)
	}
}

func TestFindBridgeTagRequiresSharedTag(t *testing.T) {
	a := []string{"link/project-x"}
	b := []string{"link/project-y"}
	got := findBridgeTag(a, b, "link/*")
	if got != "" {
		t.Fatalf("expected no bridge tag when link tags differ, got %q", got)
	}
}

func TestScoreBridgeTagForcesFullTagScore(t *testing.T) {
	weights := domain.DefaultScoreWeights()
	a := Pair{ID: "a", Title: "Alpha", Tags: []string{"link/x"}}
	b := Pair{ID: "b", Title: "Completely different title", Tags: []string{"link/x"}}
	score, components := Score(a, b, weights, "link/*")
	if components.BridgeTag != "link/x" {
		t.Fatalf("expected bridge tag link/x, got %q", components.BridgeTag)
	}
	// tagOverlap here is 1.0 already (single shared tag, no others), so this
	// mainly checks the bridge floor doesn't reduce a score that tag overlap
	// alone already maximizes.
	expectedTagScore := 1.0
	expectedScore := weights.SemanticVsTag*0 + (1-weights.SemanticVsTag)*expectedTagScore
	if score < expectedScore-1e-9 {
		t.Fatalf("expected score >= %f, got %f", expectedScore, score)
	}
}

func TestScoreBridgeTagFloorsPartialTagOverlap(t *testing.T) {
	weights := domain.DefaultScoreWeights()
	a := Pair{ID: "a", Title: "Alpha", Tags: []string{"link/x", "unique-a"}}
	b := Pair{ID: "b", Title: "Beta", Tags: []string{"link/x", "unique-b"}}
	_, components := Score(a, b, weights, "link/*")
	if components.TagOverlap >= 1.0 {
		t.Fatalf("expected partial tag overlap in this fixture, got %f", components.TagOverlap)
	}
	// The bridge tag is present, so the scorer's tagScore (not directly
	// exposed here) must be floored to 1 even though TagOverlap < 1;
	// verified indirectly via components.BridgeTag being set.
	if components.BridgeTag == "" {
		t.Fatalf("expected bridge tag to be detected")
	}
}

func TestScoreDeterministic(t *testing.T) {
	weights := domain.DefaultScoreWeights()
	a := Pair{ID: "a", Title: "Shared Title Words", Tags: []string{"x", "y"}, Embedding: []float32{1, 0, 0}}
	b := Pair{ID: "b", Title: "Shared Title Words Extra", Tags: []string{"y", "z"}, Embedding: []float32{1, 0, 0}}
	s1, _ := Score(a, b, weights, "link/*")
	s2, _ := Score(a, b, weights, "link/*")
	if s1 != s2 {
		t.Fatalf("expected deterministic score, got %f vs %f", s1, s2)
	}
}
