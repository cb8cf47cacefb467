// Package normalize extracts tags, derives token counts, and builds the
// canonical embedding text for a note's title and body (spec §4.A).
package normalize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// hashtagPattern matches #word or #namespace/word occurrences. Grounded on
// engine/domain/validate.go's regexp-driven scanning style.
var hashtagPattern = regexp.MustCompile(`#([\p{L}\p{N}_]+(?:/[\p{L}\p{N}_]+)*)`)

// Result is the output of Normalize.
type Result struct {
	CanonicalText string
	Tags          []string
	TokenCounts   map[string]int
}

// Normalize extracts tags and token counts and builds the canonical text that
// is passed to the embedding provider, per spec §4.A. It never fails.
func Normalize(title, body string, explicitTags []string) Result {
	canonical := title + "\n\n" + body
	tags := mergeTags(explicitTags, extractHashtags(title), extractHashtags(body))
	counts := tokenCounts(title + " " + body)
	return Result{
		CanonicalText: canonical,
		Tags:          tags,
		TokenCounts:   counts,
	}
}

// extractHashtags returns the lowercase tag names found in text, without the
// leading '#'.
func extractHashtags(text string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.ToLower(m[1]))
	}
	return out
}

// mergeTags merges explicit and derived tags, deduplicating case-insensitively
// and sorting deterministically (spec §4.A).
func mergeTags(groups ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range groups {
		for _, t := range g {
			lt := strings.ToLower(strings.TrimSpace(t))
			if lt == "" || seen[lt] {
				continue
			}
			seen[lt] = true
			out = append(out, lt)
		}
	}
	sort.Strings(out)
	return out
}

// Tokens returns the distinct, lowercased, stopword-filtered tokens in text,
// order-independent. Used by internal/scorer for title-word Jaccard
// similarity, so title scoring shares exactly the tokenization rules
// canonical-text scoring uses.
func Tokens(text string) []string {
	counts := tokenCounts(text)
	out := make([]string, 0, len(counts))
	for tok := range counts {
		out = append(out, tok)
	}
	return out
}

// tokenCounts splits on Unicode word boundaries, drops punctuation, folds
// case, filters stopwords, and counts occurrences (spec §4.A). Grounded on
// engine/ingest/transform.go's rune-scanning tokenization style.
func tokenCounts(text string) map[string]int {
	counts := make(map[string]int)
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := strings.ToLower(cur.String())
		cur.Reset()
		if len(tok) < 2 || stopwords[tok] {
			return
		}
		counts[tok]++
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return counts
}
