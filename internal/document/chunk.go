package document

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/bwl/forest/internal/domain"
)

// DefaultChunkSize and DefaultOverlap mirror engine/ingest/transform.go's
// sentence-chunking defaults (tokens approximated as word count).
const (
	DefaultChunkSize = 512
	DefaultOverlap   = 50
)

// segment is one piece of a split document body, before it becomes a chunk
// note. Offset/Length are byte offsets into the canonical body the caller
// reconstructs by joining segments with domain.ChunkSeparator.
type segment struct {
	Heading string
	Text    string
	Offset  int
	Length  int
}

var headingPrefix = "#"

// splitSegments dispatches to the configured chunk strategy.
func splitSegments(body string, strategy domain.ChunkStrategy, chunkSize, overlap int) []segment {
	switch strategy {
	case domain.ChunkByHeaders:
		return withOffsets(splitByHeaders(body))
	case domain.ChunkHybrid:
		return withOffsets(splitHybrid(body, chunkSize, overlap))
	default: // domain.ChunkBySize and unset
		return withOffsets(splitBySize(body, chunkSize, overlap))
	}
}

// splitByHeaders splits on lines beginning with a Markdown ATX heading
// ("#".."######"); text before the first heading becomes an unheaded
// leading segment if non-empty.
func splitByHeaders(body string) []segment {
	lines := strings.Split(body, "\n")
	var segments []segment
	var heading string
	var buf []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		if text != "" {
			segments = append(segments, segment{Heading: heading, Text: text})
		}
		buf = nil
	}

	for _, line := range lines {
		if isHeadingLine(line) {
			flush()
			heading = strings.TrimSpace(strings.TrimLeft(line, "# \t"))
		}
		buf = append(buf, line)
	}
	flush()

	if len(segments) == 0 {
		return splitBySize(body, DefaultChunkSize, DefaultOverlap)
	}
	return segments
}

func isHeadingLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, headingPrefix) {
		return false
	}
	i := 0
	for i < len(trimmed) && trimmed[i] == '#' {
		i++
	}
	return i <= 6 && i < len(trimmed) && trimmed[i] == ' '
}

// splitBySize groups sentences into ~chunkSize-token segments with
// overlapping tail sentences, grounded on engine/ingest/transform.go's
// chunkSentences (walk-back-by-overlap-tokens algorithm).
func splitBySize(body string, chunkSize, overlap int) []segment {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	sentences := splitSentences(body)
	if len(sentences) == 0 {
		return nil
	}

	var segments []segment
	start := 0
	for start < len(sentences) {
		var buf strings.Builder
		tokens := 0
		end := start
		for end < len(sentences) {
			words := wordCount(sentences[end])
			if tokens+words > chunkSize && tokens > 0 {
				break
			}
			if buf.Len() > 0 {
				buf.WriteRune(' ')
			}
			buf.WriteString(sentences[end])
			tokens += words
			end++
		}
		segments = append(segments, segment{Text: buf.String()})

		overlapTokens := 0
		newStart := end
		for newStart > start && overlapTokens < overlap {
			newStart--
			overlapTokens += wordCount(sentences[newStart])
		}
		if newStart == start {
			start = end
		} else {
			start = newStart
		}
	}
	return segments
}

// splitHybrid splits by headers first, then further splits any section
// whose word count exceeds chunkSize using the size strategy, preserving
// the section's heading on each of its sub-segments.
func splitHybrid(body string, chunkSize, overlap int) []segment {
	sections := splitByHeaders(body)
	var out []segment
	for _, sec := range sections {
		if wordCount(sec.Text) <= chunkSize {
			out = append(out, sec)
			continue
		}
		for _, sub := range splitBySize(sec.Text, chunkSize, overlap) {
			sub.Heading = sec.Heading
			out = append(out, sub)
		}
	}
	return out
}

func withOffsets(segments []segment) []segment {
	offset := 0
	for i := range segments {
		segments[i].Offset = offset
		segments[i].Length = len(segments[i].Text)
		offset += segments[i].Length + len(domain.ChunkSeparator)
	}
	return segments
}

// splitSentences splits text into sentences on punctuation and newlines,
// grounded on engine/ingest/transform.go's rune-scanning splitter.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for i, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if r == '\n' || i == len(text)-1 || (i+1 < len(text) && unicode.IsSpace(rune(text[i+1]))) {
				s := strings.TrimSpace(current.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// checksum hashes a segment's text for change detection across edits,
// grounded on nornicdb's apoc/hashing.SHA256.
func checksum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

