package linking

import (
	"context"
	"sort"

	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/internal/scorer"
)

// Suggestion is one query-time-only ranked candidate: a pair whose score
// falls in [suggestThreshold, acceptThreshold) and is therefore never
// persisted as an edge (spec §9 open question 2).
type Suggestion struct {
	NoteID     string
	Score      float64
	Components domain.ScoreComponents
}

// Suggestions computes the on-demand ranking of notes whose score against
// noteID falls in the suggest band but below the accept threshold. Nothing
// here is written to the store; a repeated call with no intervening
// mutation returns the same ranking.
func (e *Engine) Suggestions(ctx context.Context, noteID string, limit int) ([]Suggestion, error) {
	note, err := e.graph.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	candidateIDs, err := e.candidateSet(ctx, note)
	if err != nil {
		return nil, err
	}

	a := scorer.FromNote(note)
	var suggestions []Suggestion
	for _, candidateID := range candidateIDs {
		candidate, err := e.graph.GetNote(ctx, candidateID)
		if err != nil {
			if domain.KindOf(err) == domain.KindNotFound {
				continue
			}
			return nil, err
		}
		score, components := scorer.Score(a, scorer.FromNote(candidate), e.config.ScoreWeights, e.config.BridgeTagPattern)
		if score >= e.config.SuggestThreshold && score < e.config.AcceptThreshold {
			suggestions = append(suggestions, Suggestion{NoteID: candidateID, Score: score, Components: components})
		}
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		return suggestions[i].NoteID < suggestions[j].NoteID
	})
	if limit > 0 && len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}
