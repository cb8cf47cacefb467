// Package linking implements the linking engine: candidate generation,
// scoring, threshold policy, and edge persistence for a note (spec §4.F).
package linking

import (
	"context"
	"sort"
	"time"

	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/internal/scorer"
	"github.com/bwl/forest/internal/store"
	"github.com/bwl/forest/pkg/fn"
)

// noteGraph abstracts the store.GraphStore operations the engine needs,
// grounded on engine/rag.Service's SemanticSearcher/GraphEnricher narrow
// interfaces — it lets tests supply an in-memory fake instead of a live
// Neo4j session.
type noteGraph interface {
	GetNote(ctx context.Context, id string) (domain.Note, error)
	ListNotes(ctx context.Context, offset, limit int) ([]domain.Note, error)
	Neighbors(ctx context.Context, noteID string) ([]domain.Edge, error)
	NotesSharingTags(ctx context.Context, tags []string, excludeID string) ([]string, error)
	SaveEdge(ctx context.Context, e domain.Edge) error
	GetEdge(ctx context.Context, sourceID, targetID string) (domain.Edge, bool, error)
	DeleteEdge(ctx context.Context, sourceID, targetID string) error
	AppendEvent(ctx context.Context, e domain.Event) (int64, error)
}

// vectorSearcher abstracts store.VectorIndex's k-NN search.
type vectorSearcher interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]store.VectorMatch, error)
}

// eventPublisher abstracts events.Bus's Publish.
type eventPublisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

// Engine computes and persists edges between notes. Grounded on
// engine/graph.GraphStore's SaveBatch-based write composition, generalized
// to the scorer/threshold pipeline SPEC_FULL.md's linking engine names.
type Engine struct {
	graph   noteGraph
	vectors vectorSearcher
	bus     eventPublisher
	config  domain.Config
	idGen   func() string
	now     func() time.Time
}

// New constructs a linking Engine. vectors and bus may be nil (nil-interface)
// to disable embedding-based candidates and live publishing respectively;
// events are still appended to the durable log either way.
func New(graph noteGraph, vectors vectorSearcher, bus eventPublisher, config domain.Config, idGen func() string) *Engine {
	return &Engine{graph: graph, vectors: vectors, bus: bus, config: config, idGen: idGen, now: time.Now}
}

// LinkOne computes new edges for noteID against every other note, applies
// the threshold policy, persists the resulting edge set, and emits events.
// Idempotent: running it twice with no intervening mutation produces the
// same edge set (spec §4.F, invariant 10).
func (e *Engine) LinkOne(ctx context.Context, noteID string) error {
	note, err := e.graph.GetNote(ctx, noteID)
	if err != nil {
		return err
	}
	candidateIDs, err := e.candidateSet(ctx, note)
	if err != nil {
		return err
	}
	return e.scoreAndApply(ctx, note, candidateIDs)
}

// RescoreOne recomputes scores limited to the current edges of noteID
// (the faster path used after edits, spec §4.F).
func (e *Engine) RescoreOne(ctx context.Context, noteID string) error {
	note, err := e.graph.GetNote(ctx, noteID)
	if err != nil {
		return err
	}
	existing, err := e.graph.Neighbors(ctx, noteID)
	if err != nil {
		return err
	}
	candidateIDs := make([]string, 0, len(existing))
	for _, edge := range existing {
		if edge.EdgeType.IsStructural() || edge.EdgeType == domain.EdgeManual {
			continue
		}
		other := edge.SourceID
		if other == noteID {
			other = edge.TargetID
		}
		candidateIDs = append(candidateIDs, other)
	}
	return e.scoreAndApply(ctx, note, candidateIDs)
}

// RescoreAll recomputes edges for every note in the store (spec §4.K admin
// operation); it is safe to run concurrently with reads because each note
// is processed in its own transaction.
func (e *Engine) RescoreAll(ctx context.Context) error {
	const pageSize = 200
	offset := 0
	for {
		select {
		case <-ctx.Done():
			return domain.NewError(domain.KindCancelled, "rescoreAll cancelled")
		default:
		}
		notes, err := e.graph.ListNotes(ctx, offset, pageSize)
		if err != nil {
			return err
		}
		if len(notes) == 0 {
			return nil
		}
		for _, n := range notes {
			if err := e.RescoreOne(ctx, n.ID); err != nil {
				return err
			}
		}
		offset += len(notes)
	}
}

// candidateSet computes (current neighbors ∪ top-K nearest in embedding
// space ∪ notes sharing any tag), per spec §4.F's incremental linking path.
func (e *Engine) candidateSet(ctx context.Context, note domain.Note) ([]string, error) {
	var raw []string

	neighbors, err := e.graph.Neighbors(ctx, note.ID)
	if err != nil {
		return nil, err
	}
	for _, edge := range neighbors {
		other := edge.SourceID
		if other == note.ID {
			other = edge.TargetID
		}
		raw = append(raw, other)
	}

	if note.HasEmbedding() && e.vectors != nil {
		k := e.config.LinkCandidateK
		if k <= 0 {
			k = 50
		}
		matches, err := e.vectors.Search(ctx, note.Embedding, k+1)
		if err != nil {
			return nil, err
		}
		raw = append(raw, fn.Map(matches, func(m store.VectorMatch) string { return m.NoteID })...)
	}

	if len(note.Tags) > 0 {
		tagged, err := e.graph.NotesSharingTags(ctx, note.Tags, note.ID)
		if err != nil {
			return nil, err
		}
		raw = append(raw, tagged...)
	}

	// Dedup across the three sources, preserving first-seen order, and drop
	// the note's own id (a neighbor or tag match can legitimately echo it
	// back, e.g. a self-referential tag index entry).
	ids := fn.Filter(fn.Unique(raw), func(id string) bool { return id != note.ID })
	return ids, nil
}

// scoreAndApply scores note against each candidate and applies the
// threshold policy, persisting or removing edges as needed.
func (e *Engine) scoreAndApply(ctx context.Context, note domain.Note, candidateIDs []string) error {
	sort.Strings(candidateIDs)
	a := scorer.FromNote(note)

	for _, candidateID := range candidateIDs {
		select {
		case <-ctx.Done():
			return domain.NewError(domain.KindCancelled, "linking cancelled")
		default:
		}

		candidate, err := e.graph.GetNote(ctx, candidateID)
		if err != nil {
			if domain.KindOf(err) == domain.KindNotFound {
				continue
			}
			return err
		}

		existing, hasEdge, err := e.graph.GetEdge(ctx, note.ID, candidateID)
		if err != nil {
			return err
		}
		if hasEdge && (existing.EdgeType.IsStructural() || existing.EdgeType == domain.EdgeManual) {
			continue
		}

		score, components := scorer.Score(a, scorer.FromNote(candidate), e.config.ScoreWeights, e.config.BridgeTagPattern)

		switch {
		case score >= e.config.AcceptThreshold:
			if err := e.upsertEdge(ctx, existing, hasEdge, note.ID, candidateID, score, components); err != nil {
				return err
			}
		case score < e.config.SuggestThreshold:
			if hasEdge {
				if err := e.removeEdge(ctx, existing); err != nil {
					return err
				}
			}
		}
		// suggestThreshold <= score < acceptThreshold: not persisted, not removed.
	}
	return nil
}

func (e *Engine) upsertEdge(ctx context.Context, existing domain.Edge, hasEdge bool, sourceID, targetID string, score float64, components domain.ScoreComponents) error {
	now := e.now()
	edge := existing
	if !hasEdge {
		a, b := domain.Endpoints(sourceID, targetID)
		edge = domain.Edge{ID: e.idGen(), SourceID: a, TargetID: b, CreatedAt: now}
	}
	edge.EdgeType = domain.EdgeSemantic
	if components.BridgeTag != "" && isOnlyBridgeTag(components) {
		edge.EdgeType = domain.EdgeBridgeTag
	}
	edge.SemanticScore = components.EmbeddingSimilarity*e.config.ScoreWeights.Embedding +
		components.TokenSimilarity*e.config.ScoreWeights.Token +
		components.TitleSimilarity*e.config.ScoreWeights.Title
	edge.TagScore = components.TagOverlap
	if components.BridgeTag != "" && edge.TagScore < 1 {
		edge.TagScore = 1
	}
	edge.Score = score
	edge.Metadata = domain.EdgeMetadata{Components: components, Reason: "semantic"}
	edge.UpdatedAt = now

	if err := e.graph.SaveEdge(ctx, edge); err != nil {
		return err
	}
	kind := domain.EventEdgeUpdated
	var before map[string]any
	if !hasEdge {
		kind = domain.EventEdgeCreated
	} else {
		before = edgeAfterMap(existing)
	}
	return e.emit(ctx, kind, edge.ID, before, edgeAfterMap(edge))
}

func (e *Engine) removeEdge(ctx context.Context, edge domain.Edge) error {
	if err := e.graph.DeleteEdge(ctx, edge.SourceID, edge.TargetID); err != nil {
		return err
	}
	return e.emit(ctx, domain.EventEdgeDeleted, edge.ID, edgeAfterMap(edge), nil)
}

// emit appends the event to the durable log (read by internal/temporal for
// diff/growth replay) and then publishes it on the live bus for subscribers.
// The log append happens first so a subscriber can never observe an event
// the log doesn't yet have (spec §5: "events appended inside the same
// transaction as the mutation... subscribers receive events after commit").
func (e *Engine) emit(ctx context.Context, kind domain.EventKind, entityID string, before, after map[string]any) error {
	ev := domain.Event{Kind: kind, EntityID: entityID, Before: before, After: after, At: e.now()}
	seq, err := e.graph.AppendEvent(ctx, ev)
	if err != nil {
		return err
	}
	ev.Sequence = seq
	if e.bus == nil {
		return nil
	}
	return e.bus.Publish(ctx, ev)
}

// isOnlyBridgeTag reports whether the bridge tag is the sole tag the two
// notes have in common — a deliberate cross-cluster reference rather than
// ordinary tag overlap that happens to include a bridge-pattern tag.
func isOnlyBridgeTag(components domain.ScoreComponents) bool {
	return len(components.SharedTags) == 1 && components.SharedTags[0] == components.BridgeTag
}

func edgeAfterMap(edge domain.Edge) map[string]any {
	return map[string]any{
		"source_id": edge.SourceID,
		"target_id": edge.TargetID,
		"score":     edge.Score,
		"edge_type": string(edge.EdgeType),
	}
}
