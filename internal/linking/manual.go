package linking

import (
	"context"

	"github.com/bwl/forest/internal/domain"
)

// ManualLink creates (or overwrites) a manual edge between two notes. Manual
// edges are exempt from the threshold policy like structural edges, but
// carry no score components beyond the reason field (supplemented feature,
// SPEC_FULL.md "manualLink/unlink").
func (e *Engine) ManualLink(ctx context.Context, sourceID, targetID, reason string) (domain.Edge, error) {
	if sourceID == targetID {
		return domain.Edge{}, domain.NewFieldError(domain.KindValidationFailed, "target_id", "cannot link a note to itself")
	}
	if _, err := e.graph.GetNote(ctx, sourceID); err != nil {
		return domain.Edge{}, err
	}
	if _, err := e.graph.GetNote(ctx, targetID); err != nil {
		return domain.Edge{}, err
	}

	existing, hasEdge, err := e.graph.GetEdge(ctx, sourceID, targetID)
	if err != nil {
		return domain.Edge{}, err
	}

	now := e.now()
	a, b := domain.Endpoints(sourceID, targetID)
	edge := existing
	if !hasEdge {
		edge = domain.Edge{ID: e.idGen(), SourceID: a, TargetID: b, CreatedAt: now}
	}
	edge.EdgeType = domain.EdgeManual
	edge.Score = 1
	edge.SemanticScore = 0
	edge.TagScore = 0
	edge.Metadata = domain.EdgeMetadata{Reason: reason}
	edge.UpdatedAt = now

	if err := e.graph.SaveEdge(ctx, edge); err != nil {
		return domain.Edge{}, err
	}
	kind := domain.EventEdgeUpdated
	if !hasEdge {
		kind = domain.EventEdgeCreated
	}
	if err := e.emit(ctx, kind, edge.ID, nil, edgeAfterMap(edge)); err != nil {
		return domain.Edge{}, err
	}
	return edge, nil
}

// Unlink removes any edge (manual or semantic) between two notes.
// Structural edges cannot be removed this way; callers must go through
// internal/document's chunk/document lifecycle instead.
func (e *Engine) Unlink(ctx context.Context, sourceID, targetID string) error {
	existing, hasEdge, err := e.graph.GetEdge(ctx, sourceID, targetID)
	if err != nil {
		return err
	}
	if !hasEdge {
		return nil
	}
	if existing.EdgeType.IsStructural() {
		return domain.NewError(domain.KindConflictingState, "structural edges cannot be removed via unlink")
	}
	return e.removeEdge(ctx, existing)
}
