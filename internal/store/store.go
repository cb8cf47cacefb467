package store

import (
	"context"

	pb "github.com/qdrant/go-client/qdrant"
)

// Store is the facade the rest of forest constructs against: the graph
// store for notes/edges/documents/events and the vector index for
// embeddings. Kept as two cooperating components, not one merged struct,
// because they scale and fail independently (spec §6).
type Store struct {
	Graph  *GraphStore
	Vector *VectorIndex
}

// New wires a Store from already-connected backends.
func New(graph *GraphStore, vector *VectorIndex) *Store {
	return &Store{Graph: graph, Vector: vector}
}

// Ping verifies both backends are reachable (supplemented health-check op,
// SPEC_FULL.md).
func (s *Store) Ping(ctx context.Context) error {
	if err := s.Graph.Ping(ctx); err != nil {
		return err
	}
	_, err := s.Vector.collections.List(ctx, &pb.ListCollectionsRequest{})
	return err
}
