package store

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// VectorIndex owns all Qdrant operations: note embeddings in, k-NN
// candidates out. Grounded on engine/semantic.VectorStore, generalized from
// RAG document chunks to forest notes and carrying tag/origin payload
// fields the linking and search packages filter on.
type VectorIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// NewVectorIndex dials Qdrant at addr and targets the given collection.
func NewVectorIndex(addr, collection string) (*VectorIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("store: dial qdrant %s: %w", addr, err)
	}
	return &VectorIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorIndex) Close() error {
	return v.conn.Close()
}

// EnsureCollection creates the note-embedding collection if absent.
func (v *VectorIndex) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("store: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("store: create collection %s: %w", v.collection, err)
	}
	return nil
}

// NoteVector is a single note's embedding plus the payload fields search
// and linking filter on without a round trip to Neo4j.
type NoteVector struct {
	NoteID    string
	Embedding []float32
	Tags      []string
	Origin    string
	CreatedBy string
}

// Upsert stores or replaces note embeddings in Qdrant.
func (v *VectorIndex) Upsert(ctx context.Context, vectors []NoteVector) error {
	if len(vectors) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(vectors))
	for i, nv := range vectors {
		payload := map[string]*pb.Value{
			"note_id":    {Kind: &pb.Value_StringValue{StringValue: nv.NoteID}},
			"origin":     {Kind: &pb.Value_StringValue{StringValue: nv.Origin}},
			"created_by": {Kind: &pb.Value_StringValue{StringValue: nv.CreatedBy}},
		}
		if len(nv.Tags) > 0 {
			tagVals := make([]*pb.Value, len(nv.Tags))
			for j, t := range nv.Tags {
				tagVals[j] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: t}}
			}
			payload["tags"] = &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: tagVals}}}
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: nv.NoteID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: nv.Embedding}}},
			Payload: payload,
		}
	}
	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("store: upsert %d points: %w", len(vectors), err)
	}
	return nil
}

// Delete removes a note's embedding by ID.
func (v *VectorIndex) Delete(ctx context.Context, noteID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{
					{PointIdOptions: &pb.PointId_Uuid{Uuid: noteID}},
				}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("store: delete point %s: %w", noteID, err)
	}
	return nil
}

// VectorMatch is one k-NN search hit.
type VectorMatch struct {
	NoteID string
	Score  float64
}

// Search performs k-NN similarity search against the note embedding space
// (spec §4.F candidate generation, §4.G semantic search).
func (v *VectorIndex) Search(ctx context.Context, embedding []float32, topK int) ([]VectorMatch, error) {
	return v.SearchFiltered(ctx, embedding, topK, nil)
}

// SearchFiltered performs k-NN search restricted to notes carrying all of
// the given tags.
func (v *VectorIndex) SearchFiltered(ctx context.Context, embedding []float32, topK int, requireTags []string) ([]VectorMatch, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(requireTags) > 0 {
		must := make([]*pb.Condition, 0, len(requireTags))
		for _, t := range requireTags {
			must = append(must, &pb.Condition{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key:   "tags",
						Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: t}},
					},
				},
			})
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}

	matches := make([]VectorMatch, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		matches[i] = vectorMatchFromPoint(r)
	}
	return matches, nil
}

// vectorMatchFromPoint reads a VectorMatch from a Qdrant scored point. The
// ID may be in Uuid or the payload's note_id field, depending on how the
// point was upserted.
func vectorMatchFromPoint(r *pb.ScoredPoint) VectorMatch {
	id := r.GetId().GetUuid()
	if id == "" {
		if v, ok := r.GetPayload()["note_id"]; ok {
			id = v.GetStringValue()
		}
	}
	return VectorMatch{NoteID: id, Score: float64(r.GetScore())}
}
