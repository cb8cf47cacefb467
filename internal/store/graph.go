package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwl/forest/internal/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// GraphStore owns all Neo4j operations for notes, edges, documents, chunks,
// snapshots, and events. Grounded on engine/graph.GraphStore, generalized
// from automotive Component/Edge nodes to forest's Note/Edge domain and
// given one consistent opener/CypherRunner abstraction (the teacher's
// engine/graph files reference g.opener.OpenSession without graph.go ever
// defining it; store/session.go supplies the single definition they assumed).
type GraphStore struct {
	opener opener
}

// NewGraphStore creates a GraphStore backed by a live Neo4j driver.
func NewGraphStore(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{opener: &driverOpener{driver: driver}}
}

// Ping verifies connectivity to Neo4j (supplemented health-check op, SPEC_FULL.md).
func (g *GraphStore) Ping(ctx context.Context) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, "RETURN 1", nil)
	return err
}

// --- Notes ---

// GetNote returns a note by ID.
func (g *GraphStore) GetNote(ctx context.Context, id string) (domain.Note, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `MATCH (n:Note {id: $id}) RETURN n`, map[string]any{"id": id})
	if err != nil {
		return domain.Note{}, err
	}
	if !result.Next(ctx) {
		return domain.Note{}, domain.NewError(domain.KindNotFound, fmt.Sprintf("note %s not found", id))
	}
	return noteFromRecord(result.Record())
}

// SaveNote creates or updates a note node.
func (g *GraphStore) SaveNote(ctx context.Context, n domain.Note) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `MERGE (n:Note {id: $id}) SET n += $props`, map[string]any{
		"id":    n.ID,
		"props": noteToMap(n),
	})
	return err
}

// DeleteNote removes a note node and its relationships.
func (g *GraphStore) DeleteNote(ctx context.Context, id string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `MATCH (n:Note {id: $id}) DETACH DELETE n`, map[string]any{"id": id})
	return err
}

// ListNotes returns all notes ordered by created_at, paginated.
func (g *GraphStore) ListNotes(ctx context.Context, offset, limit int) ([]domain.Note, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	if limit <= 0 {
		limit = 100
	}
	result, err := sess.Run(ctx, `MATCH (n:Note) RETURN n ORDER BY n.created_at SKIP $offset LIMIT $limit`,
		map[string]any{"offset": int64(offset), "limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	var notes []domain.Note
	for result.Next(ctx) {
		n, err := noteFromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, nil
}

// Degree returns the number of edges incident to a note (spec §4.F candidate scoring).
func (g *GraphStore) Degree(ctx context.Context, noteID string) (int, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `MATCH (n:Note {id: $id})-[r]-() RETURN count(r) AS degree`,
		map[string]any{"id": noteID})
	if err != nil {
		return 0, err
	}
	if !result.Next(ctx) {
		return 0, nil
	}
	val, _ := result.Record().Get("degree")
	if c, ok := val.(int64); ok {
		return int(c), nil
	}
	return 0, nil
}

// NotesSharingTags returns the IDs of notes other than excludeID that carry
// at least one of the given tags (spec §4.F candidate-set construction).
func (g *GraphStore) NotesSharingTags(ctx context.Context, tags []string, excludeID string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `
		MATCH (n:Note)
		WHERE n.id <> $exclude AND any(t IN n.tags WHERE t IN $tags)
		RETURN n.id AS id`, map[string]any{"tags": tags, "exclude": excludeID})
	if err != nil {
		return nil, err
	}
	var ids []string
	for result.Next(ctx) {
		val, _ := result.Record().Get("id")
		if s, ok := val.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// --- Edges ---

// SaveEdge creates or updates an edge between two notes. Endpoints are
// stored in canonical order (domain.Endpoints) so an undirected pair is
// never represented twice (spec §4.C invariant). The relationship type
// encodes edge.EdgeType, which can itself change across rescores (e.g. a
// retag flipping semantic <-> bridge-tag); since MERGE matches on both type
// and id, reusing the same id with a new type would leave the old-typed
// relationship in place and add a second one for the same pair. Any
// existing relationship for this edge id under a different type is deleted
// first so a type change moves the single relationship instead of doubling it.
func (g *GraphStore) SaveEdge(ctx context.Context, e domain.Edge) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	a, b := domain.Endpoints(e.SourceID, e.TargetID)
	relType := sanitizeRelType(string(e.EdgeType))
	cypher := fmt.Sprintf(
		`MATCH (x:Note {id: $a}), (y:Note {id: $b})
		 OPTIONAL MATCH (x)-[old {id: $id}]-(y)
		 WHERE type(old) <> %q
		 DELETE old
		 MERGE (x)-[r:%s {id: $id}]-(y)
		 SET r += $props`,
		relType, relType)
	_, err := sess.Run(ctx, cypher, map[string]any{
		"a":     a,
		"b":     b,
		"id":    e.ID,
		"props": edgeToMap(e),
	})
	return err
}

// GetEdge returns the edge between two notes, if one exists, regardless of
// the order the endpoints are passed in.
func (g *GraphStore) GetEdge(ctx context.Context, sourceID, targetID string) (domain.Edge, bool, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	a, b := domain.Endpoints(sourceID, targetID)
	result, err := sess.Run(ctx, `MATCH (x:Note {id: $a})-[r]-(y:Note {id: $b}) RETURN r, x.id AS a, y.id AS b LIMIT 1`,
		map[string]any{"a": a, "b": b})
	if err != nil {
		return domain.Edge{}, false, err
	}
	if !result.Next(ctx) {
		return domain.Edge{}, false, nil
	}
	e, err := edgeFromRecord(result.Record())
	if err != nil {
		return domain.Edge{}, false, err
	}
	return e, true, nil
}

// Neighbors returns the notes directly connected to noteID along with the
// connecting edge, used by internal/search's BFS expansion.
func (g *GraphStore) Neighbors(ctx context.Context, noteID string) ([]domain.Edge, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `MATCH (n:Note {id: $id})-[r]-() RETURN r`, map[string]any{"id": noteID})
	if err != nil {
		return nil, err
	}
	var edges []domain.Edge
	for result.Next(ctx) {
		e, err := edgeFromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// DeleteEdge removes the edge between two notes.
func (g *GraphStore) DeleteEdge(ctx context.Context, sourceID, targetID string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	a, b := domain.Endpoints(sourceID, targetID)
	_, err := sess.Run(ctx, `MATCH (x:Note {id: $a})-[r]-(y:Note {id: $b}) DELETE r`, map[string]any{"a": a, "b": b})
	return err
}

// SaveBatch persists notes and edges in a single transaction, mirroring
// engine/graph.GraphStore.SaveBatch's ExecuteWrite composition.
func (g *GraphStore) SaveBatch(ctx context.Context, notes []domain.Note, edges []domain.Edge) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		for _, n := range notes {
			if _, err := tx.Run(ctx, `MERGE (n:Note {id: $id}) SET n += $props`, map[string]any{
				"id":    n.ID,
				"props": noteToMap(n),
			}); err != nil {
				return nil, err
			}
		}
		for _, e := range edges {
			a, b := domain.Endpoints(e.SourceID, e.TargetID)
			relType := sanitizeRelType(string(e.EdgeType))
			cypher := fmt.Sprintf(
				`MATCH (x:Note {id: $a}), (y:Note {id: $b})
				 OPTIONAL MATCH (x)-[old {id: $id}]-(y)
				 WHERE type(old) <> %q
				 DELETE old
				 MERGE (x)-[r:%s {id: $id}]-(y)
				 SET r += $props`,
				relType, relType)
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"a": a, "b": b, "id": e.ID, "props": edgeToMap(e),
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// --- marshalling helpers ---

func noteToMap(n domain.Note) map[string]any {
	embedding := make([]float64, len(n.Embedding))
	for i, v := range n.Embedding {
		embedding[i] = float64(v)
	}
	tokenCounts, _ := marshalTokenCounts(n.TokenCounts)
	props := map[string]any{
		"id":              n.ID,
		"title":           n.Title,
		"body":            n.Body,
		"tags":            n.Tags,
		"token_counts":    tokenCounts,
		"embedding_model": n.EmbeddingModel,
		"origin":          string(n.Metadata.Origin),
		"created_by":      string(n.Metadata.CreatedBy),
		"agent_name":      n.Metadata.AgentName,
		"model":           n.Metadata.Model,
		"is_chunk":        n.Metadata.IsChunk,
		"created_at":      n.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":      n.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if n.Metadata.ParentDocumentID != "" {
		props["parent_document_id"] = n.Metadata.ParentDocumentID
	}
	if n.Metadata.ChunkOrder != nil {
		props["chunk_order"] = int64(*n.Metadata.ChunkOrder)
	}
	if len(n.Metadata.SourceNodeIDs) > 0 {
		props["source_node_ids"] = n.Metadata.SourceNodeIDs
	}
	if len(embedding) > 0 {
		props["embedding"] = embedding
	}
	return props
}

func noteFromRecord(rec *neo4j.Record) (domain.Note, error) {
	val, ok := rec.Get("n")
	if !ok {
		return domain.Note{}, domain.NewError(domain.KindInternal, "note record missing field n")
	}
	node, ok := val.(dbtype.Node)
	if !ok {
		return domain.Note{}, domain.NewError(domain.KindInternal, "unexpected note node type")
	}
	props := node.Props
	n := domain.Note{
		ID:             strProp(props, "id"),
		Title:          strProp(props, "title"),
		Body:           strProp(props, "body"),
		Tags:           strSliceProp(props, "tags"),
		EmbeddingModel: strProp(props, "embedding_model"),
		Metadata: domain.NoteMetadata{
			Origin:           domain.Origin(strProp(props, "origin")),
			CreatedBy:        domain.CreatedBy(strProp(props, "created_by")),
			AgentName:        strProp(props, "agent_name"),
			Model:            strProp(props, "model"),
			ParentDocumentID: strProp(props, "parent_document_id"),
			SourceNodeIDs:    strSliceProp(props, "source_node_ids"),
			IsChunk:          boolProp(props, "is_chunk"),
		},
	}
	if v, ok := props["chunk_order"]; ok {
		if i, ok := v.(int64); ok {
			order := int(i)
			n.Metadata.ChunkOrder = &order
		}
	}
	if v, ok := props["embedding"]; ok {
		if floats, ok := v.([]float64); ok {
			vec := make([]float32, len(floats))
			for i, f := range floats {
				vec[i] = float32(f)
			}
			n.Embedding = vec
		} else if floats, ok := v.([]any); ok {
			vec := make([]float32, len(floats))
			for i, f := range floats {
				if fv, ok := f.(float64); ok {
					vec[i] = float32(fv)
				}
			}
			n.Embedding = vec
		}
	}
	n.TokenCounts = unmarshalTokenCounts(strProp(props, "token_counts"))
	n.CreatedAt = timeProp(props, "created_at")
	n.UpdatedAt = timeProp(props, "updated_at")
	return n, nil
}

func edgeToMap(e domain.Edge) map[string]any {
	return map[string]any{
		"id":             e.ID,
		"source_id":      e.SourceID,
		"target_id":      e.TargetID,
		"semantic_score": e.SemanticScore,
		"tag_score":      e.TagScore,
		"score":          e.Score,
		"edge_type":      string(e.EdgeType),
		"reason":         e.Metadata.Reason,
		"shared_tags":    e.Metadata.Components.SharedTags,
		"bridge_tag":     e.Metadata.Components.BridgeTag,
		"embedding_sim":  e.Metadata.Components.EmbeddingSimilarity,
		"token_sim":      e.Metadata.Components.TokenSimilarity,
		"title_sim":      e.Metadata.Components.TitleSimilarity,
		"tag_overlap":    e.Metadata.Components.TagOverlap,
		"created_at":     e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":     e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func edgeFromRecord(rec *neo4j.Record) (domain.Edge, error) {
	val, ok := rec.Get("r")
	if !ok {
		return domain.Edge{}, domain.NewError(domain.KindInternal, "edge record missing field r")
	}
	rel, ok := val.(dbtype.Relationship)
	if !ok {
		return domain.Edge{}, domain.NewError(domain.KindInternal, "unexpected edge relationship type")
	}
	props := rel.Props
	e := domain.Edge{
		ID:            strProp(props, "id"),
		SourceID:      strProp(props, "source_id"),
		TargetID:      strProp(props, "target_id"),
		SemanticScore: floatProp(props, "semantic_score"),
		TagScore:      floatProp(props, "tag_score"),
		Score:         floatProp(props, "score"),
		EdgeType:      domain.EdgeType(strProp(props, "edge_type")),
		Metadata: domain.EdgeMetadata{
			Reason: strProp(props, "reason"),
			Components: domain.ScoreComponents{
				EmbeddingSimilarity: floatProp(props, "embedding_sim"),
				TokenSimilarity:     floatProp(props, "token_sim"),
				TitleSimilarity:     floatProp(props, "title_sim"),
				TagOverlap:          floatProp(props, "tag_overlap"),
				SharedTags:          strSliceProp(props, "shared_tags"),
				BridgeTag:           strProp(props, "bridge_tag"),
			},
		},
	}
	e.CreatedAt = timeProp(props, "created_at")
	e.UpdatedAt = timeProp(props, "updated_at")
	return e, nil
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func boolProp(props map[string]any, key string) bool {
	if v, ok := props[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func floatProp(props map[string]any, key string) float64 {
	if v, ok := props[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}

func strSliceProp(props map[string]any, key string) []string {
	v, ok := props[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func timeProp(props map[string]any, key string) time.Time {
	s := strProp(props, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// sanitizeRelType ensures a note's EdgeType maps to a valid, uppercased
// Cypher relationship identifier. Grounded on engine/graph.sanitizeRelType.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := 0; i < len(t); i++ {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		} else if c == '-' {
			safe = append(safe, '_')
		}
	}
	if strings.Trim(string(safe), "_") == "" {
		return "RELATED_TO"
	}
	return strings.ToUpper(string(safe))
}
