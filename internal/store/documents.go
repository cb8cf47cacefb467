package store

import (
	"fmt"
	"time"

	"github.com/bwl/forest/internal/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"context"
)

// --- Documents ---

// SaveDocument creates or updates a document node.
func (g *GraphStore) SaveDocument(ctx context.Context, d domain.Document) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `MERGE (d:Document {id: $id}) SET d += $props`, map[string]any{
		"id":    d.ID,
		"props": documentToMap(d),
	})
	return err
}

// GetDocument returns a document by ID.
func (g *GraphStore) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `MATCH (d:Document {id: $id}) RETURN d`, map[string]any{"id": id})
	if err != nil {
		return domain.Document{}, err
	}
	if !result.Next(ctx) {
		return domain.Document{}, domain.NewError(domain.KindNotFound, fmt.Sprintf("document %s not found", id))
	}
	return documentFromRecord(result.Record())
}

// DeleteDocument removes a document node (chunk notes are deleted separately
// by the caller, which owns the document-integrity invariant).
func (g *GraphStore) DeleteDocument(ctx context.Context, id string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `MATCH (d:Document {id: $id}) DETACH DELETE d`, map[string]any{"id": id})
	return err
}

// --- Document chunks ---

// SaveChunk records (or updates) the structural link from a document to one
// of its chunk notes, keyed by SegmentID.
func (g *GraphStore) SaveChunk(ctx context.Context, c domain.DocumentChunk) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `
		MATCH (d:Document {id: $doc_id}), (n:Note {id: $node_id})
		MERGE (d)-[r:HAS_CHUNK {segment_id: $segment_id}]->(n)
		SET r.offset = $offset, r.length = $length, r.chunk_order = $chunk_order, r.checksum = $checksum`,
		map[string]any{
			"doc_id":      c.DocumentID,
			"node_id":     c.NodeID,
			"segment_id":  c.SegmentID,
			"offset":      int64(c.Offset),
			"length":      int64(c.Length),
			"chunk_order": int64(c.ChunkOrder),
			"checksum":    c.Checksum,
		})
	return err
}

// ListChunks returns every chunk belonging to a document, ordered by ChunkOrder.
func (g *GraphStore) ListChunks(ctx context.Context, documentID string) ([]domain.DocumentChunk, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `
		MATCH (d:Document {id: $doc_id})-[r:HAS_CHUNK]->(n:Note)
		RETURN r, n.id AS node_id
		ORDER BY r.chunk_order`, map[string]any{"doc_id": documentID})
	if err != nil {
		return nil, err
	}
	var chunks []domain.DocumentChunk
	for result.Next(ctx) {
		rec := result.Record()
		relVal, _ := rec.Get("r")
		rel, ok := relVal.(dbtype.Relationship)
		if !ok {
			continue
		}
		nodeID, _ := rec.Get("node_id")
		c := domain.DocumentChunk{
			DocumentID: documentID,
			NodeID:     fmt.Sprint(nodeID),
			SegmentID:  strProp(rel.Props, "segment_id"),
			Checksum:   strProp(rel.Props, "checksum"),
		}
		if v, ok := rel.Props["offset"].(int64); ok {
			c.Offset = int(v)
		}
		if v, ok := rel.Props["length"].(int64); ok {
			c.Length = int(v)
		}
		if v, ok := rel.Props["chunk_order"].(int64); ok {
			c.ChunkOrder = int(v)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// DeleteChunk removes a document's HAS_CHUNK relationship for one segment.
func (g *GraphStore) DeleteChunk(ctx context.Context, documentID, segmentID string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `
		MATCH (d:Document {id: $doc_id})-[r:HAS_CHUNK {segment_id: $segment_id}]->()
		DELETE r`, map[string]any{"doc_id": documentID, "segment_id": segmentID})
	return err
}

func documentToMap(d domain.Document) map[string]any {
	return map[string]any{
		"id":           d.ID,
		"title":        d.Title,
		"body":         d.Body,
		"strategy":     string(d.Metadata.Strategy),
		"chunk_size":   int64(d.Metadata.ChunkSize),
		"overlap":      int64(d.Metadata.Overlap),
		"auto_link":    d.Metadata.AutoLink,
		"source_file":  d.Metadata.SourceFile,
		"template_id":  d.Metadata.TemplateID,
		"version":      int64(d.Version),
		"root_node_id": d.RootNodeID,
		"created_at":   d.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":   d.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func documentFromRecord(rec *neo4j.Record) (domain.Document, error) {
	val, ok := rec.Get("d")
	if !ok {
		return domain.Document{}, domain.NewError(domain.KindInternal, "document record missing field d")
	}
	node, ok := val.(dbtype.Node)
	if !ok {
		return domain.Document{}, domain.NewError(domain.KindInternal, "unexpected document node type")
	}
	props := node.Props
	d := domain.Document{
		ID:         strProp(props, "id"),
		Title:      strProp(props, "title"),
		Body:       strProp(props, "body"),
		RootNodeID: strProp(props, "root_node_id"),
		Metadata: domain.DocumentMetadata{
			Strategy:   domain.ChunkStrategy(strProp(props, "strategy")),
			AutoLink:   boolProp(props, "auto_link"),
			SourceFile: strProp(props, "source_file"),
			TemplateID: strProp(props, "template_id"),
		},
	}
	if v, ok := props["chunk_size"].(int64); ok {
		d.Metadata.ChunkSize = int(v)
	}
	if v, ok := props["overlap"].(int64); ok {
		d.Metadata.Overlap = int(v)
	}
	if v, ok := props["version"].(int64); ok {
		d.Version = int(v)
	}
	d.CreatedAt = timeProp(props, "created_at")
	d.UpdatedAt = timeProp(props, "updated_at")
	return d, nil
}
