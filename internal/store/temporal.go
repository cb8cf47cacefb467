package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bwl/forest/internal/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// --- Events ---

// AppendEvent appends a domain event to the append-only log, assigning it
// the next sequence number. Grounded on the teacher's SaveBatch
// ExecuteWrite pattern for atomic counter-and-write.
func (g *GraphStore) AppendEvent(ctx context.Context, e domain.Event) (int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	res, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		result, err := tx.Run(ctx, `
			MERGE (c:EventCounter {id: 'singleton'})
			ON CREATE SET c.next = 1
			SET c.next = c.next + 1
			RETURN c.next - 1 AS seq`, nil)
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, domain.NewError(domain.KindInternal, "event counter did not return a sequence")
		}
		seqVal, _ := result.Record().Get("seq")
		seq, _ := seqVal.(int64)

		before, err := marshalJSONish(e.Before)
		if err != nil {
			return nil, err
		}
		after, err := marshalJSONish(e.After)
		if err != nil {
			return nil, err
		}
		_, err = tx.Run(ctx, `
			CREATE (ev:Event {
				sequence: $sequence, kind: $kind, entity_id: $entity_id,
				before: $before, after: $after, tags: $tags, at: $at
			})`, map[string]any{
			"sequence":  seq,
			"kind":      string(e.Kind),
			"entity_id": e.EntityID,
			"before":    before,
			"after":     after,
			"tags":      e.Tags,
			"at":        e.At.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
		return seq, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// EventsSince returns events with sequence > cursor, in order, used by
// internal/temporal to replay history for diff and growth operations.
func (g *GraphStore) EventsSince(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	if limit <= 0 {
		limit = 10000
	}
	result, err := sess.Run(ctx, `
		MATCH (ev:Event) WHERE ev.sequence > $cursor
		RETURN ev ORDER BY ev.sequence LIMIT $limit`,
		map[string]any{"cursor": cursor, "limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	var events []domain.Event
	for result.Next(ctx) {
		ev, err := eventFromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// LatestEventSequence returns the sequence number of the most recently
// appended event (0 if none), used as a snapshot's replay cursor at capture
// time. Reads the same EventCounter node AppendEvent maintains rather than
// scanning the event log.
func (g *GraphStore) LatestEventSequence(ctx context.Context) (int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `MATCH (c:EventCounter {id: 'singleton'}) RETURN c.next - 1 AS seq`, nil)
	if err != nil {
		return 0, err
	}
	if !result.Next(ctx) {
		return 0, nil
	}
	seq, _ := result.Record().Get("seq")
	v, _ := seq.(int64)
	return v, nil
}

func eventFromRecord(rec *neo4j.Record) (domain.Event, error) {
	val, ok := rec.Get("ev")
	if !ok {
		return domain.Event{}, domain.NewError(domain.KindInternal, "event record missing field ev")
	}
	node, ok := val.(dbtype.Node)
	if !ok {
		return domain.Event{}, domain.NewError(domain.KindInternal, "unexpected event node type")
	}
	props := node.Props
	e := domain.Event{
		Kind:     domain.EventKind(strProp(props, "kind")),
		EntityID: strProp(props, "entity_id"),
		Tags:     strSliceProp(props, "tags"),
		At:       timeProp(props, "at"),
	}
	if v, ok := props["sequence"].(int64); ok {
		e.Sequence = v
	}
	e.Before = unmarshalJSONish(strProp(props, "before"))
	e.After = unmarshalJSONish(strProp(props, "after"))
	return e, nil
}

// GraphCounts is the node/edge/tag census internal/temporal stamps onto a
// Snapshot.
type GraphCounts struct {
	NodeCount   int
	EdgeCount   int
	TagCount    int
	NodesDigest string
	EdgesDigest string
	TagsDigest  string
}

// CountsAndDigests reads current counts and a content digest for notes,
// edges, and tags with three queries on one session (not one transaction), grounded on
// engine/graph.GraphStore's NodeCounts/RelationshipCounts label-grouped
// aggregation, generalized to forest's single Note/edge-type model plus a
// digest hash internal/temporal uses to detect drift between snapshots
// without storing full content.
func (g *GraphStore) CountsAndDigests(ctx context.Context) (GraphCounts, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	var counts GraphCounts

	noteResult, err := sess.Run(ctx, `MATCH (n:Note) RETURN n.id AS id, n.updated_at AS updated_at ORDER BY n.id`, nil)
	if err != nil {
		return GraphCounts{}, err
	}
	var noteIDs []string
	for noteResult.Next(ctx) {
		rec := noteResult.Record()
		id, _ := rec.Get("id")
		updated, _ := rec.Get("updated_at")
		counts.NodeCount++
		noteIDs = append(noteIDs, fmt.Sprintf("%v|%v", id, updated))
	}

	edgeResult, err := sess.Run(ctx, `MATCH ()-[r]-() WHERE r.id IS NOT NULL RETURN DISTINCT r.id AS id, r.score AS score ORDER BY r.id`, nil)
	if err != nil {
		return GraphCounts{}, err
	}
	var edgeIDs []string
	for edgeResult.Next(ctx) {
		rec := edgeResult.Record()
		id, _ := rec.Get("id")
		score, _ := rec.Get("score")
		counts.EdgeCount++
		edgeIDs = append(edgeIDs, fmt.Sprintf("%v|%v", id, score))
	}

	tagResult, err := sess.Run(ctx, `MATCH (n:Note) UNWIND n.tags AS tag RETURN DISTINCT tag ORDER BY tag`, nil)
	if err != nil {
		return GraphCounts{}, err
	}
	var tags []string
	for tagResult.Next(ctx) {
		rec := tagResult.Record()
		tag, _ := rec.Get("tag")
		if t, ok := tag.(string); ok {
			tags = append(tags, t)
		}
	}
	counts.TagCount = len(tags)

	counts.NodesDigest = digest(noteIDs)
	counts.EdgesDigest = digest(edgeIDs)
	counts.TagsDigest = digest(tags)
	return counts, nil
}

func digest(items []string) string {
	h := sha256.New()
	for _, it := range items {
		h.Write([]byte(it))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// --- Snapshots ---

// SaveSnapshot persists a snapshot record.
func (g *GraphStore) SaveSnapshot(ctx context.Context, s domain.Snapshot) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `
		CREATE (s:Snapshot {
			id: $id, taken_at: $taken_at, snapshot_type: $snapshot_type,
			node_count: $node_count, edge_count: $edge_count, tag_count: $tag_count,
			nodes_digest: $nodes_digest, edges_digest: $edges_digest, tags_digest: $tags_digest,
			replay_cursor: $replay_cursor
		})`, map[string]any{
		"id":            s.ID,
		"taken_at":      s.TakenAt.UTC().Format(time.RFC3339Nano),
		"snapshot_type": string(s.SnapshotType),
		"node_count":    int64(s.NodeCount),
		"edge_count":    int64(s.EdgeCount),
		"tag_count":     int64(s.TagCount),
		"nodes_digest":  s.NodesDigest,
		"edges_digest":  s.EdgesDigest,
		"tags_digest":   s.TagsDigest,
		"replay_cursor": s.ReplayCursor,
	})
	return err
}

// ListSnapshots returns snapshots ordered by TakenAt descending.
func (g *GraphStore) ListSnapshots(ctx context.Context, limit int) ([]domain.Snapshot, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	if limit <= 0 {
		limit = 100
	}
	result, err := sess.Run(ctx, `MATCH (s:Snapshot) RETURN s ORDER BY s.taken_at DESC LIMIT $limit`,
		map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	var snaps []domain.Snapshot
	for result.Next(ctx) {
		s, err := snapshotFromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}

func snapshotFromRecord(rec *neo4j.Record) (domain.Snapshot, error) {
	val, ok := rec.Get("s")
	if !ok {
		return domain.Snapshot{}, domain.NewError(domain.KindInternal, "snapshot record missing field s")
	}
	node, ok := val.(dbtype.Node)
	if !ok {
		return domain.Snapshot{}, domain.NewError(domain.KindInternal, "unexpected snapshot node type")
	}
	props := node.Props
	s := domain.Snapshot{
		ID:           strProp(props, "id"),
		SnapshotType: domain.SnapshotType(strProp(props, "snapshot_type")),
		NodesDigest:  strProp(props, "nodes_digest"),
		EdgesDigest:  strProp(props, "edges_digest"),
		TagsDigest:   strProp(props, "tags_digest"),
		TakenAt:      timeProp(props, "taken_at"),
	}
	if v, ok := props["node_count"].(int64); ok {
		s.NodeCount = int(v)
	}
	if v, ok := props["edge_count"].(int64); ok {
		s.EdgeCount = int(v)
	}
	if v, ok := props["tag_count"].(int64); ok {
		s.TagCount = int(v)
	}
	if v, ok := props["replay_cursor"].(int64); ok {
		s.ReplayCursor = v
	}
	return s, nil
}
