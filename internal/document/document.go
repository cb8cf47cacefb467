// Package document implements the canonical-markdown-to-chunk-notes pipeline
// (spec §4.G): import, segment edit, chunk direct-edit re-entry, reorder,
// chunk/document deletion, and startup backfill of legacy chunk notes.
package document

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/internal/ingest"
	"github.com/bwl/forest/pkg/fn"
)

// graphStore abstracts the store.GraphStore operations this package needs.
type graphStore interface {
	SaveDocument(ctx context.Context, d domain.Document) error
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	SaveChunk(ctx context.Context, c domain.DocumentChunk) error
	ListChunks(ctx context.Context, documentID string) ([]domain.DocumentChunk, error)
	DeleteChunk(ctx context.Context, documentID, segmentID string) error
	GetNote(ctx context.Context, id string) (domain.Note, error)
	ListNotes(ctx context.Context, offset, limit int) ([]domain.Note, error)
	SaveEdge(ctx context.Context, e domain.Edge) error
	DeleteEdge(ctx context.Context, sourceID, targetID string) error
	AppendEvent(ctx context.Context, e domain.Event) (int64, error)
}

// linker abstracts internal/linking.Engine's two per-note entry points.
type linker interface {
	LinkOne(ctx context.Context, noteID string) error
	RescoreOne(ctx context.Context, noteID string) error
}

// eventPublisher abstracts internal/events.Bus.Publish.
type eventPublisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

// Service orchestrates the document pipeline. Notes must be constructed with
// its Linker field nil: the document pipeline controls exactly when
// linking runs (after every chunk and structural edge exists), rather than
// per-note as each chunk is captured.
type Service struct {
	Graph  graphStore
	Notes  *ingest.Service
	Linker linker
	Bus    eventPublisher
	Config domain.Config
	IDGen  func() string
	Now    func() time.Time
}

func (s *Service) idGen() string {
	if s.IDGen != nil {
		return s.IDGen()
	}
	return ingest.NewID()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ImportResult is import's return value.
type ImportResult struct {
	DocumentID   string
	RootNodeID   string
	ChunkNodeIDs []string
}

// Import splits body per metadata.Strategy, creates one chunk note per
// segment plus an optional root summary note, persists the Document and
// DocumentChunk rows, builds structural edges, and (unless AutoLink is
// false) links every chunk and the root note (spec §4.G steps 1-6).
func (s *Service) Import(ctx context.Context, title, body string, meta domain.DocumentMetadata, includeRoot bool) (ImportResult, error) {
	if strings.TrimSpace(body) == "" {
		return ImportResult{}, domain.NewFieldError(domain.KindValidationFailed, "body", "must not be empty")
	}
	segments := splitSegments(body, meta.Strategy, meta.ChunkSize, meta.Overlap)
	if len(segments) == 0 {
		return ImportResult{}, domain.NewFieldError(domain.KindValidationFailed, "body", "produced no segments")
	}

	documentID := s.idGen()
	n := len(segments)
	chunkIDs := make([]string, n)
	chunks := make([]domain.DocumentChunk, n)

	for k, seg := range segments {
		chunkTitle := fmt.Sprintf("%s [%d/%d]", title, k+1, n)
		if seg.Heading != "" {
			chunkTitle = fmt.Sprintf("%s [%d/%d] %s", title, k+1, n, seg.Heading)
		}
		order := k
		note, err := s.Notes.CaptureNote(ctx, ingest.CaptureInput{
			Title: chunkTitle,
			Body:  seg.Text,
			Metadata: domain.NoteMetadata{
				Origin:           domain.OriginImport,
				IsChunk:          true,
				ParentDocumentID: documentID,
				ChunkOrder:       &order,
			},
		})
		if err != nil {
			return ImportResult{}, err
		}
		chunkIDs[k] = note.ID
		chunks[k] = domain.DocumentChunk{
			DocumentID: documentID,
			SegmentID:  s.idGen(),
			NodeID:     note.ID,
			Offset:     seg.Offset,
			Length:     seg.Length,
			ChunkOrder: k,
			Checksum:   checksum(seg.Text),
		}
	}

	var rootID string
	if includeRoot {
		root, err := s.Notes.CaptureNote(ctx, ingest.CaptureInput{
			Title: title,
			Body:  body,
			Metadata: domain.NoteMetadata{
				Origin:           domain.OriginImport,
				ParentDocumentID: documentID,
			},
		})
		if err != nil {
			return ImportResult{}, err
		}
		rootID = root.ID
	}

	canonicalBody := joinSegments(segments)
	now := s.now()
	doc := domain.Document{
		ID:         documentID,
		Title:      title,
		Body:       canonicalBody,
		Metadata:   meta,
		Version:    1,
		RootNodeID: rootID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Graph.SaveDocument(ctx, doc); err != nil {
		return ImportResult{}, err
	}
	for _, c := range chunks {
		if err := s.Graph.SaveChunk(ctx, c); err != nil {
			return ImportResult{}, err
		}
	}

	if err := s.buildStructuralEdges(ctx, rootID, chunkIDs); err != nil {
		return ImportResult{}, err
	}

	if meta.AutoLink {
		for _, id := range chunkIDs {
			if err := s.Linker.LinkOne(ctx, id); err != nil {
				return ImportResult{}, err
			}
		}
		if rootID != "" {
			if err := s.Linker.LinkOne(ctx, rootID); err != nil {
				return ImportResult{}, err
			}
		}
	}

	if err := s.emit(ctx, domain.EventDocumentImported, documentID, nil, documentAfterMap(doc)); err != nil {
		return ImportResult{}, err
	}
	return ImportResult{DocumentID: documentID, RootNodeID: rootID, ChunkNodeIDs: chunkIDs}, nil
}

// buildStructuralEdges creates root<->chunk parent edges and chunk[k]<->
// chunk[k+1] sequential edges, all with fixed score 1 and exempt from
// threshold policy (spec §4.G step 5).
func (s *Service) buildStructuralEdges(ctx context.Context, rootID string, chunkIDs []string) error {
	now := s.now()
	mkEdge := func(a, b string, edgeType domain.EdgeType) domain.Edge {
		src, tgt := domain.Endpoints(a, b)
		return domain.Edge{
			ID: s.idGen(), SourceID: src, TargetID: tgt,
			SemanticScore: 1, TagScore: 1, Score: 1,
			EdgeType:  edgeType,
			Metadata:  domain.EdgeMetadata{Reason: string(edgeType)},
			CreatedAt: now, UpdatedAt: now,
		}
	}
	if rootID != "" {
		for _, cid := range chunkIDs {
			if err := s.Graph.SaveEdge(ctx, mkEdge(rootID, cid, domain.EdgeStructuralParent)); err != nil {
				return err
			}
		}
	}
	for i := 0; i+1 < len(chunkIDs); i++ {
		if err := s.Graph.SaveEdge(ctx, mkEdge(chunkIDs[i], chunkIDs[i+1], domain.EdgeStructuralSequential)); err != nil {
			return err
		}
	}
	return nil
}

// SegmentPatch is one caller-supplied segment replacement for SegmentEdit.
type SegmentPatch struct {
	SegmentID  string
	NewContent string
}

// SegmentEdit applies a multi-segment patch: for each segment whose content
// checksum changed, updates the chunk note's body and rescores it; then
// recomputes offsets/lengths for every chunk and bumps the document version
// (spec §4.G "Segment edit").
func (s *Service) SegmentEdit(ctx context.Context, documentID string, patches []SegmentPatch) (domain.Document, error) {
	doc, err := s.Graph.GetDocument(ctx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	chunks, err := s.Graph.ListChunks(ctx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkOrder < chunks[j].ChunkOrder })

	byID := make(map[string]int, len(chunks))
	for i, c := range chunks {
		byID[c.SegmentID] = i
	}

	bodies := make([]string, len(chunks))
	notes := make([]domain.Note, len(chunks))
	for i, c := range chunks {
		note, err := s.Graph.GetNote(ctx, c.NodeID)
		if err != nil {
			return domain.Document{}, err
		}
		notes[i] = note
		bodies[i] = note.Body
	}

	var changed []int
	for _, p := range patches {
		i, ok := byID[p.SegmentID]
		if !ok {
			return domain.Document{}, domain.NewFieldError(domain.KindNotFound, "segment_id", "unknown segment "+p.SegmentID)
		}
		if checksum(p.NewContent) == chunks[i].Checksum {
			continue
		}
		bodies[i] = p.NewContent
		changed = append(changed, i)
	}

	for _, i := range changed {
		if _, err := s.Notes.UpdateNote(ctx, chunks[i].NodeID, ingest.UpdateInput{Body: &bodies[i]}); err != nil {
			return domain.Document{}, err
		}
		chunks[i].Checksum = checksum(bodies[i])
		if err := s.Linker.RescoreOne(ctx, chunks[i].NodeID); err != nil {
			return domain.Document{}, err
		}
	}

	offset := 0
	for i := range chunks {
		chunks[i].Offset = offset
		chunks[i].Length = len(bodies[i])
		offset += chunks[i].Length + len(domain.ChunkSeparator)
		if err := s.Graph.SaveChunk(ctx, chunks[i]); err != nil {
			return domain.Document{}, err
		}
	}

	doc.Body = strings.Join(bodies, domain.ChunkSeparator)
	doc.Version++
	doc.UpdatedAt = s.now()
	if err := s.Graph.SaveDocument(ctx, doc); err != nil {
		return domain.Document{}, err
	}
	if err := s.emit(ctx, domain.EventDocumentUpdated, documentID, nil, documentAfterMap(doc)); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

// ResyncAfterChunkEdit re-enters the pipeline after a caller updated a chunk
// note directly via updateNote rather than through SegmentEdit: it rebuilds
// offsets for the owning document and bumps its version. chunkOrder is
// unchanged, so sequential structural edges remain valid (spec §4.G "Chunk
// direct edit").
func (s *Service) ResyncAfterChunkEdit(ctx context.Context, chunkNodeID string) (domain.Document, error) {
	note, err := s.Graph.GetNote(ctx, chunkNodeID)
	if err != nil {
		return domain.Document{}, err
	}
	if note.Metadata.ParentDocumentID == "" {
		return domain.Document{}, domain.NewFieldError(domain.KindValidationFailed, "chunk_node_id", "note is not a document chunk")
	}
	documentID := note.Metadata.ParentDocumentID

	doc, err := s.Graph.GetDocument(ctx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	chunks, err := s.Graph.ListChunks(ctx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkOrder < chunks[j].ChunkOrder })

	bodies := make([]string, len(chunks))
	offset := 0
	for i, c := range chunks {
		body := note.Body
		if c.NodeID != chunkNodeID {
			n, err := s.Graph.GetNote(ctx, c.NodeID)
			if err != nil {
				return domain.Document{}, err
			}
			body = n.Body
		}
		bodies[i] = body
		chunks[i].Offset = offset
		chunks[i].Length = len(body)
		chunks[i].Checksum = checksum(body)
		offset += chunks[i].Length + len(domain.ChunkSeparator)
		if err := s.Graph.SaveChunk(ctx, chunks[i]); err != nil {
			return domain.Document{}, err
		}
	}

	doc.Body = strings.Join(bodies, domain.ChunkSeparator)
	doc.Version++
	doc.UpdatedAt = s.now()
	if err := s.Graph.SaveDocument(ctx, doc); err != nil {
		return domain.Document{}, err
	}
	if err := s.emit(ctx, domain.EventDocumentUpdated, documentID, nil, documentAfterMap(doc)); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

// Reorder swaps chunkOrder values to match newOrder (a permutation of the
// document's current chunk node IDs), reflows offsets, and rebuilds
// sequential structural edges; the chunk notes themselves are untouched
// (spec §4.G "Reorder").
func (s *Service) Reorder(ctx context.Context, documentID string, newOrder []string) (domain.Document, error) {
	doc, err := s.Graph.GetDocument(ctx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	chunks, err := s.Graph.ListChunks(ctx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	if len(newOrder) != len(chunks) {
		return domain.Document{}, domain.NewFieldError(domain.KindValidationFailed, "new_order", "must be a permutation of the current chunk set")
	}
	byNode := make(map[string]domain.DocumentChunk, len(chunks))
	for _, c := range chunks {
		byNode[c.NodeID] = c
	}
	ordered := make([]domain.DocumentChunk, len(newOrder))
	for i, nodeID := range newOrder {
		c, ok := byNode[nodeID]
		if !ok {
			return domain.Document{}, domain.NewFieldError(domain.KindValidationFailed, "new_order", "unknown chunk node id "+nodeID)
		}
		ordered[i] = c
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkOrder < chunks[j].ChunkOrder })
	for i := 0; i+1 < len(chunks); i++ {
		if err := s.Graph.DeleteEdge(ctx, chunks[i].NodeID, chunks[i+1].NodeID); err != nil {
			return domain.Document{}, err
		}
	}

	bodies := make([]string, len(ordered))
	offset := 0
	for i := range ordered {
		n, err := s.Graph.GetNote(ctx, ordered[i].NodeID)
		if err != nil {
			return domain.Document{}, err
		}
		bodies[i] = n.Body
		ordered[i].ChunkOrder = i
		ordered[i].Offset = offset
		ordered[i].Length = len(n.Body)
		offset += ordered[i].Length + len(domain.ChunkSeparator)
		if err := s.Graph.SaveChunk(ctx, ordered[i]); err != nil {
			return domain.Document{}, err
		}
	}

	chunkIDs := fn.Map(ordered, func(c domain.DocumentChunk) string { return c.NodeID })
	if err := s.buildStructuralEdges(ctx, "", chunkIDs); err != nil {
		return domain.Document{}, err
	}

	doc.Body = strings.Join(bodies, domain.ChunkSeparator)
	doc.Version++
	doc.UpdatedAt = s.now()
	if err := s.Graph.SaveDocument(ctx, doc); err != nil {
		return domain.Document{}, err
	}
	if err := s.emit(ctx, domain.EventDocumentUpdated, documentID, nil, documentAfterMap(doc)); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

// DeleteChunk removes one chunk note and its DocumentChunk row, compacts
// chunkOrder, and rebuilds sequential edges; if it was the last chunk, the
// whole document (and root node, if any) is deleted instead (spec §4.G
// "Delete a chunk").
func (s *Service) DeleteChunk(ctx context.Context, documentID, chunkNodeID string) (domain.Document, error) {
	chunks, err := s.Graph.ListChunks(ctx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkOrder < chunks[j].ChunkOrder })

	idx := -1
	for i, c := range chunks {
		if c.NodeID == chunkNodeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Document{}, domain.NewError(domain.KindNotFound, "chunk not found in document")
	}

	removed := chunks[idx]
	if err := s.Graph.DeleteChunk(ctx, documentID, removed.SegmentID); err != nil {
		return domain.Document{}, err
	}
	if err := s.Notes.DeleteChunkNote(ctx, chunkNodeID); err != nil {
		return domain.Document{}, err
	}
	remaining := append(chunks[:idx:idx], chunks[idx+1:]...)

	if len(remaining) == 0 {
		if err := s.DeleteDocument(ctx, documentID); err != nil {
			return domain.Document{}, err
		}
		return domain.Document{}, nil
	}

	chunkIDs := make([]string, len(remaining))
	offset := 0
	for i := range remaining {
		n, err := s.Graph.GetNote(ctx, remaining[i].NodeID)
		if err != nil {
			return domain.Document{}, err
		}
		remaining[i].ChunkOrder = i
		remaining[i].Offset = offset
		remaining[i].Length = len(n.Body)
		offset += remaining[i].Length + len(domain.ChunkSeparator)
		chunkIDs[i] = remaining[i].NodeID
		if err := s.Graph.SaveChunk(ctx, remaining[i]); err != nil {
			return domain.Document{}, err
		}
	}
	if err := s.buildStructuralEdges(ctx, "", chunkIDs); err != nil {
		return domain.Document{}, err
	}

	doc, err := s.Graph.GetDocument(ctx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	bodies := make([]string, len(remaining))
	for i, c := range remaining {
		n, err := s.Graph.GetNote(ctx, c.NodeID)
		if err != nil {
			return domain.Document{}, err
		}
		bodies[i] = n.Body
	}
	doc.Body = strings.Join(bodies, domain.ChunkSeparator)
	doc.Version++
	doc.UpdatedAt = s.now()
	if err := s.Graph.SaveDocument(ctx, doc); err != nil {
		return domain.Document{}, err
	}
	if err := s.emit(ctx, domain.EventDocumentUpdated, documentID, nil, documentAfterMap(doc)); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

// DeleteDocument removes every chunk note, the root note if present, and
// the Document record itself — the only path allowed to delete a chunk or
// root note (spec §9 open question 4).
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := s.Graph.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	chunks, err := s.Graph.ListChunks(ctx, documentID)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if err := s.Notes.DeleteChunkNote(ctx, c.NodeID); err != nil {
			return err
		}
	}
	if doc.RootNodeID != "" {
		if err := s.Notes.DeleteChunkNote(ctx, doc.RootNodeID); err != nil {
			return err
		}
	}
	if err := s.Graph.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	return s.emit(ctx, domain.EventDocumentUpdated, documentID, documentAfterMap(doc), nil)
}

// BackfillResult summarizes a backfill run.
type BackfillResult struct {
	DocumentsSynthesized int
	ChunksSynthesized    int
}

// Backfill scans every chunk note whose ParentDocumentID has no Document
// record and synthesizes a canonical Document record from those chunks. Idempotent: a document already
// present for a ParentDocumentID is left untouched (spec §4.G "Backfill").
func (s *Service) Backfill(ctx context.Context) (BackfillResult, error) {
	var result BackfillResult
	const pageSize = 200
	offset := 0
	byDocument := make(map[string][]domain.Note)

	for {
		notes, err := s.Graph.ListNotes(ctx, offset, pageSize)
		if err != nil {
			return result, err
		}
		if len(notes) == 0 {
			break
		}
		for _, n := range notes {
			if n.Metadata.IsChunk && n.Metadata.ParentDocumentID != "" {
				byDocument[n.Metadata.ParentDocumentID] = append(byDocument[n.Metadata.ParentDocumentID], n)
			}
		}
		offset += len(notes)
	}

	for documentID, notes := range byDocument {
		if _, err := s.Graph.GetDocument(ctx, documentID); err == nil {
			continue // already has a canonical document row
		}
		sort.Slice(notes, func(i, j int) bool {
			oi, oj := chunkOrderOf(notes[i]), chunkOrderOf(notes[j])
			return oi < oj
		})
		bodies := make([]string, len(notes))
		chunkIDs := make([]string, len(notes))
		offset := 0
		now := s.now()
		for i, n := range notes {
			bodies[i] = n.Body
			chunkIDs[i] = n.ID
			c := domain.DocumentChunk{
				DocumentID: documentID,
				SegmentID:  s.idGen(),
				NodeID:     n.ID,
				Offset:     offset,
				Length:     len(n.Body),
				ChunkOrder: i,
				Checksum:   checksum(n.Body),
			}
			offset += c.Length + len(domain.ChunkSeparator)
			if err := s.Graph.SaveChunk(ctx, c); err != nil {
				return result, err
			}
			result.ChunksSynthesized++
		}
		doc := domain.Document{
			ID:        documentID,
			Title:     notes[0].Title,
			Body:      strings.Join(bodies, domain.ChunkSeparator),
			Metadata:  domain.DocumentMetadata{Strategy: domain.ChunkBySize},
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.Graph.SaveDocument(ctx, doc); err != nil {
			return result, err
		}
		result.DocumentsSynthesized++
	}
	return result, nil
}

func chunkOrderOf(n domain.Note) int {
	if n.Metadata.ChunkOrder != nil {
		return *n.Metadata.ChunkOrder
	}
	return 0
}

func joinSegments(segments []segment) string {
	parts := make([]string, len(segments))
	for i, seg := range segments {
		parts[i] = seg.Text
	}
	return strings.Join(parts, domain.ChunkSeparator)
}

func (s *Service) emit(ctx context.Context, kind domain.EventKind, entityID string, before, after map[string]any) error {
	ev := domain.Event{Kind: kind, EntityID: entityID, Before: before, After: after, At: s.now()}
	seq, err := s.Graph.AppendEvent(ctx, ev)
	if err != nil {
		return err
	}
	ev.Sequence = seq
	if s.Bus == nil {
		return nil
	}
	return s.Bus.Publish(ctx, ev)
}

func documentAfterMap(d domain.Document) map[string]any {
	return map[string]any{
		"id":      d.ID,
		"title":   d.Title,
		"version": d.Version,
	}
}
