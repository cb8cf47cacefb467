// Package ingest implements note capture, update, and deletion: the
// normalize→embed→store→link composition every higher-level operation
// (document chunks, admin batch jobs, the HTTP surface) is built from.
// Grounded on engine/ingest/ingest.go's fn.Stage pipeline composition,
// generalized from scraped-post ingestion to note CRUD.
package ingest

import (
	"context"
	"time"

	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/internal/embed"
	"github.com/bwl/forest/internal/normalize"
	"github.com/bwl/forest/internal/store"
	"github.com/google/uuid"
)

// noteGraph abstracts the store.GraphStore operations this package needs,
// following internal/linking's narrow-interface convention so tests can
// supply an in-memory fake.
type noteGraph interface {
	GetNote(ctx context.Context, id string) (domain.Note, error)
	SaveNote(ctx context.Context, n domain.Note) error
	DeleteNote(ctx context.Context, id string) error
	AppendEvent(ctx context.Context, e domain.Event) (int64, error)
}

// vectorStore abstracts store.VectorIndex.
type vectorStore interface {
	Upsert(ctx context.Context, vectors []store.NoteVector) error
	Delete(ctx context.Context, noteID string) error
}

// linker abstracts internal/linking.Engine's candidate-search path.
type linker interface {
	LinkOne(ctx context.Context, noteID string) error
}

// eventPublisher abstracts internal/events.Bus.Publish.
type eventPublisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

// Service composes the note-lifecycle pipeline. Vectors, bus, and linker may
// be nil to disable embeddings, live publishing, or auto-linking
// respectively (e.g. during backfill or a document segment edit that defers
// linking to a batch call).
type Service struct {
	Graph    noteGraph
	Vectors  vectorStore
	Embedder embed.Provider
	Linker   linker
	Bus      eventPublisher
	Config   domain.Config
	IDGen    func() string
	Now      func() time.Time
}

// NewID generates an opaque note/edge/document identifier. Grounded on
// intelligencedev-manifold's uuid.New()-per-entity convention — Qdrant point
// IDs in internal/store/vector.go require a UUID string, so note IDs are
// UUIDs for the whole system, not just a display-layer convenience.
func NewID() string { return uuid.NewString() }

func (s *Service) idGen() string {
	if s.IDGen != nil {
		return s.IDGen()
	}
	return NewID()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CaptureInput is the caller-supplied content for a new note.
type CaptureInput struct {
	Title    string
	Body     string
	Tags     []string
	Metadata domain.NoteMetadata
}

// CaptureNote normalizes, embeds, and persists a new note, then runs the
// linking engine's full candidate search against it (spec §4.F "Incremental
// path on note update" applies equally to brand-new notes — a fresh note has
// no neighbors yet, so the candidate set is just top-K-embedding ∪
// tag-sharing).
func (s *Service) CaptureNote(ctx context.Context, in CaptureInput) (domain.Note, error) {
	if err := domain.ValidateNoteInput(in.Title, in.Body); err != nil {
		return domain.Note{}, err
	}
	meta := in.Metadata
	if meta.Origin == "" {
		meta.Origin = domain.OriginCapture
	}
	if meta.CreatedBy == "" {
		meta.CreatedBy = domain.CreatedByUser
	}

	norm := normalize.Normalize(in.Title, in.Body, in.Tags)
	now := s.now()
	note := domain.Note{
		ID:          s.idGen(),
		Title:       in.Title,
		Body:        in.Body,
		Tags:        norm.Tags,
		TokenCounts: norm.TokenCounts,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.embedInto(ctx, &note, norm.CanonicalText); err != nil {
		return domain.Note{}, err
	}

	if err := s.Graph.SaveNote(ctx, note); err != nil {
		return domain.Note{}, err
	}
	if err := s.syncVector(ctx, note); err != nil {
		return domain.Note{}, err
	}
	if err := s.emit(ctx, domain.EventNodeCreated, note.ID, nil, noteAfterMap(note)); err != nil {
		return domain.Note{}, err
	}
	if s.Linker != nil {
		if err := s.Linker.LinkOne(ctx, note.ID); err != nil {
			return domain.Note{}, err
		}
	}
	return note, nil
}

// UpdateInput is a partial patch; nil fields are left unchanged.
type UpdateInput struct {
	Title *string
	Body  *string
	Tags  *[]string
}

// UpdateNote applies a patch, re-derives tags/tokenCounts/canonical text
// (spec §3 Note invariant: "always consistent with the current title+body"),
// re-embeds, persists, and re-links.
func (s *Service) UpdateNote(ctx context.Context, id string, in UpdateInput) (domain.Note, error) {
	note, err := s.Graph.GetNote(ctx, id)
	if err != nil {
		return domain.Note{}, err
	}
	before := noteAfterMap(note)

	title, body := note.Title, note.Body
	if in.Title != nil {
		title = *in.Title
	}
	if in.Body != nil {
		body = *in.Body
	}
	if err := domain.ValidateNoteInput(title, body); err != nil {
		return domain.Note{}, err
	}
	// Re-deriving tags needs an "explicit" seed; note.Tags already contains
	// both explicit and hashtag-derived tags from the prior write, and
	// re-merging it with freshly-extracted hashtags is idempotent.
	explicitTags := note.Tags
	if in.Tags != nil {
		explicitTags = *in.Tags
	}

	norm := normalize.Normalize(title, body, explicitTags)
	note.Title = title
	note.Body = body
	note.Tags = norm.Tags
	note.TokenCounts = norm.TokenCounts
	note.UpdatedAt = s.now()

	if err := s.embedInto(ctx, &note, norm.CanonicalText); err != nil {
		return domain.Note{}, err
	}

	if err := s.Graph.SaveNote(ctx, note); err != nil {
		return domain.Note{}, err
	}
	if err := s.syncVector(ctx, note); err != nil {
		return domain.Note{}, err
	}
	if err := s.emit(ctx, domain.EventNodeUpdated, note.ID, before, noteAfterMap(note)); err != nil {
		return domain.Note{}, err
	}
	if s.Linker != nil {
		if err := s.Linker.LinkOne(ctx, note.ID); err != nil {
			return domain.Note{}, err
		}
	}
	return note, nil
}

// DeleteNote removes a note and its incident edges. Chunk and root notes
// belonging to a document are refused here — document.DeleteDocument owns
// that lifecycle (spec §9 open question 4).
func (s *Service) DeleteNote(ctx context.Context, id string) error {
	note, err := s.Graph.GetNote(ctx, id)
	if err != nil {
		return err
	}
	if note.Metadata.ParentDocumentID != "" {
		return domain.NewFieldError(domain.KindDocumentIntegrityViolation, "id",
			"note belongs to a document; delete it via the document pipeline")
	}

	if err := s.Graph.DeleteNote(ctx, id); err != nil {
		return err
	}
	if s.Vectors != nil && note.HasEmbedding() {
		if err := s.Vectors.Delete(ctx, id); err != nil {
			return err
		}
	}
	return s.emit(ctx, domain.EventNodeDeleted, id, noteAfterMap(note), nil)
}

// DeleteChunkNote removes a chunk or root note without the ParentDocumentID
// guard DeleteNote applies. Only internal/document calls this, since it is
// the one caller authorized to manage a document's chunk lifecycle.
func (s *Service) DeleteChunkNote(ctx context.Context, id string) error {
	note, err := s.Graph.GetNote(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Graph.DeleteNote(ctx, id); err != nil {
		return err
	}
	if s.Vectors != nil && note.HasEmbedding() {
		if err := s.Vectors.Delete(ctx, id); err != nil {
			return err
		}
	}
	return s.emit(ctx, domain.EventNodeDeleted, id, noteAfterMap(note), nil)
}

// embedInto sets note.Embedding/EmbeddingModel from the configured provider,
// degrading to absent (both fields empty/nil) on provider unavailability or
// exhausted retries per spec §4.B, rather than failing the whole write.
func (s *Service) embedInto(ctx context.Context, note *domain.Note, canonicalText string) error {
	if s.Embedder == nil {
		return nil
	}
	vec, err := s.Embedder.Embed(ctx, canonicalText)
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindEmbeddingUnavailable, domain.KindProviderRateLimited:
			note.Embedding = nil
			note.EmbeddingModel = ""
			return nil
		default:
			return err
		}
	}
	if err := domain.ValidateEmbeddingDimension(vec, s.Embedder.Dimension()); err != nil {
		return err
	}
	note.Embedding = vec
	note.EmbeddingModel = s.Embedder.ModelID()
	return nil
}

func (s *Service) syncVector(ctx context.Context, note domain.Note) error {
	if s.Vectors == nil {
		return nil
	}
	if !note.HasEmbedding() {
		return s.Vectors.Delete(ctx, note.ID)
	}
	return s.Vectors.Upsert(ctx, []store.NoteVector{{
		NoteID:    note.ID,
		Embedding: note.Embedding,
		Tags:      note.Tags,
		Origin:    string(note.Metadata.Origin),
		CreatedBy: string(note.Metadata.CreatedBy),
	}})
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

func noteAfterMap(n domain.Note) map[string]any {
	return map[string]any{
		"id":    n.ID,
		"title": n.Title,
		"tags":  n.Tags,
	}
}
