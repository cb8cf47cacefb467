package ingest

import (
	"context"
	"testing"

	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/internal/store"
)

type fakeGraph struct {
	notes  map[string]domain.Note
	events []domain.Event
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{notes: map[string]domain.Note{}}
}

func (f *fakeGraph) GetNote(ctx context.Context, id string) (domain.Note, error) {
	n, ok := f.notes[id]
	if !ok {
		return domain.Note{}, domain.NewError(domain.KindNotFound, "note not found")
	}
	return n, nil
}

func (f *fakeGraph) SaveNote(ctx context.Context, n domain.Note) error {
	f.notes[n.ID] = n
	return nil
}

func (f *fakeGraph) DeleteNote(ctx context.Context, id string) error {
	delete(f.notes, id)
	return nil
}

func (f *fakeGraph) AppendEvent(ctx context.Context, e domain.Event) (int64, error) {
	e.Sequence = int64(len(f.events) + 1)
	f.events = append(f.events, e)
	return e.Sequence, nil
}

type fakeVectors struct {
	upserts []store.NoteVector
	deleted []string
}

func (v *fakeVectors) Upsert(ctx context.Context, vectors []store.NoteVector) error {
	v.upserts = append(v.upserts, vectors...)
	return nil
}

func (v *fakeVectors) Delete(ctx context.Context, noteID string) error {
	v.deleted = append(v.deleted, noteID)
	return nil
}

type fakeLinker struct{ linked []string }

func (l *fakeLinker) LinkOne(ctx context.Context, noteID string) error {
	l.linked = append(l.linked, noteID)
	return nil
}

type stubEmbedder struct{ dim int }

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, s.dim)
	v[0] = 1
	return v, nil
}
func (s stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = s.Embed(ctx, texts[i])
	}
	return out, nil
}
func (s stubEmbedder) ModelID() string { return "stub-v1" }
func (s stubEmbedder) Dimension() int  { return s.dim }

func newService() (*Service, *fakeGraph, *fakeVectors, *fakeLinker) {
	g := newFakeGraph()
	v := &fakeVectors{}
	l := &fakeLinker{}
	svc := &Service{
		Graph:    g,
		Vectors:  v,
		Embedder: stubEmbedder{dim: 4},
		Linker:   l,
		Config:   domain.DefaultConfig(),
	}
	return svc, g, v, l
}

func TestCaptureNoteNormalizesEmbedsLinksAndPersists(t *testing.T) {
	svc, g, v, l := newService()
	note, err := svc.CaptureNote(context.Background(), CaptureInput{
		Title: "Hello #world", Body: "Body text with #link/bridge tag.",
	})
	if err != nil {
		t.Fatalf("CaptureNote: %v", err)
	}
	if note.ID == "" {
		t.Fatal("expected a generated ID")
	}
	if len(note.Tags) != 2 {
		t.Fatalf("expected 2 derived tags, got %v", note.Tags)
	}
	if !note.HasEmbedding() {
		t.Fatal("expected an embedding to be set")
	}
	if _, ok := g.notes[note.ID]; !ok {
		t.Fatal("expected note to be persisted")
	}
	if len(v.upserts) != 1 {
		t.Fatalf("expected one vector upsert, got %d", len(v.upserts))
	}
	if len(l.linked) != 1 || l.linked[0] != note.ID {
		t.Fatalf("expected LinkOne called with new note id, got %v", l.linked)
	}
	if len(g.events) != 1 || g.events[0].Kind != domain.EventNodeCreated {
		t.Fatalf("expected one node.created event, got %v", g.events)
	}
}

func TestCaptureNoteRejectsEmptyTitle(t *testing.T) {
	svc, _, _, _ := newService()
	_, err := svc.CaptureNote(context.Background(), CaptureInput{Title: "  ", Body: "x"})
	if domain.KindOf(err) != domain.KindValidationFailed {
		t.Fatalf("expected validation_failed, got %v", err)
	}
}

func TestUpdateNoteRederivesTagsAndTokenCounts(t *testing.T) {
	svc, _, _, _ := newService()
	ctx := context.Background()
	note, err := svc.CaptureNote(ctx, CaptureInput{Title: "Original", Body: "Body #one"})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	newBody := "Body #two now"
	updated, err := svc.UpdateNote(ctx, note.ID, UpdateInput{Body: &newBody})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	found := false
	for _, tag := range updated.Tags {
		if tag == "two" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected re-derived tag 'two', got %v", updated.Tags)
	}
	if updated.TokenCounts["two"] == 0 {
		t.Fatalf("expected token counts rederived, got %v", updated.TokenCounts)
	}
}

func TestDeleteNoteRefusesDocumentChunk(t *testing.T) {
	svc, g, _, _ := newService()
	ctx := context.Background()
	note, err := svc.CaptureNote(ctx, CaptureInput{Title: "Chunk", Body: "body"})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	n := g.notes[note.ID]
	n.Metadata.ParentDocumentID = "doc-1"
	g.notes[note.ID] = n

	err = svc.DeleteNote(ctx, note.ID)
	if domain.KindOf(err) != domain.KindDocumentIntegrityViolation {
		t.Fatalf("expected document_integrity_violation, got %v", err)
	}
}

func TestDeleteNoteCascadesVectorAndEvent(t *testing.T) {
	svc, g, v, _ := newService()
	ctx := context.Background()
	note, err := svc.CaptureNote(ctx, CaptureInput{Title: "Solo", Body: "body"})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := svc.DeleteNote(ctx, note.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := g.notes[note.ID]; ok {
		t.Fatal("expected note removed")
	}
	if len(v.deleted) != 1 || v.deleted[0] != note.ID {
		t.Fatalf("expected vector deleted for note, got %v", v.deleted)
	}
	if g.events[len(g.events)-1].Kind != domain.EventNodeDeleted {
		t.Fatal("expected node.deleted event")
	}
}
