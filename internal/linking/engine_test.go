package linking

import (
	"context"
	"testing"
	"time"

	"github.com/bwl/forest/internal/domain"
)

// fakeGraph is an in-memory noteGraph double, grounded on the
// engine/rag.Service narrow-interface pattern used to keep orchestration
// logic testable without a live Neo4j session.
type fakeGraph struct {
	notes  map[string]domain.Note
	edges  map[[2]string]domain.Edge
	events []domain.Event
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		notes: map[string]domain.Note{},
		edges: map[[2]string]domain.Edge{},
	}
}

func edgeKey(a, b string) [2]string {
	x, y := domain.Endpoints(a, b)
	return [2]string{x, y}
}

func (f *fakeGraph) GetNote(ctx context.Context, id string) (domain.Note, error) {
	n, ok := f.notes[id]
	if !ok {
		return domain.Note{}, domain.NewError(domain.KindNotFound, "note not found")
	}
	return n, nil
}

func (f *fakeGraph) ListNotes(ctx context.Context, offset, limit int) ([]domain.Note, error) {
	var ids []string
	for id := range f.notes {
		ids = append(ids, id)
	}
	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	var out []domain.Note
	for _, id := range ids[offset:end] {
		out = append(out, f.notes[id])
	}
	return out, nil
}

func (f *fakeGraph) Neighbors(ctx context.Context, noteID string) ([]domain.Edge, error) {
	var out []domain.Edge
	for _, e := range f.edges {
		if e.SourceID == noteID || e.TargetID == noteID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeGraph) NotesSharingTags(ctx context.Context, tags []string, excludeID string) ([]string, error) {
	want := map[string]bool{}
	for _, t := range tags {
		want[t] = true
	}
	var out []string
	for id, n := range f.notes {
		if id == excludeID {
			continue
		}
		for _, t := range n.Tags {
			if want[t] {
				out = append(out, id)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeGraph) SaveEdge(ctx context.Context, e domain.Edge) error {
	f.edges[edgeKey(e.SourceID, e.TargetID)] = e
	return nil
}

func (f *fakeGraph) GetEdge(ctx context.Context, sourceID, targetID string) (domain.Edge, bool, error) {
	e, ok := f.edges[edgeKey(sourceID, targetID)]
	return e, ok, nil
}

func (f *fakeGraph) DeleteEdge(ctx context.Context, sourceID, targetID string) error {
	delete(f.edges, edgeKey(sourceID, targetID))
	return nil
}

func (f *fakeGraph) AppendEvent(ctx context.Context, e domain.Event) (int64, error) {
	e.Sequence = int64(len(f.events) + 1)
	f.events = append(f.events, e)
	return e.Sequence, nil
}

// fakeBus records published events without a live NATS connection.
type fakeBus struct {
	published []domain.Event
}

func (b *fakeBus) Publish(ctx context.Context, e domain.Event) error {
	b.published = append(b.published, e)
	return nil
}

func testConfig() domain.Config {
	cfg := domain.DefaultConfig()
	cfg.AcceptThreshold = 0.6
	cfg.SuggestThreshold = 0.3
	return cfg
}

func fixedID(id string) func() string {
	return func() string { return id }
}

func noteWithTags(id string, tags ...string) domain.Note {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.Note{ID: id, Title: id, Tags: tags, CreatedAt: now, UpdatedAt: now}
}

func TestLinkOneCreatesEdgeAboveAcceptThreshold(t *testing.T) {
	g := newFakeGraph()
	// Identical tags alone give 0.3*1 = 0.3 under the default weights, below
	// the 0.6 accept threshold; identical embeddings add 0.7*0.6*1 = 0.42,
	// for a score of 0.72.
	a := noteWithTags("a", "go", "graphs")
	a.Embedding = []float32{1, 0}
	b := noteWithTags("b", "go", "graphs")
	b.Embedding = []float32{1, 0}
	g.notes["a"] = a
	g.notes["b"] = b
	bus := &fakeBus{}
	e := New(g, nil, bus, testConfig(), fixedID("edge-1"))

	if err := e.LinkOne(context.Background(), "a"); err != nil {
		t.Fatalf("LinkOne: %v", err)
	}
	edge, ok, err := g.GetEdge(context.Background(), "a", "b")
	if err != nil || !ok {
		t.Fatalf("expected edge a-b, got ok=%v err=%v", ok, err)
	}
	if edge.EdgeType != domain.EdgeSemantic {
		t.Fatalf("expected semantic edge, got %s", edge.EdgeType)
	}
	if len(bus.published) != 1 || bus.published[0].Kind != domain.EventEdgeCreated {
		t.Fatalf("expected one edge.created event, got %+v", bus.published)
	}
	if len(g.events) != 1 {
		t.Fatalf("expected event appended to durable log, got %d", len(g.events))
	}
}

func TestLinkOneSkipsBelowSuggestThreshold(t *testing.T) {
	g := newFakeGraph()
	g.notes["a"] = noteWithTags("a", "go")
	g.notes["b"] = noteWithTags("b", "cooking")
	e := New(g, nil, nil, testConfig(), fixedID("edge-1"))

	if err := e.LinkOne(context.Background(), "a"); err != nil {
		t.Fatalf("LinkOne: %v", err)
	}
	if _, ok, _ := g.GetEdge(context.Background(), "a", "b"); ok {
		t.Fatalf("expected no edge between unrelated notes")
	}
}

func TestRescoreOneRemovesEdgeThatDropsBelowSuggest(t *testing.T) {
	g := newFakeGraph()
	g.notes["a"] = noteWithTags("a", "go")
	g.notes["b"] = noteWithTags("b", "cooking")
	g.edges[edgeKey("a", "b")] = domain.Edge{ID: "edge-1", SourceID: "a", TargetID: "b", EdgeType: domain.EdgeSemantic, Score: 0.9}
	e := New(g, nil, nil, testConfig(), fixedID("edge-1"))

	if err := e.RescoreOne(context.Background(), "a"); err != nil {
		t.Fatalf("RescoreOne: %v", err)
	}
	if _, ok, _ := g.GetEdge(context.Background(), "a", "b"); ok {
		t.Fatalf("expected stale edge to be removed")
	}
}

func TestRescoreOneSkipsManualEdges(t *testing.T) {
	g := newFakeGraph()
	g.notes["a"] = noteWithTags("a", "go")
	g.notes["b"] = noteWithTags("b", "cooking")
	g.edges[edgeKey("a", "b")] = domain.Edge{ID: "edge-1", SourceID: "a", TargetID: "b", EdgeType: domain.EdgeManual, Score: 1}
	e := New(g, nil, nil, testConfig(), fixedID("edge-1"))

	if err := e.RescoreOne(context.Background(), "a"); err != nil {
		t.Fatalf("RescoreOne: %v", err)
	}
	edge, ok, _ := g.GetEdge(context.Background(), "a", "b")
	if !ok || edge.EdgeType != domain.EdgeManual {
		t.Fatalf("expected manual edge to survive rescoring untouched, got ok=%v edge=%+v", ok, edge)
	}
}

func TestManualLinkAndUnlink(t *testing.T) {
	g := newFakeGraph()
	g.notes["a"] = noteWithTags("a")
	g.notes["b"] = noteWithTags("b")
	e := New(g, nil, nil, testConfig(), fixedID("manual-1"))

	edge, err := e.ManualLink(context.Background(), "a", "b", "related reading")
	if err != nil {
		t.Fatalf("ManualLink: %v", err)
	}
	if edge.EdgeType != domain.EdgeManual || edge.Score != 1 {
		t.Fatalf("unexpected manual edge: %+v", edge)
	}

	if err := e.Unlink(context.Background(), "a", "b"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if _, ok, _ := g.GetEdge(context.Background(), "a", "b"); ok {
		t.Fatalf("expected manual edge removed after Unlink")
	}
}

func TestManualLinkRejectsSelfLink(t *testing.T) {
	g := newFakeGraph()
	g.notes["a"] = noteWithTags("a")
	e := New(g, nil, nil, testConfig(), fixedID("manual-1"))

	if _, err := e.ManualLink(context.Background(), "a", "a", "x"); err == nil {
		t.Fatalf("expected error linking a note to itself")
	}
}

func TestUnlinkRejectsStructuralEdge(t *testing.T) {
	g := newFakeGraph()
	g.notes["a"] = noteWithTags("a")
	g.notes["b"] = noteWithTags("b")
	g.edges[edgeKey("a", "b")] = domain.Edge{ID: "e1", SourceID: "a", TargetID: "b", EdgeType: domain.EdgeStructuralParent}
	e := New(g, nil, nil, testConfig(), fixedID("x"))

	if err := e.Unlink(context.Background(), "a", "b"); domain.KindOf(err) != domain.KindConflictingState {
		t.Fatalf("expected conflicting_state error, got %v", err)
	}
}

func TestSuggestionsReturnsOnlyMidBandScores(t *testing.T) {
	g := newFakeGraph()
	g.notes["a"] = noteWithTags("a", "go")
	g.notes["b"] = noteWithTags("b", "go")
	g.notes["c"] = noteWithTags("c", "cooking")
	e := New(g, nil, nil, testConfig(), fixedID("x"))

	suggestions, err := e.Suggestions(context.Background(), "a", 10)
	if err != nil {
		t.Fatalf("Suggestions: %v", err)
	}
	for _, s := range suggestions {
		if s.NoteID == "c" {
			t.Fatalf("unrelated note should not be suggested: %+v", s)
		}
	}
}

func TestSuggestionsRespectsLimit(t *testing.T) {
	g := newFakeGraph()
	g.notes["a"] = noteWithTags("a", "go")
	for _, id := range []string{"b", "c", "d"} {
		g.notes[id] = noteWithTags(id, "go")
	}
	cfg := testConfig()
	cfg.AcceptThreshold = 0.99
	cfg.SuggestThreshold = 0.01
	e := New(g, nil, nil, cfg, fixedID("x"))

	suggestions, err := e.Suggestions(context.Background(), "a", 2)
	if err != nil {
		t.Fatalf("Suggestions: %v", err)
	}
	if len(suggestions) > 2 {
		t.Fatalf("expected at most 2 suggestions, got %d", len(suggestions))
	}
}
