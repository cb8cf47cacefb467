package store

import (
	"context"
	"testing"
	"time"

	"github.com/bwl/forest/internal/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

func TestSanitizeRelType(t *testing.T) {
	tests := []struct{ input, want string }{
		{"semantic", "SEMANTIC"},
		{"structural-parent", "STRUCTURAL_PARENT"},
		{"bridge-tag", "BRIDGE_TAG"},
		{"", "RELATED_TO"},
		{"---", "RELATED_TO"},
		{"ALREADY_UPPER", "ALREADY_UPPER"},
	}
	for _, tt := range tests {
		if got := sanitizeRelType(tt.input); got != tt.want {
			t.Errorf("sanitizeRelType(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNoteMapRoundTrip(t *testing.T) {
	order := 2
	n := domain.Note{
		ID:    "n1",
		Title: "Title",
		Body:  "Body text",
		Tags:  []string{"alpha", "beta"},
		Metadata: domain.NoteMetadata{
			Origin:           domain.OriginCapture,
			CreatedBy:        domain.CreatedByUser,
			ParentDocumentID: "doc1",
			ChunkOrder:       &order,
			IsChunk:          true,
		},
		Embedding:      []float32{0.1, 0.2, 0.3},
		EmbeddingModel: "mock-v1",
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	props := noteToMap(n)
	rec := makeNodeRecord("n", props)
	got, err := noteFromRecord(rec)
	if err != nil {
		t.Fatalf("noteFromRecord: %v", err)
	}
	if got.ID != n.ID || got.Title != n.Title || got.Body != n.Body {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "alpha" {
		t.Fatalf("tags mismatch: %v", got.Tags)
	}
	if got.Metadata.ChunkOrder == nil || *got.Metadata.ChunkOrder != 2 {
		t.Fatalf("chunk order mismatch: %+v", got.Metadata.ChunkOrder)
	}
	if len(got.Embedding) != 3 {
		t.Fatalf("embedding mismatch: %v", got.Embedding)
	}
}

func TestEdgeMapRoundTrip(t *testing.T) {
	e := domain.Edge{
		ID:            "e1",
		SourceID:      "n1",
		TargetID:      "n2",
		SemanticScore: 0.8,
		TagScore:      0.5,
		Score:         0.71,
		EdgeType:      domain.EdgeSemantic,
		Metadata: domain.EdgeMetadata{
			Reason: "shared tags",
			Components: domain.ScoreComponents{
				EmbeddingSimilarity: 0.9,
				TokenSimilarity:     0.4,
				TitleSimilarity:     0.3,
				TagOverlap:          0.5,
				SharedTags:          []string{"x"},
			},
		},
	}
	props := edgeToMap(e)
	rec := makeRelRecord("r", props)
	got, err := edgeFromRecord(rec)
	if err != nil {
		t.Fatalf("edgeFromRecord: %v", err)
	}
	if got.ID != e.ID || got.SourceID != e.SourceID || got.TargetID != e.TargetID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Score != e.Score {
		t.Fatalf("score mismatch: %v != %v", got.Score, e.Score)
	}
	if len(got.Metadata.Components.SharedTags) != 1 {
		t.Fatalf("shared tags mismatch: %v", got.Metadata.Components.SharedTags)
	}
}

func TestGetNoteNotFound(t *testing.T) {
	g := &GraphStore{opener: &mockOpener{session: &mockSession{result: newMockResult()}}}
	_, err := g.GetNote(context.Background(), "missing")
	if domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestGetNoteFound(t *testing.T) {
	n := domain.Note{ID: "n1", Title: "T", Body: "B", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	rec := makeNodeRecord("n", noteToMap(n))
	g := &GraphStore{opener: &mockOpener{session: &mockSession{result: newMockResult(rec)}}}
	got, err := g.GetNote(context.Background(), "n1")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if got.ID != "n1" {
		t.Fatalf("expected n1, got %s", got.ID)
	}
}

// --- test doubles mirroring engine/graph/graph_test.go's mock session shape ---

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func newMockResult(records ...*neo4j.Record) *mockResult { return &mockResult{records: records} }

func (r *mockResult) Next(_ context.Context) bool {
	if r.idx < len(r.records) {
		r.idx++
		return true
	}
	return false
}

func (r *mockResult) Record() *neo4j.Record {
	if r.idx <= 0 || r.idx > len(r.records) {
		return nil
	}
	return r.records[r.idx-1]
}

type mockSession struct {
	result   CypherResult
	runErr   error
	writeErr error
}

func (s *mockSession) Run(_ context.Context, _ string, _ map[string]any) (CypherResult, error) {
	return s.result, s.runErr
}

func (s *mockSession) Close(_ context.Context) error { return nil }

func (s *mockSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	return work(&mockTx{result: s.result})
}

type mockTx struct {
	result CypherResult
}

func (t *mockTx) Run(_ context.Context, _ string, _ map[string]any) (CypherResult, error) {
	return t.result, nil
}

type mockOpener struct {
	session *mockSession
}

func (o *mockOpener) OpenSession(_ context.Context) Session { return o.session }

func makeNodeRecord(key string, props map[string]any) *neo4j.Record {
	node := dbtype.Node{Props: props}
	return &neo4j.Record{Keys: []string{key}, Values: []any{node}}
}

func makeRelRecord(key string, props map[string]any) *neo4j.Record {
	rel := dbtype.Relationship{Props: props}
	return &neo4j.Record{Keys: []string{key}, Values: []any{rel}}
}
