package temporal

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/internal/store"
)

type fakeGraph struct {
	counts    store.GraphCounts
	snapshots []domain.Snapshot
	events    []domain.Event
	nextSeq   int64
}

func (f *fakeGraph) CountsAndDigests(ctx context.Context) (store.GraphCounts, error) {
	return f.counts, nil
}

func (f *fakeGraph) SaveSnapshot(ctx context.Context, s domain.Snapshot) error {
	f.snapshots = append(f.snapshots, s)
	return nil
}

func (f *fakeGraph) ListSnapshots(ctx context.Context, limit int) ([]domain.Snapshot, error) {
	out := append([]domain.Snapshot(nil), f.snapshots...)
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeGraph) LatestEventSequence(ctx context.Context) (int64, error) {
	return f.nextSeq, nil
}

func (f *fakeGraph) EventsSince(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	var out []domain.Event
	for _, ev := range f.events {
		if ev.Sequence > cursor {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeGraph) AppendEvent(ctx context.Context, e domain.Event) (int64, error) {
	f.nextSeq++
	e.Sequence = f.nextSeq
	f.events = append(f.events, e)
	return f.nextSeq, nil
}

func TestCreateSnapshotStampsCursorAndEmits(t *testing.T) {
	g := &fakeGraph{counts: store.GraphCounts{NodeCount: 3, EdgeCount: 2, TagCount: 1}, nextSeq: 5}
	svc := &Service{Graph: g}

	snap, err := svc.CreateSnapshot(context.Background(), domain.SnapshotManual)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if snap.ReplayCursor != 5 {
		t.Fatalf("expected replay cursor stamped at current sequence, got %d", snap.ReplayCursor)
	}
	if snap.NodeCount != 3 || snap.EdgeCount != 2 || snap.TagCount != 1 {
		t.Fatalf("expected counts copied from census, got %+v", snap)
	}
	if len(g.snapshots) != 1 {
		t.Fatalf("expected snapshot persisted, got %d", len(g.snapshots))
	}
	if len(g.events) != 1 || g.events[0].Kind != domain.EventSnapshotTaken {
		t.Fatalf("expected snapshot.taken event emitted, got %+v", g.events)
	}
}

func TestDiffFallsBackToSyntheticBaselineWithoutSnapshot(t *testing.T) {
	g := &fakeGraph{}
	g.events = append(g.events, domain.Event{Sequence: 1, Kind: domain.EventNodeCreated, EntityID: "n1"})
	g.nextSeq = 1
	svc := &Service{Graph: g}

	result, err := svc.Diff(context.Background(), DiffQuery{Since: time.Now()})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !result.UsedSyntheticBaseline {
		t.Fatal("expected synthetic baseline when no snapshot exists")
	}
	if len(result.NodesAdded) != 1 || result.NodesAdded[0] != "n1" {
		t.Fatalf("expected n1 added, got %+v", result.NodesAdded)
	}
}

func TestDiffReplaysFromBaselineCursor(t *testing.T) {
	g := &fakeGraph{}
	past := time.Now().Add(-time.Hour)
	g.snapshots = append(g.snapshots, domain.Snapshot{ID: "s1", TakenAt: past, ReplayCursor: 2})
	g.events = []domain.Event{
		{Sequence: 1, Kind: domain.EventNodeCreated, EntityID: "old"},
		{Sequence: 2, Kind: domain.EventNodeCreated, EntityID: "old2"},
		{Sequence: 3, Kind: domain.EventNodeCreated, EntityID: "new"},
	}
	g.nextSeq = 3
	svc := &Service{Graph: g}

	result, err := svc.Diff(context.Background(), DiffQuery{Since: time.Now()})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if result.UsedSyntheticBaseline {
		t.Fatal("expected the real snapshot baseline to be used")
	}
	if len(result.NodesAdded) != 1 || result.NodesAdded[0] != "new" {
		t.Fatalf("expected only post-cursor node added, got %+v", result.NodesAdded)
	}
}

func TestDiffNetsOutCreateThenDeleteWithinWindow(t *testing.T) {
	g := &fakeGraph{}
	g.events = []domain.Event{
		{Sequence: 1, Kind: domain.EventNodeCreated, EntityID: "ephemeral"},
		{Sequence: 2, Kind: domain.EventNodeDeleted, EntityID: "ephemeral"},
	}
	g.nextSeq = 2
	svc := &Service{Graph: g}

	result, err := svc.Diff(context.Background(), DiffQuery{Since: time.Now()})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(result.NodesAdded) != 0 || len(result.NodesRemoved) != 0 {
		t.Fatalf("expected create+delete within window to net to nothing, got added=%v removed=%v", result.NodesAdded, result.NodesRemoved)
	}
}

func TestDiffIgnoresEdgeScoreChangeBelowNoise(t *testing.T) {
	g := &fakeGraph{}
	g.events = []domain.Event{
		{Sequence: 1, Kind: domain.EventEdgeUpdated, EntityID: "e1",
			Before: map[string]any{"score": 0.50}, After: map[string]any{"score": 0.51}},
	}
	g.nextSeq = 1
	svc := &Service{Graph: g}

	result, err := svc.Diff(context.Background(), DiffQuery{Since: time.Now(), ScoreNoise: 0.05})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(result.EdgesChanged) != 0 {
		t.Fatalf("expected sub-noise score change ignored, got %+v", result.EdgesChanged)
	}
}

func TestGrowthAppendsLivePoint(t *testing.T) {
	g := &fakeGraph{counts: store.GraphCounts{NodeCount: 10, EdgeCount: 5}}
	past := time.Now().Add(-time.Hour)
	g.snapshots = append(g.snapshots, domain.Snapshot{ID: "s1", TakenAt: past, NodeCount: 1, EdgeCount: 1})

	svc := &Service{Graph: g}
	points, err := svc.Growth(context.Background(), GrowthQuery{Limit: 10})
	if err != nil {
		t.Fatalf("Growth: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected one snapshot point plus one live point, got %d", len(points))
	}
	last := points[len(points)-1]
	if !last.Live || last.NodeCount != 10 {
		t.Fatalf("expected final point to be the live census, got %+v", last)
	}
}

func TestGrowthDownsamplesToLimit(t *testing.T) {
	g := &fakeGraph{}
	base := time.Now().Add(-10 * time.Hour)
	for i := 0; i < 20; i++ {
		g.snapshots = append(g.snapshots, domain.Snapshot{
			ID: "s", TakenAt: base.Add(time.Duration(i) * time.Minute), NodeCount: i,
		})
	}
	svc := &Service{Graph: g}
	points, err := svc.Growth(context.Background(), GrowthQuery{Limit: 5})
	if err != nil {
		t.Fatalf("Growth: %v", err)
	}
	if len(points) != 5 {
		t.Fatalf("expected downsampling to respect limit (including live point), got %d", len(points))
	}
}

func TestShouldAutoSnapshotTrueWhenNeverSnapshotted(t *testing.T) {
	g := &fakeGraph{}
	svc := &Service{Graph: g, Config: domain.DefaultConfig()}
	due, err := svc.ShouldAutoSnapshot(context.Background())
	if err != nil {
		t.Fatalf("ShouldAutoSnapshot: %v", err)
	}
	if !due {
		t.Fatal("expected auto-snapshot due when none has ever been taken")
	}
}

func TestShouldAutoSnapshotTrueOnMutationThreshold(t *testing.T) {
	g := &fakeGraph{counts: store.GraphCounts{NodeCount: 500, EdgeCount: 0}}
	g.snapshots = append(g.snapshots, domain.Snapshot{ID: "s1", TakenAt: time.Now(), NodeCount: 0, EdgeCount: 0})
	cfg := domain.DefaultConfig()
	cfg.AutoSnapshot.IntervalSeconds = 1_000_000 // far in the future, so only the mutation threshold can fire
	cfg.AutoSnapshot.MutationThreshold = 200

	svc := &Service{Graph: g, Config: cfg}
	due, err := svc.ShouldAutoSnapshot(context.Background())
	if err != nil {
		t.Fatalf("ShouldAutoSnapshot: %v", err)
	}
	if !due {
		t.Fatal("expected auto-snapshot due once mutation threshold exceeded")
	}
}

func TestShouldAutoSnapshotFalseWhenRecentAndQuiet(t *testing.T) {
	g := &fakeGraph{counts: store.GraphCounts{NodeCount: 1, EdgeCount: 1}}
	g.snapshots = append(g.snapshots, domain.Snapshot{ID: "s1", TakenAt: time.Now(), NodeCount: 1, EdgeCount: 1})
	cfg := domain.DefaultConfig()

	svc := &Service{Graph: g, Config: cfg}
	due, err := svc.ShouldAutoSnapshot(context.Background())
	if err != nil {
		t.Fatalf("ShouldAutoSnapshot: %v", err)
	}
	if due {
		t.Fatal("expected no auto-snapshot when recent and quiet")
	}
}
