// Package temporal implements the append-only event log's snapshot
// lifecycle: createSnapshot, listSnapshots, diff (event replay), growth (a
// downsampled count timeline), and the auto-snapshot policy check (spec
// §4.J). Grounded on engine/graph.GraphStore's NodeCounts/RelationshipCounts
// census queries, generalized into a point-in-time Snapshot record plus
// replay over internal/store's event log.
package temporal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/internal/store"
	"github.com/google/uuid"
)

// graphCensus abstracts the store.GraphStore operations this package needs.
type graphCensus interface {
	CountsAndDigests(ctx context.Context) (store.GraphCounts, error)
	SaveSnapshot(ctx context.Context, s domain.Snapshot) error
	ListSnapshots(ctx context.Context, limit int) ([]domain.Snapshot, error)
	LatestEventSequence(ctx context.Context) (int64, error)
	EventsSince(ctx context.Context, cursor int64, limit int) ([]domain.Event, error)
	AppendEvent(ctx context.Context, e domain.Event) (int64, error)
}

// eventPublisher abstracts internal/events.Bus.Publish.
type eventPublisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

// Service owns the snapshot/diff/growth/auto-snapshot operations.
type Service struct {
	Graph  graphCensus
	Bus    eventPublisher
	Config domain.Config
	IDGen  func() string
	Now    func() time.Time
}

func (s *Service) idGen() string {
	if s.IDGen != nil {
		return s.IDGen()
	}
	return uuid.NewString()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CreateSnapshot reads current counts and content digests, records a
// Snapshot row stamped with the event log's current cursor, and emits
// snapshot.taken (spec §4.J "createSnapshot").
func (s *Service) CreateSnapshot(ctx context.Context, snapshotType domain.SnapshotType) (domain.Snapshot, error) {
	counts, err := s.Graph.CountsAndDigests(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	cursor, err := s.Graph.LatestEventSequence(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}

	snap := domain.Snapshot{
		ID:           s.idGen(),
		TakenAt:      s.now(),
		SnapshotType: snapshotType,
		NodeCount:    counts.NodeCount,
		EdgeCount:    counts.EdgeCount,
		TagCount:     counts.TagCount,
		NodesDigest:  counts.NodesDigest,
		EdgesDigest:  counts.EdgesDigest,
		TagsDigest:   counts.TagsDigest,
		ReplayCursor: cursor,
	}
	if err := s.Graph.SaveSnapshot(ctx, snap); err != nil {
		return domain.Snapshot{}, err
	}
	if err := s.emit(ctx, domain.EventSnapshotTaken, snap.ID, nil, snapshotAfterMap(snap)); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// ListQuery filters listSnapshots (spec §4.J "listSnapshots").
type ListQuery struct {
	Since        time.Time
	Until        time.Time
	SnapshotType domain.SnapshotType
	Limit        int
}

// ListSnapshots returns snapshots matching the range/type filter, ordered by
// TakenAt descending. Filtering beyond a plain limit happens client-side:
// the store only exposes a limit-bounded fetch, so this over-fetches then
// narrows.
func (s *Service) ListSnapshots(ctx context.Context, q ListQuery) ([]domain.Snapshot, error) {
	fetchLimit := q.Limit
	if fetchLimit <= 0 {
		fetchLimit = 100
	}
	// Range filters may exclude some of what a plain limit-bounded fetch
	// returns, so over-fetch before narrowing and re-truncating.
	all, err := s.Graph.ListSnapshots(ctx, fetchLimit*4)
	if err != nil {
		return nil, err
	}
	var out []domain.Snapshot
	for _, snap := range all {
		if !q.Since.IsZero() && snap.TakenAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && snap.TakenAt.After(q.Until) {
			continue
		}
		if q.SnapshotType != "" && snap.SnapshotType != q.SnapshotType {
			continue
		}
		out = append(out, snap)
		if len(out) >= fetchLimit {
			break
		}
	}
	return out, nil
}

// baseline picks the latest snapshot with TakenAt <= since, or reports none
// found so the caller can fall back to a synthetic empty baseline (spec
// §4.J "diff" step 1).
func (s *Service) baseline(ctx context.Context, since time.Time) (domain.Snapshot, bool, error) {
	snaps, err := s.Graph.ListSnapshots(ctx, 1000)
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	var best domain.Snapshot
	found := false
	for _, snap := range snaps {
		if snap.TakenAt.After(since) {
			continue
		}
		if !found || snap.TakenAt.After(best.TakenAt) {
			best = snap
			found = true
		}
	}
	return best, found, nil
}

// DiffQuery is diff()'s input (spec §4.J "diff").
type DiffQuery struct {
	Since      time.Time
	NodeLimit  int
	EdgeLimit  int
	ScoreNoise float64 // minimum score delta for an edge to count as "changed"
}

// NodeChange summarizes one node.updated event's before/after delta.
type NodeChange struct {
	NoteID string
	Before map[string]any
	After  map[string]any
}

// EdgeChange summarizes one edge.updated event whose score moved by more
// than the noise threshold.
type EdgeChange struct {
	EdgeID     string
	ScoreDelta float64
}

// DiffResult is diff()'s bounded, truncation-annotated output.
type DiffResult struct {
	BaselineSnapshot domain.Snapshot
	UsedSyntheticBaseline bool
	Warning string

	NodesAdded   []string
	NodesRemoved []string
	NodesUpdated []NodeChange
	EdgesAdded   []string
	EdgesRemoved []string
	EdgesChanged []EdgeChange

	NodesAddedTruncated   int
	NodesRemovedTruncated int
	NodesUpdatedTruncated int
	EdgesAddedTruncated   int
	EdgesRemovedTruncated int
	EdgesChangedTruncated int

	BeforeCounts store.GraphCounts
	AfterCounts  store.GraphCounts
}

const defaultDiffLimit = 200

// Diff picks a baseline snapshot, replays the event log from its replay
// cursor to now, and returns bounded add/remove/update/change lists (spec
// §4.J "diff").
func (s *Service) Diff(ctx context.Context, q DiffQuery) (DiffResult, error) {
	nodeLimit := q.NodeLimit
	if nodeLimit <= 0 {
		nodeLimit = defaultDiffLimit
	}
	edgeLimit := q.EdgeLimit
	if edgeLimit <= 0 {
		edgeLimit = defaultDiffLimit
	}

	result := DiffResult{}
	base, found, err := s.baseline(ctx, q.Since)
	if err != nil {
		return DiffResult{}, err
	}
	var cursor int64
	if found {
		result.BaselineSnapshot = base
		cursor = base.ReplayCursor
	} else {
		result.UsedSyntheticBaseline = true
		result.Warning = "no snapshot at or before the requested time; diffing against an empty baseline replays the entire event log"
		cursor = 0
	}

	events, err := s.Graph.EventsSince(ctx, cursor, 0)
	if err != nil {
		return DiffResult{}, err
	}

	nodeCreated := map[string]bool{}
	nodeDeleted := map[string]bool{}
	nodeUpdates := map[string]NodeChange{}
	var nodeUpdateOrder []string
	edgeCreated := map[string]bool{}
	edgeDeleted := map[string]bool{}
	edgeScoreDelta := map[string]float64{}
	var edgeChangeOrder []string

	for _, ev := range events {
		switch ev.Kind {
		case domain.EventNodeCreated:
			nodeCreated[ev.EntityID] = true
		case domain.EventNodeDeleted:
			if nodeCreated[ev.EntityID] {
				// created and deleted within the replay window: nets to no
				// visible change, so undo the creation rather than also
				// recording a removal of something the baseline never saw.
				delete(nodeCreated, ev.EntityID)
				continue
			}
			nodeDeleted[ev.EntityID] = true
		case domain.EventNodeUpdated:
			if nodeCreated[ev.EntityID] {
				continue // still just a creation from the baseline's view
			}
			if mapsDiffer(ev.Before, ev.After) {
				if _, seen := nodeUpdates[ev.EntityID]; !seen {
					nodeUpdateOrder = append(nodeUpdateOrder, ev.EntityID)
				}
				nodeUpdates[ev.EntityID] = NodeChange{NoteID: ev.EntityID, Before: ev.Before, After: ev.After}
			}
		case domain.EventEdgeCreated:
			edgeCreated[ev.EntityID] = true
		case domain.EventEdgeDeleted:
			if edgeCreated[ev.EntityID] {
				delete(edgeCreated, ev.EntityID)
				continue
			}
			edgeDeleted[ev.EntityID] = true
		case domain.EventEdgeUpdated:
			if edgeCreated[ev.EntityID] {
				continue
			}
			delta := scoreDelta(ev.Before, ev.After)
			if _, seen := edgeScoreDelta[ev.EntityID]; !seen {
				edgeChangeOrder = append(edgeChangeOrder, ev.EntityID)
			}
			edgeScoreDelta[ev.EntityID] += delta
		}
	}

	for id := range nodeCreated {
		result.NodesAdded = append(result.NodesAdded, id)
	}
	sort.Strings(result.NodesAdded)
	result.NodesAdded, result.NodesAddedTruncated = truncateStrings(result.NodesAdded, nodeLimit)

	for id := range nodeDeleted {
		result.NodesRemoved = append(result.NodesRemoved, id)
	}
	sort.Strings(result.NodesRemoved)
	result.NodesRemoved, result.NodesRemovedTruncated = truncateStrings(result.NodesRemoved, nodeLimit)

	sort.Strings(nodeUpdateOrder)
	for _, id := range nodeUpdateOrder {
		if len(result.NodesUpdated) >= nodeLimit {
			result.NodesUpdatedTruncated++
			continue
		}
		result.NodesUpdated = append(result.NodesUpdated, nodeUpdates[id])
	}

	for id := range edgeCreated {
		result.EdgesAdded = append(result.EdgesAdded, id)
	}
	sort.Strings(result.EdgesAdded)
	result.EdgesAdded, result.EdgesAddedTruncated = truncateStrings(result.EdgesAdded, edgeLimit)

	for id := range edgeDeleted {
		result.EdgesRemoved = append(result.EdgesRemoved, id)
	}
	sort.Strings(result.EdgesRemoved)
	result.EdgesRemoved, result.EdgesRemovedTruncated = truncateStrings(result.EdgesRemoved, edgeLimit)

	noise := q.ScoreNoise
	sort.Strings(edgeChangeOrder)
	for _, id := range edgeChangeOrder {
		delta := edgeScoreDelta[id]
		if delta < 0 {
			delta = -delta
		}
		if delta <= noise {
			continue
		}
		if len(result.EdgesChanged) >= edgeLimit {
			result.EdgesChangedTruncated++
			continue
		}
		result.EdgesChanged = append(result.EdgesChanged, EdgeChange{EdgeID: id, ScoreDelta: edgeScoreDelta[id]})
	}

	afterCounts, err := s.Graph.CountsAndDigests(ctx)
	if err != nil {
		return DiffResult{}, err
	}
	result.AfterCounts = afterCounts
	if found {
		result.BeforeCounts = store.GraphCounts{
			NodeCount:   base.NodeCount,
			EdgeCount:   base.EdgeCount,
			TagCount:    base.TagCount,
			NodesDigest: base.NodesDigest,
			EdgesDigest: base.EdgesDigest,
			TagsDigest:  base.TagsDigest,
		}
	}
	return result, nil
}

// GrowthPoint is one timeline entry in growth()'s output.
type GrowthPoint struct {
	TakenAt   time.Time
	NodeCount int
	EdgeCount int
	TagCount  int
	Live      bool
}

// GrowthQuery is growth()'s input (spec §4.J "growth").
type GrowthQuery struct {
	Since time.Time
	Until time.Time
	Limit int
}

const defaultGrowthLimit = 50

// Growth returns a downsampled (takenAt, nodeCount, edgeCount, tagCount)
// timeline from snapshots in [Since, Until], plus a synthetic "live" point
// at the current instant (spec §4.J "growth").
func (s *Service) Growth(ctx context.Context, q GrowthQuery) ([]GrowthPoint, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultGrowthLimit
	}

	snaps, err := s.Graph.ListSnapshots(ctx, 10000)
	if err != nil {
		return nil, err
	}
	var inRange []domain.Snapshot
	for _, snap := range snaps {
		if !q.Since.IsZero() && snap.TakenAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && snap.TakenAt.After(q.Until) {
			continue
		}
		inRange = append(inRange, snap)
	}
	sort.Slice(inRange, func(i, j int) bool { return inRange[i].TakenAt.Before(inRange[j].TakenAt) })

	// Reserve one slot for the synthetic live point.
	budget := limit - 1
	if budget < 0 {
		budget = 0
	}
	sampled := downsample(inRange, budget)

	points := make([]GrowthPoint, 0, len(sampled)+1)
	for _, snap := range sampled {
		points = append(points, GrowthPoint{TakenAt: snap.TakenAt, NodeCount: snap.NodeCount, EdgeCount: snap.EdgeCount, TagCount: snap.TagCount})
	}

	live, err := s.Graph.CountsAndDigests(ctx)
	if err != nil {
		return nil, err
	}
	points = append(points, GrowthPoint{TakenAt: s.now(), NodeCount: live.NodeCount, EdgeCount: live.EdgeCount, TagCount: live.TagCount, Live: true})
	return points, nil
}

// downsample picks up to n evenly-spaced elements from sorted, always
// keeping the first and last when n >= 2.
func downsample(sorted []domain.Snapshot, n int) []domain.Snapshot {
	if n <= 0 || len(sorted) == 0 {
		return nil
	}
	if len(sorted) <= n {
		return sorted
	}
	out := make([]domain.Snapshot, 0, n)
	if n == 1 {
		return append(out, sorted[len(sorted)-1])
	}
	step := float64(len(sorted)-1) / float64(n-1)
	for i := 0; i < n; i++ {
		idx := int(float64(i) * step)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		out = append(out, sorted[idx])
	}
	return out
}

// ShouldAutoSnapshot reports whether the configured auto-snapshot policy
// (spec §4.J "Auto-snapshot policy") fires: either the wall-clock interval
// has elapsed since the last snapshot of any type, or the cumulative
// node+edge delta exceeds the mutation threshold.
func (s *Service) ShouldAutoSnapshot(ctx context.Context) (bool, error) {
	policy := s.Config.AutoSnapshot
	snaps, err := s.Graph.ListSnapshots(ctx, 1)
	if err != nil {
		return false, err
	}
	if len(snaps) == 0 {
		return true, nil // never snapshotted: always due
	}
	last := snaps[0]

	if policy.IntervalSeconds > 0 {
		elapsed := s.now().Sub(last.TakenAt)
		if elapsed >= time.Duration(policy.IntervalSeconds)*time.Second {
			return true, nil
		}
	}

	if policy.MutationThreshold > 0 {
		current, err := s.Graph.CountsAndDigests(ctx)
		if err != nil {
			return false, err
		}
		delta := abs(current.NodeCount-last.NodeCount) + abs(current.EdgeCount-last.EdgeCount)
		if delta > policy.MutationThreshold {
			return true, nil
		}
	}
	return false, nil
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

func snapshotAfterMap(snap domain.Snapshot) map[string]any {
	return map[string]any{
		"id":             snap.ID,
		"snapshot_type":  string(snap.SnapshotType),
		"node_count":     snap.NodeCount,
		"edge_count":     snap.EdgeCount,
		"tag_count":      snap.TagCount,
		"replay_cursor":  snap.ReplayCursor,
	}
}

// mapsDiffer reports whether two event before/after snapshots disagree on
// any key, used to decide whether a node.updated event represents a visible
// change (spec §4.J "updated = title/body/tags changed").
func mapsDiffer(a, b map[string]any) bool {
	if len(a) != len(b) {
		return true // differing key sets (e.g. a field only present on one side) counts as a change
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok || fmt.Sprintf("%v", v) != fmt.Sprintf("%v", ov) {
			return true
		}
	}
	return false
}

func scoreDelta(before, after map[string]any) float64 {
	bv, _ := before["score"].(float64)
	av, _ := after["score"].(float64)
	return av - bv
}

func truncateStrings(items []string, limit int) ([]string, int) {
	if len(items) <= limit {
		return items, 0
	}
	return items[:limit], len(items) - limit
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
